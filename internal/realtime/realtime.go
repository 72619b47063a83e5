// Package realtime pushes batch changes to live subscribers. Delivery is best
// effort with no replay: subscribers reconcile with a full fetch on connect.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind names an event type on a channel.
type Kind string

const (
	KindNewOrder     Kind = "new-order"
	KindOrderUpdate  Kind = "order-update"
	KindNotification Kind = "notification"

	// AnyKind subscribes to every kind on a channel.
	AnyKind Kind = ""
)

// KitchenChannel receives every batch change.
const KitchenChannel = "orders"

const customerPrefix = "user:"

// CustomerChannel names the private channel of a customer.
func CustomerChannel(customerID string) string {
	return customerPrefix + customerID
}

// CustomerFromChannel extracts the customer id of a private channel.
func CustomerFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, customerPrefix)
	return id, ok && id != ""
}

var (
	// ErrTransportUnavailable wraps every publish or subscribe failure.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrClosed is returned once a transport has shut down.
	ErrClosed = errors.New("transport closed")
)

// Event is the envelope carried on a channel.
type Event struct {
	Channel     string          `json:"channel"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler receives events for one subscription, one at a time and in publish order.
type Handler func(Event)

// Unsubscribe tears a subscription down. Calling it twice is safe.
type Unsubscribe func()

// Transport is the pub/sub collaborator.
type Transport interface {
	Publish(ctx context.Context, channel string, kind Kind, payload any) error
	Subscribe(ctx context.Context, channel string, kind Kind, handler Handler) (Unsubscribe, error)
}

// Notification is the compact message shown to a customer.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func newEvent(channel string, kind Kind, payload any) (Event, error) {
	if channel == "" {
		return Event{}, fmt.Errorf("%w: empty channel", ErrTransportUnavailable)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Event{Channel: channel, Kind: kind, Payload: raw, PublishedAt: time.Now().UTC()}, nil
}

func matches(want, got Kind) bool {
	return want == AnyKind || want == got
}

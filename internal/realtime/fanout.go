package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/Additional-Code/bono/internal/dto"
	"github.com/Additional-Code/bono/internal/lifecycle"
)

// Fanout decides which channels hear about a batch change.
type Fanout struct {
	transport Transport
}

// NewFanout builds a Fanout over transport.
func NewFanout(transport Transport) *Fanout {
	return &Fanout{transport: transport}
}

// BatchCreated announces a fresh batch to the kitchen.
func (f *Fanout) BatchCreated(ctx context.Context, b dto.BatchResponse) error {
	return f.publish(ctx, KitchenChannel, KindNewOrder, b)
}

// BatchUpdated announces a committed transition to the kitchen and, when the
// edge makes the batch ready for pickup, notifies the owning customer.
// Both publishes are attempted even if the first fails.
func (f *Fanout) BatchUpdated(ctx context.Context, b dto.BatchResponse, edge lifecycle.Edge) error {
	err := f.publish(ctx, KitchenChannel, KindOrderUpdate, b)
	if edge.Effect == lifecycle.EffectNotifyCustomer && b.CustomerID != "" {
		err = errors.Join(err, f.publish(ctx, CustomerChannel(b.CustomerID), KindNotification, ReadyNotification(b)))
	}
	return err
}

// ReadyNotification is the message a customer gets when the kitchen finishes.
func ReadyNotification(b dto.BatchResponse) Notification {
	body := "Your order is ready for pickup."
	if b.BonoNumber != nil {
		body = fmt.Sprintf("Bono #%d is ready for pickup.", *b.BonoNumber)
	}
	return Notification{Title: "Order ready", Body: body}
}

func (f *Fanout) publish(ctx context.Context, channel string, kind Kind, payload any) error {
	if err := f.transport.Publish(ctx, channel, kind, payload); err != nil {
		if errors.Is(err, ErrTransportUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %s on %s: %v", ErrTransportUnavailable, kind, channel, err)
	}
	return nil
}

package order

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/bono/internal/auth"
	"github.com/Additional-Code/bono/internal/batch"
	"github.com/Additional-Code/bono/internal/bono"
	"github.com/Additional-Code/bono/internal/cache"
	"github.com/Additional-Code/bono/internal/clock"
	"github.com/Additional-Code/bono/internal/entity"
	"github.com/Additional-Code/bono/internal/lifecycle"
	"github.com/Additional-Code/bono/internal/messaging"
	"github.com/Additional-Code/bono/internal/realtime"
	repo "github.com/Additional-Code/bono/internal/repository/order"
	"github.com/Additional-Code/bono/pkg/errorbank"
)

var (
	kitchen  = auth.Caller{ID: "k1", Name: "Kitchen", Role: lifecycle.RoleKitchen}
	admin    = auth.Caller{ID: "a1", Name: "Admin", Role: lifecycle.RoleAdmin}
	customer = auth.Caller{ID: "c1", Name: "Ana", Role: lifecycle.RoleCustomer}
	stranger = auth.Caller{ID: "c2", Name: "Ben", Role: lifecycle.RoleCustomer}
)

type txMarker struct{}

// fakeStore keeps lines in memory. WithTx holds a global lock for the whole
// transaction and restores the snapshot when fn fails.
type fakeStore struct {
	txMu sync.Mutex

	mu       sync.Mutex
	lines    []entity.OrderLine
	logs     []entity.BatchStatusLog
	nextID   int64
	lastBono int
	foods    map[string]entity.Food
	users    map[string]entity.User

	findErr   error
	createErr error
}

func newFakeStore(lastBono int) *fakeStore {
	return &fakeStore{
		lastBono: lastBono,
		foods:    testFoods(),
		users: map[string]entity.User{
			customer.ID: {ID: customer.ID, Name: customer.Name, Role: customer.Role},
			stranger.ID: {ID: stranger.ID, Name: stranger.Name, Role: stranger.Role},
		},
	}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}
	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.mu.Lock()
	snapshot := append([]entity.OrderLine(nil), f.lines...)
	lastBono := f.lastBono
	f.mu.Unlock()

	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		f.mu.Lock()
		f.lines = snapshot
		f.lastBono = lastBono
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeStore) CreateLines(_ context.Context, batchID string, lines []entity.OrderLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, l := range lines {
		f.nextID++
		l.ID = f.nextID
		l.BatchID = batchID
		f.lines = append(f.lines, l)
	}
	return nil
}

func (f *fakeStore) FindLines(_ context.Context, filter repo.LineFilter) ([]entity.OrderLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}

	statuses := make(map[lifecycle.Status]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = true
	}

	var out []entity.OrderLine
	for _, l := range f.lines {
		if filter.BatchID != "" && l.BatchID != filter.BatchID {
			continue
		}
		if filter.CustomerID != "" && l.CustomerID != filter.CustomerID {
			continue
		}
		if len(statuses) > 0 && !statuses[l.Status] {
			continue
		}
		if !filter.CreatedFrom.IsZero() && l.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && !l.CreatedAt.Before(filter.CreatedTo) {
			continue
		}
		if food, ok := f.foods[l.FoodID]; ok {
			l.Food = &food
		}
		if u, ok := f.users[l.CustomerID]; ok {
			l.Customer = &u
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		if out[i].BatchID != out[j].BatchID {
			return out[i].BatchID < out[j].BatchID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) LockBatch(_ context.Context, batchID string) ([]entity.OrderLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.OrderLine
	for _, l := range f.lines {
		if l.BatchID == batchID {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil, repo.ErrNotFound
	}
	return out, nil
}

func (f *fakeStore) UpdateLinesByBatch(_ context.Context, batchID string, patch repo.BatchPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := false
	for i := range f.lines {
		if f.lines[i].BatchID != batchID {
			continue
		}
		found = true
		f.lines[i].Status = patch.Status
		f.lines[i].UpdatedAt = patch.UpdatedAt
		if patch.BonoNumber != nil {
			n := *patch.BonoNumber
			f.lines[i].BonoNumber = &n
		}
	}
	if !found {
		return repo.ErrNotFound
	}
	return nil
}

func (f *fakeStore) NextBono(_ context.Context, max int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBono = bono.Next(f.lastBono, max)
	return f.lastBono, nil
}

func (f *fakeStore) StatusLog(_ context.Context, batchID string) ([]entity.BatchStatusLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.BatchStatusLog
	for _, e := range f.logs {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) statusOf(batchID string) (lifecycle.Status, *int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.lines {
		if l.BatchID == batchID {
			return l.Status, l.BonoNumber
		}
	}
	return "", nil
}

func (f *fakeStore) lineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lines)
}

func (f *fakeStore) last() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBono
}

type fakeCatalog struct {
	foods map[string]entity.Food
}

func (c fakeCatalog) FindFoods(_ context.Context, ids []string) (map[string]entity.Food, error) {
	out := make(map[string]entity.Food)
	for _, id := range ids {
		if f, ok := c.foods[id]; ok {
			out[id] = f
		}
	}
	return out, nil
}

func (c fakeCatalog) ListAvailable(context.Context) ([]entity.Food, error) {
	var out []entity.Food
	for _, f := range c.foods {
		if f.Available {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func testFoods() map[string]entity.Food {
	return map[string]entity.Food{
		"coffee": {ID: "coffee", Name: "Coffee", Price: decimal.NewFromInt(50), Available: true},
		"bagel":  {ID: "bagel", Name: "Bagel", Price: decimal.RequireFromString("32.50"), Available: true},
		"stew":   {ID: "stew", Name: "Stew", Price: decimal.NewFromInt(90), Available: false},
	}
}

type publishedEvent struct {
	channel string
	kind    realtime.Kind
	payload any
}

type recordingTransport struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (r *recordingTransport) Publish(_ context.Context, channel string, kind realtime.Kind, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, publishedEvent{channel: channel, kind: kind, payload: payload})
	return r.err
}

func (r *recordingTransport) Subscribe(context.Context, string, realtime.Kind, realtime.Handler) (realtime.Unsubscribe, error) {
	return func() {}, nil
}

func (r *recordingTransport) on(channel string) []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []publishedEvent
	for _, e := range r.events {
		if e.channel == channel {
			out = append(out, e)
		}
	}
	return out
}

type recordingBus struct {
	mu   sync.Mutex
	msgs []messaging.Message
}

func (b *recordingBus) Publish(_ context.Context, msg messaging.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return nil
}

func (b *recordingBus) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *recordingBus) Topic() string { return "orders.events" }

func (b *recordingBus) decoded(t *testing.T) []BatchEvent {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BatchEvent, 0, len(b.msgs))
	for _, m := range b.msgs {
		var e BatchEvent
		if err := json.Unmarshal(m.Value, &e); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if string(m.Key) != e.BatchID {
			t.Fatalf("expected key %q, got %q", e.BatchID, m.Key)
		}
		out = append(out, e)
	}
	return out
}

type harness struct {
	svc       *Service
	store     *fakeStore
	transport *recordingTransport
	bus       *recordingBus
	clock     *clock.Fixed
}

func newHarness(lastBono int) *harness {
	h := &harness{
		store:     newFakeStore(lastBono),
		transport: &recordingTransport{},
		bus:       &recordingBus{},
		clock:     clock.NewFixed(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
	}
	h.svc = New(Dependencies{
		Store:          h.store,
		Catalog:        fakeCatalog{foods: testFoods()},
		Fanout:         realtime.NewFanout(h.transport),
		Events:         h.bus,
		Cache:          cache.NewMemory(time.Minute),
		Clock:          h.clock,
		BonoMax:        bono.DefaultMax,
		ActiveCacheTTL: time.Minute,
	})
	return h
}

func (h *harness) checkout(t *testing.T, caller auth.Caller, cart ...batch.CartLine) batch.Batch {
	t.Helper()
	b, err := h.svc.Checkout(context.Background(), caller, cart)
	if err != nil {
		t.Fatalf("checkout: expected no error, got %v", err)
	}
	return b
}

func (h *harness) move(t *testing.T, batchID string, to ...lifecycle.Status) batch.Batch {
	t.Helper()
	var b batch.Batch
	for _, s := range to {
		var err error
		b, err = h.svc.Transition(context.Background(), kitchen, batchID, s)
		if err != nil {
			t.Fatalf("transition to %s: expected no error, got %v", s, err)
		}
	}
	return b
}

func assertCode(t *testing.T, err error, wantKind errorbank.Kind, wantCode string) {
	t.Helper()
	var appErr *errorbank.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Kind() != wantKind || appErr.Code() != wantCode {
		t.Fatalf("expected %s/%s, got %s/%s (%v)", wantKind, wantCode, appErr.Kind(), appErr.Code(), err)
	}
}

func TestCheckout_CoffeeTwice(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	b := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 2})

	if b.ID == "" {
		t.Fatalf("expected batch id")
	}
	if b.Status != lifecycle.StatusPending {
		t.Fatalf("expected PENDING, got %s", b.Status)
	}
	if b.BonoNumber != nil {
		t.Fatalf("expected no bono, got %d", *b.BonoNumber)
	}
	if !b.Total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected total 100, got %s", b.Total)
	}
	if len(b.Items) != 1 || b.Items[0].FoodName != "Coffee" {
		t.Fatalf("expected one coffee item, got %+v", b.Items)
	}
	if b.CustomerName != "Ana" {
		t.Fatalf("expected customer name Ana, got %q", b.CustomerName)
	}

	kitchenEvents := h.transport.on(realtime.KitchenChannel)
	if len(kitchenEvents) != 1 || kitchenEvents[0].kind != realtime.KindNewOrder {
		t.Fatalf("expected one new-order on kitchen channel, got %+v", kitchenEvents)
	}
	if got := h.transport.on(realtime.CustomerChannel(customer.ID)); len(got) != 0 {
		t.Fatalf("expected nothing on customer channel, got %+v", got)
	}

	events := h.bus.decoded(t)
	if len(events) != 1 || events[0].Type != EventBatchCreated || events[0].To != lifecycle.StatusPending {
		t.Fatalf("expected one batch.created event, got %+v", events)
	}
}

func TestCheckout_LinesShareBatchAndSumTotals(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	b := h.checkout(t, customer,
		batch.CartLine{FoodID: "coffee", Quantity: 1},
		batch.CartLine{FoodID: "bagel", Quantity: 2},
		batch.CartLine{FoodID: "coffee", Quantity: 3},
	)

	if len(b.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(b.Items))
	}
	want := decimal.RequireFromString("265")
	if !b.Total.Equal(want) {
		t.Fatalf("expected total %s, got %s", want, b.Total)
	}
	lines, _ := h.store.FindLines(context.Background(), repo.LineFilter{BatchID: b.ID})
	for _, l := range lines {
		if !l.LineTotal.Equal(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))) {
			t.Fatalf("expected line total = qty x unit price, got %+v", l)
		}
		if l.Status != lifecycle.StatusPending || l.BonoNumber != nil {
			t.Fatalf("expected PENDING line without bono, got %+v", l)
		}
	}
}

func TestCheckout_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cart     []batch.CartLine
		wantCode string
		wantErr  error
	}{
		{name: "empty cart", cart: nil, wantCode: "empty_cart", wantErr: batch.ErrEmptyCart},
		{name: "unknown food", cart: []batch.CartLine{{FoodID: "coffee", Quantity: 1}, {FoodID: "pizza", Quantity: 1}}, wantCode: "invalid_item", wantErr: batch.ErrInvalidItem},
		{name: "unavailable food", cart: []batch.CartLine{{FoodID: "stew", Quantity: 1}}, wantCode: "invalid_item", wantErr: batch.ErrInvalidItem},
		{name: "zero quantity", cart: []batch.CartLine{{FoodID: "coffee", Quantity: 0}}, wantCode: "invalid_item", wantErr: batch.ErrInvalidItem},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(0)
			_, err := h.svc.Checkout(context.Background(), customer, tc.cart)
			assertCode(t, err, errorbank.KindUnprocessableEntity, tc.wantCode)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v in chain, got %v", tc.wantErr, err)
			}
			if n := h.store.lineCount(); n != 0 {
				t.Fatalf("expected no stored lines, got %d", n)
			}
			if len(h.transport.on(realtime.KitchenChannel)) != 0 {
				t.Fatalf("expected no publish on failed checkout")
			}
		})
	}
}

func TestCheckout_StoreFailureStoresNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.store.createErr = errors.New("disk full")

	_, err := h.svc.Checkout(context.Background(), customer, []batch.CartLine{{FoodID: "coffee", Quantity: 1}})
	assertCode(t, err, errorbank.KindInternal, "internal")
	if len(h.transport.on(realtime.KitchenChannel)) != 0 {
		t.Fatalf("expected no publish on failed checkout")
	}
}

func TestTransition_AcceptAllocatesNextBono(t *testing.T) {
	t.Parallel()

	h := newHarness(10)
	b := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})

	accepted := h.move(t, b.ID, lifecycle.StatusAccepted)
	if accepted.Status != lifecycle.StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", accepted.Status)
	}
	if accepted.BonoNumber == nil || *accepted.BonoNumber != 11 {
		t.Fatalf("expected bono 11, got %v", accepted.BonoNumber)
	}

	events := h.bus.decoded(t)
	last := events[len(events)-1]
	if last.Type != EventBatchTransitioned || last.From != lifecycle.StatusPending || last.To != lifecycle.StatusAccepted {
		t.Fatalf("unexpected event %+v", last)
	}
	if last.BonoNumber == nil || *last.BonoNumber != 11 || last.ActorID != kitchen.ID {
		t.Fatalf("expected bono 11 by kitchen in event, got %+v", last)
	}
}

func TestTransition_DoubleAcceptFailsWithoutSecondBono(t *testing.T) {
	t.Parallel()

	h := newHarness(10)
	b := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})
	h.move(t, b.ID, lifecycle.StatusAccepted)

	_, err := h.svc.Transition(context.Background(), kitchen, b.ID, lifecycle.StatusAccepted)
	assertCode(t, err, errorbank.KindConflict, "invalid_transition")
	if !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition in chain, got %v", err)
	}
	var appErr *errorbank.AppError
	errors.As(err, &appErr)
	if appErr.Message() != "invalid transition" {
		t.Fatalf("expected message %q, got %q", "invalid transition", appErr.Message())
	}
	if d := appErr.Details(); d["from"] != "ACCEPTED" || d["to"] != "ACCEPTED" {
		t.Fatalf("expected from/to details ACCEPTED, got %v", d)
	}
	if n := strings.Count(err.Error(), "ACCEPTED -> ACCEPTED"); n != 1 {
		t.Fatalf("expected the edge once in %q, got %d", err.Error(), n)
	}
	if got := h.store.last(); got != 11 {
		t.Fatalf("expected counter to stay at 11, got %d", got)
	}
	_, n := h.store.statusOf(b.ID)
	if n == nil || *n != 11 {
		t.Fatalf("expected stored bono 11, got %v", n)
	}
}

func TestTransition_BonoWrapsAfterMax(t *testing.T) {
	t.Parallel()

	h := newHarness(100)
	b := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})

	accepted := h.move(t, b.ID, lifecycle.StatusAccepted)
	if accepted.BonoNumber == nil || *accepted.BonoNumber != 1 {
		t.Fatalf("expected bono 1 after 100, got %v", accepted.BonoNumber)
	}
}

func TestTransition_BonoSequenceStaysInRange(t *testing.T) {
	t.Parallel()

	h := newHarness(95)
	want := []int{96, 97, 98, 99, 100, 1, 2}
	for i, w := range want {
		b := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})
		accepted := h.move(t, b.ID, lifecycle.StatusAccepted)
		if accepted.BonoNumber == nil || *accepted.BonoNumber != w {
			t.Fatalf("accept %d: expected bono %d, got %v", i, w, accepted.BonoNumber)
		}
	}
}

func TestTransition_Rules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		setup    []lifecycle.Status
		caller   auth.Caller
		target   lifecycle.Status
		wantKind errorbank.Kind
		wantCode string
	}{
		{name: "customer cannot accept", caller: customer, target: lifecycle.StatusAccepted, wantKind: errorbank.KindForbidden, wantCode: "forbidden"},
		{name: "pending to completed", caller: kitchen, target: lifecycle.StatusCompleted, wantKind: errorbank.KindConflict, wantCode: "invalid_transition"},
		{name: "rejected to accepted", setup: []lifecycle.Status{lifecycle.StatusRejected}, caller: kitchen, target: lifecycle.StatusAccepted, wantKind: errorbank.KindConflict, wantCode: "invalid_transition"},
		{name: "delivered is terminal", setup: []lifecycle.Status{lifecycle.StatusAccepted, lifecycle.StatusCompleted, lifecycle.StatusDelivered}, caller: admin, target: lifecycle.StatusReturned, wantKind: errorbank.KindConflict, wantCode: "invalid_transition"},
		{name: "unknown status", caller: kitchen, target: lifecycle.Status("COOKING"), wantKind: errorbank.KindBadRequest, wantCode: "unknown_status"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(10)
			b := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})
			h.move(t, b.ID, tc.setup...)
			before, beforeBono := h.store.statusOf(b.ID)
			lastBefore := h.store.last()

			_, err := h.svc.Transition(context.Background(), tc.caller, b.ID, tc.target)
			assertCode(t, err, tc.wantKind, tc.wantCode)

			after, afterBono := h.store.statusOf(b.ID)
			if after != before {
				t.Fatalf("expected status to stay %s, got %s", before, after)
			}
			if (beforeBono == nil) != (afterBono == nil) {
				t.Fatalf("expected bono unchanged, got %v -> %v", beforeBono, afterBono)
			}
			if h.store.last() != lastBefore {
				t.Fatalf("expected counter unchanged")
			}
		})
	}
}

func TestTransition_UnknownBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	_, err := h.svc.Transition(context.Background(), kitchen, "missing", lifecycle.StatusAccepted)
	assertCode(t, err, errorbank.KindNotFound, "not_found")
}

func TestTransition_FullHappyPath(t *testing.T) {
	t.Parallel()

	for _, end := range []lifecycle.Status{lifecycle.StatusDelivered, lifecycle.StatusReturned} {
		h := newHarness(0)
		b := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})
		final := h.move(t, b.ID, lifecycle.StatusAccepted, lifecycle.StatusCompleted, end)
		if final.Status != end {
			t.Fatalf("expected %s, got %s", end, final.Status)
		}
		if final.BonoNumber == nil || *final.BonoNumber != 1 {
			t.Fatalf("expected bono to persist through lifecycle, got %v", final.BonoNumber)
		}
	}
}

func TestTransition_NotificationOnlyAfterCompleted(t *testing.T) {
	t.Parallel()

	h := newHarness(41)
	b := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})
	userChannel := realtime.CustomerChannel(customer.ID)

	h.move(t, b.ID, lifecycle.StatusAccepted)
	if got := h.transport.on(userChannel); len(got) != 0 {
		t.Fatalf("expected no notification after accept, got %+v", got)
	}

	h.move(t, b.ID, lifecycle.StatusCompleted)
	got := h.transport.on(userChannel)
	if len(got) != 1 || got[0].kind != realtime.KindNotification {
		t.Fatalf("expected one notification after complete, got %+v", got)
	}
	note, ok := got[0].payload.(realtime.Notification)
	if !ok {
		t.Fatalf("expected Notification payload, got %T", got[0].payload)
	}
	if note.Body != "Bono #42 is ready for pickup." {
		t.Fatalf("unexpected notification body %q", note.Body)
	}

	h.move(t, b.ID, lifecycle.StatusDelivered)
	if got := h.transport.on(userChannel); len(got) != 1 {
		t.Fatalf("expected no further notifications, got %d", len(got))
	}

	updates := 0
	for _, e := range h.transport.on(realtime.KitchenChannel) {
		if e.kind == realtime.KindOrderUpdate {
			updates++
		}
	}
	if updates != 3 {
		t.Fatalf("expected 3 order-update events on kitchen channel, got %d", updates)
	}
}

func TestTransition_PublishFailureKeepsCommit(t *testing.T) {
	t.Parallel()

	h := newHarness(10)
	b := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})
	h.transport.mu.Lock()
	h.transport.err = errors.New("redis down")
	h.transport.mu.Unlock()

	accepted, err := h.svc.Transition(context.Background(), kitchen, b.ID, lifecycle.StatusAccepted)
	if err != nil {
		t.Fatalf("expected publish failure to be swallowed, got %v", err)
	}
	if accepted.BonoNumber == nil || *accepted.BonoNumber != 11 {
		t.Fatalf("expected bono 11, got %v", accepted.BonoNumber)
	}
	status, _ := h.store.statusOf(b.ID)
	if status != lifecycle.StatusAccepted {
		t.Fatalf("expected stored status ACCEPTED, got %s", status)
	}
}

func TestTransition_ConcurrentAcceptsGetDistinctBonos(t *testing.T) {
	t.Parallel()

	h := newHarness(10)
	first := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})
	second := h.checkout(t, stranger, batch.CartLine{FoodID: "bagel", Quantity: 1})

	var wg sync.WaitGroup
	results := make([]batch.Batch, 2)
	errs := make([]error, 2)
	for i, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], errs[i] = h.svc.Transition(context.Background(), kitchen, id, lifecycle.StatusAccepted)
		}(i, id)
	}
	wg.Wait()

	got := make(map[int]bool)
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("accept %d: expected no error, got %v", i, errs[i])
		}
		if results[i].BonoNumber == nil {
			t.Fatalf("accept %d: expected bono", i)
		}
		got[*results[i].BonoNumber] = true
	}
	if !got[11] || !got[12] {
		t.Fatalf("expected bonos 11 and 12, got %v", got)
	}
}

func TestTransition_ConcurrentAcceptsOfOneBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(10)
	b := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Transition(context.Background(), kitchen, b.ID, lifecycle.StatusAccepted)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, lifecycle.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition for losers, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful accept, got %d", succeeded)
	}
	if got := h.store.last(); got != 11 {
		t.Fatalf("expected a single allocation, counter at %d", got)
	}
}

func TestListActive(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	pending := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})
	h.clock.Advance(time.Minute)
	accepted := h.checkout(t, customer, batch.CartLine{FoodID: "bagel", Quantity: 1})
	h.clock.Advance(time.Minute)
	rejected := h.checkout(t, stranger, batch.CartLine{FoodID: "coffee", Quantity: 1})
	h.move(t, accepted.ID, lifecycle.StatusAccepted)
	h.move(t, rejected.ID, lifecycle.StatusRejected)

	if _, err := h.svc.ListActive(context.Background(), customer, nil); err == nil {
		t.Fatalf("expected customers to be forbidden")
	}

	board, err := h.svc.ListActive(context.Background(), kitchen, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ids := make(map[string]lifecycle.Status)
	for _, b := range board {
		ids[b.ID] = b.Status
	}
	if len(ids) != 2 || ids[pending.ID] != lifecycle.StatusPending || ids[accepted.ID] != lifecycle.StatusAccepted {
		t.Fatalf("unexpected board %+v", ids)
	}

	only, err := h.svc.ListActive(context.Background(), kitchen, []lifecycle.Status{lifecycle.StatusPending})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(only) != 1 || only[0].ID != pending.ID {
		t.Fatalf("expected only the pending batch, got %+v", only)
	}
}

func TestListActive_CacheInvalidatedOnWrite(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	b := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})

	if _, err := h.svc.ListActive(context.Background(), kitchen, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	h.move(t, b.ID, lifecycle.StatusAccepted)

	board, err := h.svc.ListActive(context.Background(), kitchen, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(board) != 1 || board[0].Status != lifecycle.StatusAccepted {
		t.Fatalf("expected fresh ACCEPTED batch, got %+v", board)
	}
	if board[0].BonoNumber == nil || *board[0].BonoNumber != 1 {
		t.Fatalf("expected bono 1 on board, got %v", board[0].BonoNumber)
	}
}

// interleavedStore runs during once, right after the next FindLines has
// read its rows, to model a write committing while a board is being loaded.
type interleavedStore struct {
	*fakeStore
	during func()
}

func (s *interleavedStore) FindLines(ctx context.Context, filter repo.LineFilter) ([]entity.OrderLine, error) {
	out, err := s.fakeStore.FindLines(ctx, filter)
	if hook := s.during; hook != nil {
		s.during = nil
		hook()
	}
	return out, err
}

func TestListActive_WriteDuringReadIsNotCached(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	store := &interleavedStore{fakeStore: h.store}
	svc := New(Dependencies{
		Store:          store,
		Catalog:        fakeCatalog{foods: testFoods()},
		Fanout:         realtime.NewFanout(h.transport),
		Cache:          cache.NewMemory(time.Minute),
		Clock:          h.clock,
		BonoMax:        bono.DefaultMax,
		ActiveCacheTTL: time.Minute,
	})

	created, err := svc.Checkout(context.Background(), customer, []batch.CartLine{{FoodID: "coffee", Quantity: 1}})
	if err != nil {
		t.Fatalf("checkout: expected no error, got %v", err)
	}

	store.during = func() {
		if _, err := svc.Transition(context.Background(), kitchen, created.ID, lifecycle.StatusAccepted); err != nil {
			t.Errorf("transition: expected no error, got %v", err)
		}
	}
	stale, err := svc.ListActive(context.Background(), kitchen, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(stale) != 1 || stale[0].Status != lifecycle.StatusPending {
		t.Fatalf("expected the in-flight read to see PENDING, got %+v", stale)
	}

	board, err := svc.ListActive(context.Background(), kitchen, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(board) != 1 || board[0].Status != lifecycle.StatusAccepted {
		t.Fatalf("expected ACCEPTED after the concurrent write, got %+v", board)
	}
	if board[0].BonoNumber == nil || *board[0].BonoNumber != 1 {
		t.Fatalf("expected bono 1, got %v", board[0].BonoNumber)
	}
}

func TestListActive_ServesCachedBoardUntilWrite(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})

	if _, err := h.svc.ListActive(context.Background(), kitchen, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	h.store.findErr = errors.New("database gone")

	board, err := h.svc.ListActive(context.Background(), kitchen, nil)
	if err != nil {
		t.Fatalf("expected cached board, got %v", err)
	}
	if len(board) != 1 {
		t.Fatalf("expected one cached batch, got %+v", board)
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	b := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})

	if _, err := h.svc.Get(context.Background(), customer, b.ID); err != nil {
		t.Fatalf("owner: expected no error, got %v", err)
	}
	if _, err := h.svc.Get(context.Background(), kitchen, b.ID); err != nil {
		t.Fatalf("kitchen: expected no error, got %v", err)
	}
	_, err := h.svc.Get(context.Background(), stranger, b.ID)
	assertCode(t, err, errorbank.KindForbidden, "forbidden")

	_, err = h.svc.Get(context.Background(), kitchen, "missing")
	assertCode(t, err, errorbank.KindNotFound, "not_found")
}

func TestListCustomer_FiltersByOwnerAndDay(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	yesterday := h.checkout(t, customer, batch.CartLine{FoodID: "coffee", Quantity: 1})
	h.clock.Advance(24 * time.Hour)
	today := h.checkout(t, customer, batch.CartLine{FoodID: "bagel", Quantity: 1})
	h.checkout(t, stranger, batch.CartLine{FoodID: "coffee", Quantity: 1})

	all, err := h.svc.ListCustomer(context.Background(), customer, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 own batches, got %d", len(all))
	}
	if all[0].ID != today.ID || all[1].ID != yesterday.ID {
		t.Fatalf("expected newest first, got %s then %s", all[0].ID, all[1].ID)
	}

	day := h.clock.Now()
	onDay, err := h.svc.ListCustomer(context.Background(), customer, &day)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(onDay) != 1 || onDay[0].ID != today.ID {
		t.Fatalf("expected only today's batch, got %+v", onDay)
	}
}

func TestMenu_ListsAvailableFoods(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	foods, err := h.svc.Menu(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(foods) != 2 || foods[0].ID != "bagel" || foods[1].ID != "coffee" {
		t.Fatalf("unexpected menu %+v", foods)
	}
}

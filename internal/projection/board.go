// Package projection keeps a client-side Kanban view of active batches in
// step with realtime events. Events are hints; Reset with a full fetch is
// the source of truth after every (re)connect.
package projection

import (
	"fmt"
	"sync"
	"time"

	"github.com/Additional-Code/bono/internal/clock"
	"github.com/Additional-Code/bono/internal/dto"
	"github.com/Additional-Code/bono/internal/lifecycle"
	"github.com/Additional-Code/bono/internal/realtime"
)

// Bucket is a Kanban column.
type Bucket string

const (
	BucketNew       Bucket = "new"
	BucketPreparing Bucket = "preparing"
	BucketReady     Bucket = "ready"
)

// Buckets lists the columns in display order.
var Buckets = []Bucket{BucketNew, BucketPreparing, BucketReady}

// BucketFor maps a status to its column. Terminal statuses have none.
func BucketFor(status lifecycle.Status) (Bucket, bool) {
	switch status {
	case lifecycle.StatusPending:
		return BucketNew, true
	case lifecycle.StatusAccepted:
		return BucketPreparing, true
	case lifecycle.StatusCompleted:
		return BucketReady, true
	}
	return "", false
}

// Card is a batch on the board.
type Card struct {
	Batch dto.BatchResponse
	IsNew bool
}

type entry struct {
	batch   dto.BatchResponse
	addedAt time.Time
	fresh   bool
}

// Board is safe for concurrent use.
type Board struct {
	mu         sync.Mutex
	entries    []*entry
	newFlagTTL time.Duration
	clock      clock.Clock
}

// NewBoard builds an empty board. Cards added by a new-order event are
// flagged new for newFlagTTL.
func NewBoard(newFlagTTL time.Duration, clk clock.Clock) *Board {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Board{newFlagTTL: newFlagTTL, clock: clk}
}

// Reset replaces the board with a fresh fetch. Batches without a column
// are dropped.
func (b *Board) Reset(batches []dto.BatchResponse) {
	entries := make([]*entry, 0, len(batches))
	seen := make(map[string]bool, len(batches))
	for _, batch := range batches {
		if _, ok := BucketFor(batch.Status); !ok || seen[batch.ID] {
			continue
		}
		seen[batch.ID] = true
		entries = append(entries, &entry{batch: batch})
	}

	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()
}

// Apply folds one event into the board and reports whether it changed.
func (b *Board) Apply(ev realtime.Event) (bool, error) {
	switch ev.Kind {
	case realtime.KindNewOrder:
		var batch dto.BatchResponse
		if err := ev.Decode(&batch); err != nil {
			return false, fmt.Errorf("decode new-order: %w", err)
		}
		return b.add(batch), nil
	case realtime.KindOrderUpdate:
		var batch dto.BatchResponse
		if err := ev.Decode(&batch); err != nil {
			return false, fmt.Errorf("decode order-update: %w", err)
		}
		return b.update(batch), nil
	default:
		return false, nil
	}
}

func (b *Board) add(batch dto.BatchResponse) bool {
	if _, ok := BucketFor(batch.Status); !ok {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexOf(batch.ID) >= 0 {
		return false
	}
	e := &entry{batch: batch, addedAt: b.clock.Now(), fresh: true}
	b.entries = append([]*entry{e}, b.entries...)
	return true
}

func (b *Board) update(batch dto.BatchResponse) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOf(batch.ID)
	if i < 0 {
		return false
	}
	if _, ok := BucketFor(batch.Status); !ok {
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		return true
	}
	b.entries[i].batch = batch
	return true
}

func (b *Board) indexOf(id string) int {
	for i, e := range b.entries {
		if e.batch.ID == id {
			return i
		}
	}
	return -1
}

// Snapshot returns the cards per column, newest first.
func (b *Board) Snapshot() map[Bucket][]Card {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	out := make(map[Bucket][]Card, len(Buckets))
	for _, e := range b.entries {
		bucket, ok := BucketFor(e.batch.Status)
		if !ok {
			continue
		}
		isNew := e.fresh && now.Sub(e.addedAt) < b.newFlagTTL
		out[bucket] = append(out[bucket], Card{Batch: e.batch, IsNew: isNew})
	}
	return out
}

// Len returns the number of batches on the board.
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

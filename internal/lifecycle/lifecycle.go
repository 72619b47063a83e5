// Package lifecycle holds the batch status state machine and the single
// table deciding which actor may drive which edge.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the shared state of every line in a batch.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusCompleted Status = "COMPLETED"
	StatusDelivered Status = "DELIVERED"
	StatusReturned  Status = "RETURNED"
	StatusRejected  Status = "REJECTED"
)

// Role identifies the kind of caller.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleKitchen  Role = "KITCHEN"
	RoleAdmin    Role = "ADMIN"
)

var (
	// ErrInvalidTransition means the edge is not in the table or the batch moved on.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrForbidden means the caller's role may not drive the edge.
	ErrForbidden = errors.New("forbidden")
	// ErrUnknownStatus is returned by ParseStatus.
	ErrUnknownStatus = errors.New("unknown status")
)

// TransitionError reports a refused move. It matches ErrInvalidTransition or
// ErrForbidden through errors.Is.
type TransitionError struct {
	From Status
	To   Status
	Role Role
	err  error
}

func (e *TransitionError) Error() string {
	if errors.Is(e.err, ErrForbidden) {
		return fmt.Sprintf("%v: role %s cannot move %s -> %s", e.err, e.Role, e.From, e.To)
	}
	return fmt.Sprintf("%v: %s -> %s", e.err, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return e.err }

// Effect is the side effect attached to an edge.
type Effect int

const (
	EffectNone Effect = iota
	// EffectAllocateBono assigns the pickup number in the same atomic write.
	EffectAllocateBono
	// EffectNotifyCustomer pushes a ready-for-pickup notification to the owner.
	EffectNotifyCustomer
)

// Edge is one allowed transition.
type Edge struct {
	From   Status
	To     Status
	Actors []Role
	Effect Effect
}

var staff = []Role{RoleKitchen, RoleAdmin}

var table = []Edge{
	{From: StatusPending, To: StatusAccepted, Actors: staff, Effect: EffectAllocateBono},
	{From: StatusPending, To: StatusRejected, Actors: staff, Effect: EffectNone},
	{From: StatusAccepted, To: StatusCompleted, Actors: staff, Effect: EffectNotifyCustomer},
	{From: StatusCompleted, To: StatusDelivered, Actors: staff, Effect: EffectNone},
	{From: StatusCompleted, To: StatusReturned, Actors: staff, Effect: EffectNone},
}

// Edges returns a copy of the transition table.
func Edges() []Edge {
	out := make([]Edge, len(table))
	copy(out, table)
	return out
}

// Lookup returns the edge from -> to if it exists.
func Lookup(from, to Status) (Edge, bool) {
	for _, e := range table {
		if e.From == from && e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

// Check validates that role may move a batch from -> to and returns the edge.
func Check(from, to Status, role Role) (Edge, error) {
	edge, ok := Lookup(from, to)
	if !ok {
		return Edge{}, &TransitionError{From: from, To: to, Role: role, err: ErrInvalidTransition}
	}
	if !edge.allows(role) {
		return Edge{}, &TransitionError{From: from, To: to, Role: role, err: ErrForbidden}
	}
	return edge, nil
}

// CanTransition reports whether role may drive at least one edge.
func CanTransition(role Role) bool {
	for _, e := range table {
		if e.allows(role) {
			return true
		}
	}
	return false
}

func (e Edge) allows(role Role) bool {
	for _, r := range e.Actors {
		if r == role {
			return true
		}
	}
	return false
}

// Active lists the statuses still visible on the kitchen board.
func Active() []Status {
	return []Status{StatusPending, StatusAccepted, StatusCompleted}
}

// IsTerminal reports whether no edge leaves s.
func (s Status) IsTerminal() bool {
	for _, e := range table {
		if e.From == s {
			return false
		}
	}
	return s.IsValid()
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCompleted, StatusDelivered, StatusReturned, StatusRejected:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus accepts any casing and surrounding whitespace.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}

// IsStaff reports whether the role works the kitchen side.
func (r Role) IsStaff() bool {
	return r == RoleKitchen || r == RoleAdmin
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleKitchen, RoleAdmin:
		return true
	}
	return false
}

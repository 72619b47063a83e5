package lifecycle

import (
	"errors"
	"testing"
)

var allStatuses = []Status{
	StatusPending, StatusAccepted, StatusCompleted,
	StatusDelivered, StatusReturned, StatusRejected,
}

func TestCheck_OnlyTableEdgesSucceed(t *testing.T) {
	t.Parallel()

	allowed := map[[2]Status]bool{
		{StatusPending, StatusAccepted}:    true,
		{StatusPending, StatusRejected}:    true,
		{StatusAccepted, StatusCompleted}:  true,
		{StatusCompleted, StatusDelivered}: true,
		{StatusCompleted, StatusReturned}:  true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			for _, role := range []Role{RoleKitchen, RoleAdmin} {
				_, err := Check(from, to, role)
				if allowed[[2]Status{from, to}] {
					if err != nil {
						t.Fatalf("%s: expected %s -> %s to succeed, got %v", role, from, to, err)
					}
					continue
				}
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("%s: expected ErrInvalidTransition for %s -> %s, got %v", role, from, to, err)
				}
			}
		}
	}
}

func TestCheck_CustomerNeverTransitions(t *testing.T) {
	t.Parallel()

	for _, e := range Edges() {
		_, err := Check(e.From, e.To, RoleCustomer)
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden for customer on %s -> %s, got %v", e.From, e.To, err)
		}
	}
	if CanTransition(RoleCustomer) {
		t.Fatalf("expected customer to have no edges")
	}
	if !CanTransition(RoleKitchen) || !CanTransition(RoleAdmin) {
		t.Fatalf("expected staff roles to have edges")
	}
}

func TestCheck_Effects(t *testing.T) {
	t.Parallel()

	accept, err := Check(StatusPending, StatusAccepted, RoleKitchen)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if accept.Effect != EffectAllocateBono {
		t.Fatalf("expected accept to allocate bono, got %v", accept.Effect)
	}

	complete, err := Check(StatusAccepted, StatusCompleted, RoleKitchen)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if complete.Effect != EffectNotifyCustomer {
		t.Fatalf("expected complete to notify customer, got %v", complete.Effect)
	}
}

func TestRejectedCannotBeAccepted(t *testing.T) {
	t.Parallel()

	if _, err := Check(StatusRejected, StatusAccepted, RoleKitchen); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[Status]bool{StatusDelivered: true, StatusReturned: true, StatusRejected: true}
	for _, s := range allStatuses {
		if got := s.IsTerminal(); got != terminal[s] {
			t.Fatalf("expected IsTerminal(%s)=%v, got %v", s, terminal[s], got)
		}
	}
	if Status("BOGUS").IsTerminal() {
		t.Fatalf("expected unknown status to not be terminal")
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	s, err := ParseStatus(" accepted ")
	if err != nil || s != StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %q (%v)", s, err)
	}
	if _, err := ParseStatus("cooking"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestEdges_ReturnsCopy(t *testing.T) {
	t.Parallel()

	edges := Edges()
	edges[0].To = StatusRejected
	if e, _ := Lookup(StatusPending, StatusAccepted); e.To != StatusAccepted {
		t.Fatalf("expected table to be unaffected by caller mutation")
	}
}

func TestCheck_ErrorCarriesEdge(t *testing.T) {
	t.Parallel()

	_, err := Check(StatusAccepted, StatusAccepted, RoleKitchen)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	if te.From != StatusAccepted || te.To != StatusAccepted || te.Role != RoleKitchen {
		t.Fatalf("unexpected edge %+v", te)
	}
	if got := err.Error(); got != "invalid transition: ACCEPTED -> ACCEPTED" {
		t.Fatalf("expected %q, got %q", "invalid transition: ACCEPTED -> ACCEPTED", got)
	}

	_, err = Check(StatusPending, StatusAccepted, RoleCustomer)
	if !errors.As(err, &te) || !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden *TransitionError, got %v", err)
	}
	if got := err.Error(); got != "forbidden: role CUSTOMER cannot move PENDING -> ACCEPTED" {
		t.Fatalf("unexpected message %q", got)
	}
}

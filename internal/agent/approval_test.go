package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestApprovalResolve(t *testing.T) {
	m := NewApprovalManager()
	ch := m.Request("a1")
	if !m.HasPending("a1") {
		t.Fatal("request not pending")
	}

	done := make(chan error, 1)
	go func() { done <- AwaitDecision(context.Background(), ch) }()

	if !m.Resolve("a1") {
		t.Fatal("Resolve returned false for pending id")
	}
	if err := <-done; err != nil {
		t.Errorf("AwaitDecision = %v, want nil", err)
	}
	if m.HasPending("a1") {
		t.Error("entry survived resolution")
	}
}

func TestApprovalRejectWithReason(t *testing.T) {
	m := NewApprovalManager()
	ch := m.Request("a2")

	done := make(chan error, 1)
	go func() { done <- AwaitDecision(context.Background(), ch) }()

	if !m.Reject("a2", "nope") {
		t.Fatal("Reject returned false for pending id")
	}
	err := <-done
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("AwaitDecision = %v, want DeniedError", err)
	}
	if denied.Error() != "Command denied by user: nope" {
		t.Errorf("message = %q", denied.Error())
	}
}

func TestApprovalDeniedWithoutReason(t *testing.T) {
	err := (&DeniedError{}).Error()
	if err != "Command denied by user" {
		t.Errorf("message = %q", err)
	}
}

func TestApprovalExactlyOnce(t *testing.T) {
	m := NewApprovalManager()
	m.Request("a3")
	if !m.Resolve("a3") {
		t.Fatal("first Resolve failed")
	}
	if m.Resolve("a3") {
		t.Error("second Resolve succeeded")
	}
	if m.Reject("a3", "") {
		t.Error("Reject after Resolve succeeded")
	}
}

func TestApprovalUnknownID(t *testing.T) {
	m := NewApprovalManager()
	if m.Resolve("ghost") {
		t.Error("Resolve of unknown id succeeded")
	}
	if m.Reject("ghost", "") {
		t.Error("Reject of unknown id succeeded")
	}
	if m.HasPending("ghost") {
		t.Error("HasPending of unknown id")
	}
}

func TestApprovalDecisionBeforeAwait(t *testing.T) {
	// A user response may land between Request and the await; the buffered
	// channel holds it until the tool starts waiting.
	m := NewApprovalManager()
	ch := m.Request("early")
	if !m.Resolve("early") {
		t.Fatal("Resolve failed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := AwaitDecision(ctx, ch); err != nil {
		t.Errorf("AwaitDecision = %v, want nil", err)
	}
}

func TestApprovalAwaitCancellation(t *testing.T) {
	m := NewApprovalManager()
	ch := m.Request("slow")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := AwaitDecision(ctx, ch)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AwaitDecision = %v, want deadline exceeded", err)
	}
	// The pending entry remains; the eventual decision is still accepted.
	if !m.Resolve("slow") {
		t.Error("late Resolve failed")
	}
}

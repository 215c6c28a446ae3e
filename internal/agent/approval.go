package agent

import (
	"context"
	"sync"
)

// Decision is the outcome of one approval request.
type Decision struct {
	Approved bool
	Reason   string
}

// DeniedError reports a user denial, optionally with a reason.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason != "" {
		return "Command denied by user: " + e.Reason
	}
	return "Command denied by user"
}

// ApprovalManager coordinates suspended tool executions with out-of-band
// user decisions. Request precreates the pending entry synchronously, so a
// decision arriving before the caller starts waiting is still delivered:
// the per-id channel is buffered with capacity one.
type ApprovalManager struct {
	mu      sync.Mutex
	pending map[string]chan Decision
}

// NewApprovalManager returns an empty manager.
func NewApprovalManager() *ApprovalManager {
	return &ApprovalManager{pending: make(map[string]chan Decision)}
}

// Request registers a pending approval and returns the channel its decision
// will arrive on. Callers must emit the approval-request event only after
// Request returns.
func (m *ApprovalManager) Request(approvalID string) <-chan Decision {
	ch := make(chan Decision, 1)
	m.mu.Lock()
	m.pending[approvalID] = ch
	m.mu.Unlock()
	return ch
}

// Resolve approves a pending request. Returns false when the id is unknown
// or already decided.
func (m *ApprovalManager) Resolve(approvalID string) bool {
	return m.decide(approvalID, Decision{Approved: true})
}

// Reject denies a pending request with an optional reason. Returns false
// when the id is unknown or already decided.
func (m *ApprovalManager) Reject(approvalID, reason string) bool {
	return m.decide(approvalID, Decision{Approved: false, Reason: reason})
}

func (m *ApprovalManager) decide(approvalID string, d Decision) bool {
	m.mu.Lock()
	ch, ok := m.pending[approvalID]
	if ok {
		delete(m.pending, approvalID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	ch <- d
	return true
}

// HasPending reports whether the id awaits a decision.
func (m *ApprovalManager) HasPending(approvalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[approvalID]
	return ok
}

// AwaitDecision blocks on a channel obtained from Request until the decision
// arrives. Approval returns nil; denial returns a *DeniedError. Because the
// channel is buffered, a decision delivered before the wait began is still
// received here. Context cancellation abandons the wait; the eventual
// decision sits in the buffer and is discarded with the channel.
func AwaitDecision(ctx context.Context, ch <-chan Decision) error {
	select {
	case d := <-ch:
		if d.Approved {
			return nil
		}
		return &DeniedError{Reason: d.Reason}
	case <-ctx.Done():
		return ctx.Err()
	}
}

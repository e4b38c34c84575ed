// Package externaltest provides test doubles for the external.Classifier
// and external.ReplyHandler interfaces, used across dispatcher and
// coordinator tests in place of the real (out-of-scope) webhook/classifier
// stack.
package externaltest

import (
	"context"
	"sync"

	"github.com/agentmail/coordinator/cluster"
	"github.com/agentmail/coordinator/external"
)

// StaticClassifier always returns the configured specialization.
type StaticClassifier cluster.Specialization

func (s StaticClassifier) Classify(context.Context, string, string) (cluster.Specialization, error) {
	return cluster.Specialization(s), nil
}

// RecordingReplyHandler stores every event it is handed, for assertions.
type RecordingReplyHandler struct {
	mu     sync.Mutex
	events []external.InboundEvent
}

func (r *RecordingReplyHandler) HandleAssigned(_ context.Context, _, _ string, event external.InboundEvent) (external.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return external.Result{Handled: true}, nil
}

func (r *RecordingReplyHandler) Events() []external.InboundEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]external.InboundEvent, len(r.events))
	copy(out, r.events)
	return out
}

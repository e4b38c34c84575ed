// Package external defines the thin interfaces the core consumes its
// out-of-scope collaborators through, per spec.md §1 and §6: the content
// classifier and the reply-generation/delivery path. Neither is
// implemented here — only the contract the Dispatcher drives.
package external

import (
	"context"

	"github.com/agentmail/coordinator/cluster"
)

// InboundEvent is the structured record the transport layer (out of scope)
// delivers for one message. Only ThreadID, Sender, Subject and Body are
// consumed by the core; every other field is preserved opaquely in Extra
// for the reply path.
type InboundEvent struct {
	ThreadID  string
	InboxID   string
	Sender    string
	Subject   string
	Body      string
	MessageID string
	Extra     map[string]any
}

// Classifier labels a message with a specialization tag. It must be
// deterministic within one call; the core treats it as a pure function.
type Classifier interface {
	Classify(ctx context.Context, subjectAndBody string, sender string) (cluster.Specialization, error)
}

// ClassifierFunc adapts a function to a Classifier.
type ClassifierFunc func(ctx context.Context, subjectAndBody, sender string) (cluster.Specialization, error)

func (f ClassifierFunc) Classify(ctx context.Context, subjectAndBody, sender string) (cluster.Specialization, error) {
	return f(ctx, subjectAndBody, sender)
}

// Result is the outcome of handing an assigned event to the reply path.
// The core only logs it; it never inspects Result beyond that.
type Result struct {
	Handled bool
	Detail  string
}

// ReplyHandler is invoked only on the node that decided it owns an
// assignment.
type ReplyHandler interface {
	HandleAssigned(ctx context.Context, threadID, inboxID string, event InboundEvent) (Result, error)
}

// ReplyHandlerFunc adapts a function to a ReplyHandler.
type ReplyHandlerFunc func(ctx context.Context, threadID, inboxID string, event InboundEvent) (Result, error)

func (f ReplyHandlerFunc) HandleAssigned(ctx context.Context, threadID, inboxID string, event InboundEvent) (Result, error) {
	return f(ctx, threadID, inboxID, event)
}

// Package consensus implements single-decree Paxos, sharded by thread id:
// each conversation thread gets its own independent acceptor instance (the
// "option (b)" design recommended for this spec), so two threads can be
// decided concurrently without interfering with each other's safety.
package consensus

import (
	"fmt"

	"github.com/agentmail/coordinator/cluster"
)

// ProposalId is a totally ordered proposal number: a millisecond wall-clock
// timestamp combined with a per-node tiebreaker, so that proposals issued
// by distinct nodes at the same millisecond still compare strictly.
type ProposalId struct {
	Ts        int64  // unix milliseconds
	Tiebreak  uint32 // stable per-node hash, breaks ties across nodes
	Seq       uint64 // per-node sequence, breaks ties within one node
}

// Zero reports whether this is the unset (bottom) proposal id.
func (p ProposalId) Zero() bool { return p == ProposalId{} }

// Compare returns -1, 0 or 1 as p is less than, equal to, or greater than o.
// Ordering is (Ts, Tiebreak, Seq) lexicographic, which is strict and total
// across every proposal ever generated in the cluster as long as Tiebreak
// is unique per node (see NewIDGenerator).
func (p ProposalId) Compare(o ProposalId) int {
	switch {
	case p.Ts != o.Ts:
		if p.Ts < o.Ts {
			return -1
		}
		return 1
	case p.Tiebreak != o.Tiebreak:
		if p.Tiebreak < o.Tiebreak {
			return -1
		}
		return 1
	case p.Seq != o.Seq:
		if p.Seq < o.Seq {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func (p ProposalId) String() string {
	return fmt.Sprintf("%d.%d.%d", p.Ts, p.Tiebreak, p.Seq)
}

// Value is the decree proposed and, if chosen, decided by one consensus
// instance: the binding of a conversation thread to its handler node.
type Value struct {
	ThreadID string
	Node     cluster.NodeID
}

func (v Value) Equal(o Value) bool { return v.ThreadID == o.ThreadID && v.Node == o.Node }

// Promise is an acceptor's affirmative reply to Prepare(n): it will not
// accept any proposal numbered below n, and reports whatever it had
// already accepted so the proposer can preserve safety.
type Promise struct {
	From          cluster.NodeID
	Id            ProposalId
	AcceptedId    *ProposalId
	AcceptedValue *Value
}

// Nack is an acceptor's negative reply to Prepare(n) or Accept(n, v): the
// acceptor had already promised PromisedId, which is at least n for a
// rejected Prepare and strictly greater than n for a rejected Accept.
type Nack struct {
	From      cluster.NodeID
	PromisedId ProposalId
}

// PrepareReply is the tagged union Promise | Nack returned by HandlePrepare.
// Modeling it as an interface (rather than overloading a shared struct's
// zero fields) keeps a rejected Promise from ever being mistaken for a
// granted one.
type PrepareReply interface {
	isPrepareReply()
}

func (Promise) isPrepareReply() {}
func (Nack) isPrepareReply()    {}

// Accepted is an acceptor's affirmative reply to Accept(n, v).
type Accepted struct {
	From cluster.NodeID
	Id   ProposalId
}

// AcceptReply is the tagged union Accepted | Nack returned by HandleAccept.
type AcceptReply interface {
	isAcceptReply()
}

func (Accepted) isAcceptReply() {}
func (Nack) isAcceptReply()     {}

// Package store implements the in-memory versioned conversation-to-handler
// map described in spec.md §4.4, including last-writer-wins resolution of
// remote pushes from the replication layer.
package store

import (
	"crypto/sha256"
	"log/slog"
	"sync"
	"time"

	"github.com/agentmail/coordinator/cluster"
	agentlogger "github.com/agentmail/coordinator/logger"
)

// Context carries the non-identity data travelling with an assignment.
type Context struct {
	Classification cluster.Specialization
	Sender         string
	ContentDigest  [sha256.Size]byte
	Extra          map[string]any
}

// Digest computes the content digest carried in Context, per the
// supplemented "context digest" feature: a SHA-256 of subject+body so a
// reassignment can tell whether the underlying message changed.
func Digest(subject, body string) [sha256.Size]byte {
	return sha256.Sum256([]byte(subject + "\x00" + body))
}

// ConversationState is one versioned binding of a thread to its handler.
type ConversationState struct {
	ThreadID     string
	AssignedNode cluster.NodeID
	Context      Context
	LastUpdated  time.Time
	Version      uint64
	Replicas     map[cluster.NodeID]struct{}
	Origin       cluster.NodeID
}

// ReplicaSelector computes the replica set for a thread given the current
// healthy-peer view, per §4.5.
type ReplicaSelector func(threadID string) map[cluster.NodeID]struct{}

// Store is the in-memory thread -> ConversationState map. A single mutex
// guards it; it is never held together with the acceptor or peer-health
// mutex.
type Store struct {
	self     cluster.NodeID
	selector ReplicaSelector
	onLocal  func(ConversationState) // hand-off to the replication layer
	log      *slog.Logger

	mu            sync.Mutex
	conversations map[string]ConversationState
	byAssignee    map[cluster.NodeID]map[string]struct{}
	bySpec        map[cluster.Specialization]int
}

func New(self cluster.NodeID, selector ReplicaSelector, onLocal func(ConversationState), log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		self:          self,
		selector:      selector,
		onLocal:       onLocal,
		log:           log,
		conversations: make(map[string]ConversationState),
		byAssignee:    make(map[cluster.NodeID]map[string]struct{}),
		bySpec:        make(map[cluster.Specialization]int),
	}
}

// SetHooks wires the replica selector and the replication hand-off after
// construction, for callers (coordinator.New) that must build the
// replication layer from a transport router whose handlers themselves need
// the store to exist first.
func (s *Store) SetHooks(selector ReplicaSelector, onLocal func(ConversationState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selector = selector
	s.onLocal = onLocal
}

// Upsert records a new origin-produced version for threadID. It is only
// ever called by the node that just drove consensus to bind
// (threadID, assignedNode).
func (s *Store) Upsert(threadID string, assignedNode cluster.NodeID, ctx Context, now time.Time) ConversationState {
	// The selector reads the failure detector's table, so it runs outside
	// s.mu to keep the store and peer-health mutexes from being held together.
	s.mu.Lock()
	selector := s.selector
	s.mu.Unlock()
	var replicas map[cluster.NodeID]struct{}
	if selector != nil {
		replicas = selector(threadID)
	}

	s.mu.Lock()

	var version uint64 = 1
	if old, ok := s.conversations[threadID]; ok {
		version = old.Version + 1
		s.unindexLocked(old)
	}

	state := ConversationState{
		ThreadID:     threadID,
		AssignedNode: assignedNode,
		Context:      ctx,
		LastUpdated:  now,
		Version:      version,
		Replicas:     replicas,
		Origin:       s.self,
	}
	if state.Replicas == nil {
		state.Replicas = map[cluster.NodeID]struct{}{}
	}
	state.Replicas[s.self] = struct{}{}

	s.conversations[threadID] = state
	s.indexLocked(state)
	s.mu.Unlock()

	s.log.Debug("conversation upserted", agentlogger.ThreadID(threadID), slog.Uint64("version", version), agentlogger.Peer(string(assignedNode)))

	if s.onLocal != nil {
		go s.onLocal(state)
	}
	return state
}

// ApplyRemote installs a ConversationState pushed by a peer iff it is newer
// than whatever is locally held for that thread, per the last-writer-wins
// rule in §4.4: ties are broken by the higher (version, origin) pair.
// Returns true if state was installed, false if it was stale and dropped.
func (s *Store) ApplyRemote(state ConversationState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	local, exists := s.conversations[state.ThreadID]
	if exists && !newerThan(state, local) {
		return false
	}
	if exists {
		s.unindexLocked(local)
	}
	s.conversations[state.ThreadID] = state
	s.indexLocked(state)
	s.log.Debug("conversation replicated in", agentlogger.ThreadID(state.ThreadID), slog.Uint64("version", state.Version), slog.String("origin", string(state.Origin)))
	return true
}

// newerThan reports whether a supersedes b under (version, origin)
// last-writer-wins ordering.
func newerThan(a, b ConversationState) bool {
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return a.Origin > b.Origin
}

// Get returns the current state for threadID, if any.
func (s *Store) Get(threadID string) (ConversationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.conversations[threadID]
	return st, ok
}

// ListByAssignee returns every thread currently assigned to node.
func (s *Store) ListByAssignee(node cluster.NodeID) []ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byAssignee[node]
	out := make([]ConversationState, 0, len(ids))
	for id := range ids {
		out = append(out, s.conversations[id])
	}
	return out
}

// Count returns the number of tracked conversations.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// AssignmentsBySpecialization returns a snapshot of the running
// classification counter maintained incrementally on every local Upsert
// (the "assignment history counter" supplement), keeping Status() O(1)
// rather than requiring a scan of the whole store.
func (s *Store) AssignmentsBySpecialization() map[cluster.Specialization]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[cluster.Specialization]int, len(s.bySpec))
	for k, v := range s.bySpec {
		out[k] = v
	}
	return out
}

func (s *Store) indexLocked(state ConversationState) {
	set, ok := s.byAssignee[state.AssignedNode]
	if !ok {
		set = make(map[string]struct{})
		s.byAssignee[state.AssignedNode] = set
	}
	set[state.ThreadID] = struct{}{}
	if state.Origin == s.self {
		s.bySpec[state.Context.Classification]++
	}
}

func (s *Store) unindexLocked(old ConversationState) {
	if set, ok := s.byAssignee[old.AssignedNode]; ok {
		delete(set, old.ThreadID)
		if len(set) == 0 {
			delete(s.byAssignee, old.AssignedNode)
		}
	}
}

// ABOUTME: Concurrency-safe table of conversation states keyed by conversation ID
// ABOUTME: GetOrCreate is atomic so one ID never maps to two state objects

package bot

import (
	"sort"
	"sync"
)

// Table maps conversation IDs to their state. States are created lazily and
// live until the process exits.
type Table struct {
	mu     sync.RWMutex
	states map[string]*ConversationState
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{states: make(map[string]*ConversationState)}
}

// GetOrCreate returns the state for id, creating it on first use.
func (t *Table) GetOrCreate(id string) *ConversationState {
	t.mu.RLock()
	st, ok := t.states[id]
	t.mu.RUnlock()
	if ok {
		return st
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[id]; ok {
		return st
	}
	st = newConversationState(id)
	t.states[id] = st
	return st
}

// Get returns the state for id if it exists.
func (t *Table) Get(id string) (*ConversationState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[id]
	return st, ok
}

// Len returns the number of known conversations.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

// Snapshots copies every state, ordered by conversation ID.
func (t *Table) Snapshots() []Snapshot {
	t.mu.RLock()
	states := make([]*ConversationState, 0, len(t.states))
	for _, st := range t.states {
		states = append(states, st)
	}
	t.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(states))
	for _, st := range states {
		snaps = append(snaps, st.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ConversationID < snaps[j].ConversationID })
	return snaps
}

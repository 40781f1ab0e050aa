package vybe

import (
	"maps"
	"sync"
)

// RunState is the mutable state of one run. The network router owns it;
// tools receive it by pointer and change it only through these methods.
//
// Summary is set at most once. Files follows last-write-wins per path.
// History is append-only.
type RunState struct {
	mu      sync.RWMutex
	summary string
	files   map[string]string
	history []ChatMessage
}

// NewRunState creates a state whose history is seeded with prior messages.
func NewRunState(history []ChatMessage) *RunState {
	return &RunState{
		files:   make(map[string]string),
		history: append([]ChatMessage(nil), history...),
	}
}

// Summary returns the captured completion summary, or "".
func (s *RunState) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

// SetSummary records the summary. It reports false and leaves the state
// unchanged when a summary was already set or text is empty.
func (s *RunState) SetSummary(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary != "" || text == "" {
		return false
	}
	s.summary = text
	return true
}

// Files returns a copy of the path to content mapping.
func (s *RunState) Files() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.files)
}

// FileCount returns the number of tracked files.
func (s *RunState) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// ReplaceFiles swaps in a complete new mapping.
func (s *RunState) ReplaceFiles(files map[string]string) {
	next := maps.Clone(files)
	if next == nil {
		next = make(map[string]string)
	}
	s.mu.Lock()
	s.files = next
	s.mu.Unlock()
}

// History returns a copy of the conversation so far.
func (s *RunState) History() []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ChatMessage(nil), s.history...)
}

// AppendHistory adds messages to the end of the conversation.
func (s *RunState) AppendHistory(msgs ...ChatMessage) {
	s.mu.Lock()
	s.history = append(s.history, msgs...)
	s.mu.Unlock()
}

/*
Package core provides the console's mirror of agent thread state.

The agent runtime owns each thread's message log. The console keeps a local copy so the view can
be rebuilt on every streamed update without a round trip: full snapshots replace the mirror and
single streamed messages are upserted by identifier. Idle mirrors are dropped by a background
cleanup loop.
*/
package core

import (
	"sort"
	"sync"
	"time"

	"deepconsole/conversation"

	"github.com/sirupsen/logrus"
)

// threadEntry is one mirrored thread.
type threadEntry struct {
	state   conversation.ThreadState
	index   map[string]int // message id -> position in state.Messages
	created time.Time
	updated time.Time
}

// ThreadSummary describes a mirrored thread for listings.
type ThreadSummary struct {
	ThreadID     string    `json:"threadId"`
	MessageCount int       `json:"messageCount"`
	Title        string    `json:"title"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// ThreadStore holds mirrored thread state with automatic expiry.
type ThreadStore struct {
	threads         map[string]*threadEntry
	mutex           sync.RWMutex
	maxAge          time.Duration
	cleanupInterval time.Duration
	logger          *logrus.Logger
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewThreadStore creates a store and starts its cleanup loop. Call Close to stop the loop.
//
// Parameters:
//   - maxAge: Duration after which an untouched thread mirror is dropped
//   - cleanupInterval: How often to look for expired mirrors
//   - logger: Logger for operational monitoring
func NewThreadStore(maxAge, cleanupInterval time.Duration, logger *logrus.Logger) *ThreadStore {
	store := &ThreadStore{
		threads:         make(map[string]*threadEntry),
		maxAge:          maxAge,
		cleanupInterval: cleanupInterval,
		logger:          logger,
		stop:            make(chan struct{}),
	}

	go store.cleanupExpiredThreads()

	return store
}

// Close stops the cleanup loop.
func (s *ThreadStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Ensure registers an empty mirror for threadID if none exists.
func (s *ThreadStore) Ensure(threadID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.entry(threadID)
}

// entry returns the mirror for threadID, creating it. Callers hold the write lock.
func (s *ThreadStore) entry(threadID string) *threadEntry {
	e, ok := s.threads[threadID]
	if !ok {
		now := time.Now()
		e = &threadEntry{
			state:   conversation.ThreadState{Files: map[string]string{}},
			index:   map[string]int{},
			created: now,
			updated: now,
		}
		s.threads[threadID] = e
		s.logger.WithField("threadID", threadID).Info("Mirroring new thread")
	}
	return e
}

// Replace overwrites a thread's mirror with a full state snapshot.
func (s *ThreadStore) Replace(threadID string, state conversation.ThreadState) conversation.ThreadState {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e := s.entry(threadID)
	e.state = state.Clone()
	if e.state.Files == nil {
		e.state.Files = map[string]string{}
	}
	e.index = make(map[string]int, len(e.state.Messages))
	for i, m := range e.state.Messages {
		if _, seen := e.index[m.ID]; !seen {
			e.index[m.ID] = i
		}
	}
	e.updated = time.Now()
	return e.state.Clone()
}

// Upsert applies a single streamed message. A message whose id is already mirrored replaces
// it in place; a new id is appended. Messages without an id are always appended.
func (s *ThreadStore) Upsert(threadID string, msg conversation.Message) conversation.ThreadState {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e := s.entry(threadID)
	msg = conversation.Clone([]conversation.Message{msg})[0]
	if i, ok := e.index[msg.ID]; ok && msg.ID != "" {
		e.state.Messages[i] = msg
	} else {
		if msg.ID != "" {
			e.index[msg.ID] = len(e.state.Messages)
		}
		e.state.Messages = append(e.state.Messages, msg)
	}
	e.updated = time.Now()
	return e.state.Clone()
}

// Get returns a copy of the mirrored state.
func (s *ThreadStore) Get(threadID string) (conversation.ThreadState, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	e, ok := s.threads[threadID]
	if !ok {
		return conversation.ThreadState{}, false
	}
	return e.state.Clone(), true
}

// Delete drops a thread's mirror. It reports whether the thread was mirrored.
func (s *ThreadStore) Delete(threadID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, exists := s.threads[threadID]
	if exists {
		delete(s.threads, threadID)
		s.logger.WithField("threadID", threadID).Info("Thread mirror deleted")
	}
	return exists
}

// List returns summaries of all mirrored threads, most recently updated first.
func (s *ThreadStore) List() []ThreadSummary {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]ThreadSummary, 0, len(s.threads))
	for id, e := range s.threads {
		out = append(out, ThreadSummary{
			ThreadID:     id,
			MessageCount: len(e.state.Messages),
			Title:        threadTitle(e.state.Messages),
			Created:      e.created,
			Updated:      e.updated,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Updated.Equal(out[j].Updated) {
			return out[i].ThreadID < out[j].ThreadID
		}
		return out[i].Updated.After(out[j].Updated)
	})
	return out
}

// threadTitle is the first human message, shortened for listings.
func threadTitle(messages []conversation.Message) string {
	for _, m := range messages {
		if m.Kind() == conversation.KindHuman {
			return truncateString(m.Content.ExtractText(), 80)
		}
	}
	return ""
}

// cleanupExpiredThreads drops mirrors untouched for longer than maxAge.
func (s *ThreadStore) cleanupExpiredThreads() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.expire(now)
		}
	}
}

func (s *ThreadStore) expire(now time.Time) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	expired := 0
	for id, e := range s.threads {
		if now.Sub(e.updated) > s.maxAge {
			delete(s.threads, id)
			expired++
		}
	}

	if expired > 0 {
		s.logger.WithFields(logrus.Fields{
			"expiredThreads":   expired,
			"remainingThreads": len(s.threads),
			"cleanupInterval":  s.cleanupInterval,
		}).Info("Cleaned up expired thread mirrors")
	}
	return expired
}

// Stats returns counts for the status endpoint.
func (s *ThreadStore) Stats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	totalMessages := 0
	for _, e := range s.threads {
		totalMessages += len(e.state.Messages)
	}

	return map[string]interface{}{
		"totalThreads":  len(s.threads),
		"totalMessages": totalMessages,
	}
}

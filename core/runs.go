/*
Package core provides run cancellation for the console.

RunRegistry tracks streamed runs so a user can stop one from a separate request. Each entry
keeps the run's context cancel function and the thread it belongs to, so stopping also cancels
the run on the agent runtime.
*/
package core

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ActiveRun describes a registered run.
type ActiveRun struct {
	RunID    string    `json:"runId"`
	ThreadID string    `json:"threadId"`
	Started  time.Time `json:"started"`
}

type runEntry struct {
	ActiveRun
	cancel context.CancelFunc
}

// RunRegistry maps run ids to their cancellation functions.
type RunRegistry struct {
	runs  map[string]runEntry
	mutex sync.RWMutex
}

func NewRunRegistry() *RunRegistry {
	return &RunRegistry{
		runs: make(map[string]runEntry),
	}
}

// Add registers a run. Registering an id twice replaces the previous cancel function.
func (r *RunRegistry) Add(runID, threadID string, cancel context.CancelFunc) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.runs[runID] = runEntry{
		ActiveRun: ActiveRun{RunID: runID, ThreadID: threadID, Started: time.Now()},
		cancel:    cancel,
	}
}

// Remove forgets a finished run.
func (r *RunRegistry) Remove(runID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.runs, runID)
}

// Lookup returns the run registered under runID.
func (r *RunRegistry) Lookup(runID string) (ActiveRun, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	e, ok := r.runs[runID]
	return e.ActiveRun, ok
}

// Stop cancels a run and removes it. It returns the stopped run and false when no run with
// that id is active.
func (r *RunRegistry) Stop(runID string) (ActiveRun, bool) {
	r.mutex.Lock()
	e, exists := r.runs[runID]
	delete(r.runs, runID)
	r.mutex.Unlock()

	if !exists {
		return ActiveRun{}, false
	}
	e.cancel()
	return e.ActiveRun, true
}

// Active lists running runs, oldest first.
func (r *RunRegistry) Active() []ActiveRun {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	runs := make([]ActiveRun, 0, len(r.runs))
	for _, e := range r.runs {
		runs = append(runs, e.ActiveRun)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Started.Equal(runs[j].Started) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].Started.Before(runs[j].Started)
	})
	return runs
}

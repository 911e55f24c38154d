package execution

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
)

// maxRunningProgress keeps progress below 100 until the Completed transition.
const maxRunningProgress = 99

// Store holds every Execution known to this process.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Create registers a Pending execution for a snapshot of def.
func (s *Store) Create(def *cognition.Definition) *Record {
	snapshot := def.Clone()
	rec := &Record{
		def:  snapshot,
		done: make(chan struct{}),
		now:  s.now,
		exec: Execution{
			ID:             uuid.New().String(),
			DefinitionID:   snapshot.ID,
			DefinitionName: snapshot.Name,
			Status:         StatusPending,
			TotalPhases:    len(snapshot.Phases),
			CreatedAt:      s.now().UTC(),
			PhaseResults:   []PhaseResult{},
			Log:            []LogEntry{},
		},
	}

	s.mu.Lock()
	s.records[rec.exec.ID] = rec
	s.mu.Unlock()
	return rec
}

// Get returns the record for id.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// Delete forgets id. Unknown ids are ignored.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
}

// Len returns the number of executions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// List returns snapshots of all executions, newest first.
func (s *Store) List() []Execution {
	s.mu.RLock()
	out := make([]Execution, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Snapshot())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Record is the mutable state of one Execution. The orchestrator is the only
// writer while it is Running; everyone else reads snapshots.
type Record struct {
	mu   sync.Mutex
	exec Execution
	def  *cognition.Definition
	seq  uint64
	done chan struct{}
	now  func() time.Time
}

// ID returns the execution id.
func (r *Record) ID() string {
	return r.exec.ID
}

// Definition returns the definition snapshot taken at creation.
func (r *Record) Definition() *cognition.Definition {
	return r.def
}

// Done is closed once the execution reaches a terminal state.
func (r *Record) Done() <-chan struct{} {
	return r.done
}

// Status returns the current status.
func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.Status
}

// Snapshot returns a deep copy safe to hand to readers.
func (r *Record) Snapshot() Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.clone()
}

// Start moves Pending to Running and stamps start_time.
func (r *Record) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := Transition(r.exec.Status, TriggerStart)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	r.exec.Status = next
	r.exec.StartTime = &now
	return nil
}

// SetCurrentPhase records the phase being executed.
func (r *Record) SetCurrentPhase(phaseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec.Status.IsTerminal() {
		return ErrTerminal
	}
	r.exec.CurrentPhaseID = phaseID
	return nil
}

// AppendPhaseResult appends result and recomputes progress. It returns the
// progress after the append.
func (r *Record) AppendPhaseResult(result PhaseResult) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec.Status.IsTerminal() {
		return r.exec.Progress, ErrTerminal
	}
	r.exec.PhaseResults = append(r.exec.PhaseResults, result)

	progress := float64(r.exec.CompletedPhases()) / float64(r.exec.TotalPhases) * 100
	if progress > maxRunningProgress {
		progress = maxRunningProgress
	}
	if progress > r.exec.Progress {
		r.exec.Progress = progress
	}
	return r.exec.Progress, nil
}

// AppendLog appends an entry. Entries are accepted until the terminal
// transition so the log explains why the execution ended.
func (r *Record) AppendLog(sev Severity, msg, agent, phaseID string) (LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec.Status.IsTerminal() {
		return LogEntry{}, ErrTerminal
	}
	r.seq++
	entry := LogEntry{
		Seq:       r.seq,
		Timestamp: r.now().UTC(),
		Severity:  sev,
		Message:   msg,
		Agent:     agent,
		PhaseID:   phaseID,
	}
	r.exec.Log = append(r.exec.Log, entry)
	return entry, nil
}

// Finish applies a terminal trigger. Completing forces progress to 100.
func (r *Record) Finish(t Trigger, reason Reason, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := Transition(r.exec.Status, t)
	if err != nil {
		return err
	}
	if !next.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, next)
	}
	now := r.now().UTC()
	r.exec.Status = next
	r.exec.Reason = reason
	r.exec.EndTime = &now
	r.exec.CurrentPhaseID = ""
	if cause != nil {
		r.exec.Error = cause.Error()
	}
	if next == StatusCompleted {
		r.exec.Progress = 100
	}
	close(r.done)
	return nil
}

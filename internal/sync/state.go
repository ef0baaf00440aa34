package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status of a reindex run
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// RunState is the state of the latest reindex run of one index
type RunState struct {
	IndexName         string     `json:"indexName"`
	Status            Status     `json:"status"`
	Trigger           string     `json:"trigger,omitempty"`
	Source            string     `json:"source,omitempty"`
	StartedAt         time.Time  `json:"startedAt"`
	FinishedAt        *time.Time `json:"finishedAt,omitempty"`
	LastSuccessAt     *time.Time `json:"lastSuccessAt,omitempty"`
	RecordsFetched    int        `json:"recordsFetched"`
	DocumentsIndexed  int64      `json:"documentsIndexed"`
	DocumentsFailed   int64      `json:"documentsFailed"`
	DocumentsRejected int64      `json:"documentsRejected"`
	Error             string     `json:"error,omitempty"`
}

// Progress returns the share of fetched records already processed, in [0, 1]
func (s *RunState) Progress() float64 {
	if s.RecordsFetched == 0 {
		if s.Status == StatusSucceeded {
			return 1
		}
		return 0
	}
	done := float64(s.DocumentsIndexed + s.DocumentsFailed + s.DocumentsRejected)
	p := done / float64(s.RecordsFetched)
	if p > 1 {
		p = 1
	}
	return p
}

// ReindexState is the persisted state of every index
type ReindexState struct {
	Indexes   map[string]*RunState `json:"indexes"`
	LastSaved time.Time            `json:"lastSaved"`
}

// StateManager handles loading and saving reindex state. With an empty file
// path the state is kept in memory only.
type StateManager struct {
	filePath string
	state    *ReindexState
	mutex    sync.RWMutex
	logger   *zap.Logger
	now      func() time.Time
}

// NewStateManager creates a new reindex state manager
func NewStateManager(filePath string, logger *zap.Logger) *StateManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateManager{
		filePath: filePath,
		state: &ReindexState{
			Indexes: make(map[string]*RunState),
		},
		logger: logger,
		now:    time.Now,
	}
}

// Load loads the state from disk. A run that was still marked running when
// the process stopped is marked failed.
func (sm *StateManager) Load() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.filePath == "" {
		return nil
	}

	data, err := os.ReadFile(sm.filePath)
	if errors.Is(err, os.ErrNotExist) {
		sm.logger.Info("Reindex state file not found, starting fresh", zap.String("path", sm.filePath))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read reindex state file: %w", err)
	}

	state := &ReindexState{}
	if err := json.Unmarshal(data, state); err != nil {
		return fmt.Errorf("failed to parse reindex state file: %w", err)
	}
	if state.Indexes == nil {
		state.Indexes = make(map[string]*RunState)
	}

	for _, run := range state.Indexes {
		if run.Status == StatusRunning {
			run.Status = StatusFailed
			run.Error = "interrupted"
		}
	}

	sm.state = state
	sm.logger.Info("Loaded reindex state",
		zap.Int("indexes", len(state.Indexes)),
		zap.String("path", sm.filePath))
	return nil
}

// Save writes the state to disk atomically
func (sm *StateManager) Save() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.filePath == "" {
		return nil
	}

	sm.state.LastSaved = sm.now()

	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal reindex state: %w", err)
	}

	if dir := filepath.Dir(sm.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	// Write to temporary file first
	tempFile := sm.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp reindex state file: %w", err)
	}

	// Atomic move
	if err := os.Rename(tempFile, sm.filePath); err != nil {
		return fmt.Errorf("failed to move reindex state file: %w", err)
	}

	return nil
}

// Begin starts a new run for the index, resetting its counters
func (sm *StateManager) Begin(indexName, trigger, source string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	run := &RunState{
		IndexName: indexName,
		Status:    StatusRunning,
		Trigger:   trigger,
		Source:    source,
		StartedAt: sm.now(),
	}
	if prev, exists := sm.state.Indexes[indexName]; exists {
		run.LastSuccessAt = prev.LastSuccessAt
	}
	sm.state.Indexes[indexName] = run
}

// SetRecordsFetched records how many catalog records the run will process
func (sm *StateManager) SetRecordsFetched(indexName string, count int) {
	sm.update(indexName, func(run *RunState) { run.RecordsFetched = count })
}

// IncrementDocumentsIndexed increments the indexed documents counter
func (sm *StateManager) IncrementDocumentsIndexed(indexName string, count int64) {
	sm.update(indexName, func(run *RunState) { run.DocumentsIndexed += count })
}

// IncrementDocumentsFailed increments the counter of documents the engine refused
func (sm *StateManager) IncrementDocumentsFailed(indexName string, count int64) {
	sm.update(indexName, func(run *RunState) { run.DocumentsFailed += count })
}

// IncrementDocumentsRejected increments the counter of records rejected before submission
func (sm *StateManager) IncrementDocumentsRejected(indexName string, count int64) {
	sm.update(indexName, func(run *RunState) { run.DocumentsRejected += count })
}

// Finish ends the current run. A nil err marks it succeeded.
func (sm *StateManager) Finish(indexName string, err error) {
	sm.update(indexName, func(run *RunState) {
		now := sm.now()
		run.FinishedAt = &now
		if err != nil {
			run.Status = StatusFailed
			run.Error = err.Error()
			return
		}
		run.Status = StatusSucceeded
		run.Error = ""
		run.LastSuccessAt = &now
	})
}

// GetRunState returns a copy of the latest run of the index, or nil
func (sm *StateManager) GetRunState(indexName string) *RunState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	if run, exists := sm.state.Indexes[indexName]; exists {
		runCopy := *run
		return &runCopy
	}
	return nil
}

// GetAllRunStates returns a copy of every run
func (sm *StateManager) GetAllRunStates() map[string]*RunState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	result := make(map[string]*RunState, len(sm.state.Indexes))
	for key, run := range sm.state.Indexes {
		runCopy := *run
		result[key] = &runCopy
	}
	return result
}

// update applies fn to the run of the index, creating it if missing
func (sm *StateManager) update(indexName string, fn func(*RunState)) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	run, exists := sm.state.Indexes[indexName]
	if !exists {
		run = &RunState{IndexName: indexName, Status: StatusIdle}
		sm.state.Indexes[indexName] = run
	}
	fn(run)
}

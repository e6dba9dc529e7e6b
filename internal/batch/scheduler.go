package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/govmatch-ai/govmatch/internal/observability"
)

// Schedule manager errors.
var (
	ErrScheduleExists   = errors.New("schedule already exists")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrTargetNotFound   = errors.New("schedule target not registered")
)

// TargetFunc runs a schedule's target and returns an execution handle, such
// as the coordination ID of the run it started.
type TargetFunc func(ctx context.Context, input json.RawMessage) (string, error)

// Schedule is a named cron-backed trigger for a registered target.
type Schedule struct {
	Name       string          `json:"name"`
	Expression string          `json:"expression"`
	Target     string          `json:"target"`
	Input      json.RawMessage `json:"input,omitempty"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  time.Time       `json:"created_at"`
	NextRun    time.Time       `json:"next_run"`
}

// Execution is the handle returned by a trigger.
type Execution struct {
	Handle    string    `json:"execution_handle"`
	Schedule  string    `json:"schedule"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
}

type scheduleEntry struct {
	schedule Schedule
	entryID  cron.EntryID
}

// ScheduleManager owns named schedules over registered targets. Cron
// expressions use the standard five-field form.
type ScheduleManager struct {
	mu      sync.Mutex
	parser  cron.Parser
	runner  *cron.Cron
	entries map[string]*scheduleEntry
	targets map[string]TargetFunc
	logger  *observability.Logger
	now     func() time.Time
}

// NewScheduleManager creates a schedule manager. Call Start to begin firing
// schedules and Stop to drain them.
func NewScheduleManager(logger *observability.Logger) *ScheduleManager {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &ScheduleManager{
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		runner:  cron.New(),
		entries: make(map[string]*scheduleEntry),
		targets: make(map[string]TargetFunc),
		logger:  logger,
		now:     time.Now,
	}
}

// RegisterTarget makes a target available to schedules under name.
func (m *ScheduleManager) RegisterTarget(name string, fn TargetFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[name] = fn
}

// Start begins firing schedules in the background.
func (m *ScheduleManager) Start() { m.runner.Start() }

// Stop stops firing schedules and waits for running jobs to finish.
func (m *ScheduleManager) Stop() {
	<-m.runner.Stop().Done()
}

// Create registers a new named schedule.
func (m *ScheduleManager) Create(name, expression, target string, input json.RawMessage) (*Schedule, error) {
	sched, err := m.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expression, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleExists, name)
	}
	if _, ok := m.targets[target]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
	}

	now := m.now().UTC()
	entry := &scheduleEntry{
		schedule: Schedule{
			Name:       name,
			Expression: expression,
			Target:     target,
			Input:      input,
			Enabled:    true,
			CreatedAt:  now,
			NextRun:    sched.Next(now),
		},
	}
	entry.entryID = m.runner.Schedule(sched, cron.FuncJob(func() {
		m.fire(name)
	}))
	m.entries[name] = entry

	m.logger.Info().
		Str("schedule", name).
		Str("expression", expression).
		Str("target", target).
		Time("next_run", entry.schedule.NextRun).
		Msg("schedule created")
	return cloneSchedule(entry), nil
}

// Get returns one schedule by name.
func (m *ScheduleManager) Get(name string) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, name)
	}
	return cloneSchedule(entry), nil
}

// List returns all schedules sorted by name.
func (m *ScheduleManager) List() []*Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Schedule, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, cloneSchedule(entry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete removes a schedule.
func (m *ScheduleManager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, name)
	}
	m.runner.Remove(entry.entryID)
	delete(m.entries, name)
	m.logger.Info().Str("schedule", name).Msg("schedule deleted")
	return nil
}

// Trigger runs a schedule's target immediately with the given input, or the
// schedule's stored input when input is nil, and returns an execution handle.
func (m *ScheduleManager) Trigger(ctx context.Context, name string, input json.RawMessage) (*Execution, error) {
	m.mu.Lock()
	entry, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, name)
	}
	target := m.targets[entry.schedule.Target]
	targetName := entry.schedule.Target
	if input == nil {
		input = entry.schedule.Input
	}
	m.mu.Unlock()

	started := m.now().UTC()
	handle, err := target(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("trigger schedule %s: %w", name, err)
	}
	if handle == "" {
		handle = uuid.NewString()
	}
	return &Execution{
		Handle:    handle,
		Schedule:  name,
		Target:    targetName,
		StartedAt: started,
	}, nil
}

// fire runs a schedule from its cron entry.
func (m *ScheduleManager) fire(name string) {
	m.mu.Lock()
	entry, ok := m.entries[name]
	if !ok || !entry.schedule.Enabled {
		m.mu.Unlock()
		return
	}
	target := m.targets[entry.schedule.Target]
	input := entry.schedule.Input
	entry.schedule.NextRun = m.runner.Entry(entry.entryID).Next
	m.mu.Unlock()

	handle, err := target(context.Background(), input)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("schedule", name).
			Msg("scheduled run failed")
		return
	}
	m.logger.Info().
		Str("schedule", name).
		Str("execution_handle", handle).
		Msg("scheduled run started")
}

func cloneSchedule(entry *scheduleEntry) *Schedule {
	s := entry.schedule
	return &s
}

package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/govmatch-ai/govmatch/internal/config"
	"github.com/govmatch-ai/govmatch/internal/metrics"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// State classifies one coordination's health.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateStalled  State = "stalled"
	StateError    State = "error"
)

// healthGauge maps a state onto the coordination_health gauge.
var healthGauge = map[State]float64{
	StateHealthy:  0,
	StateDegraded: 1,
	StateStalled:  2,
	StateError:    3,
}

// CoordinationHealth is the monitor's view of one coordination.
type CoordinationHealth struct {
	Record         *storage.CoordinationRecord `json:"coordination"`
	State          State                       `json:"state"`
	StalledBatches int                         `json:"stalled_batches"`
}

// Report summarizes one health scan.
type Report struct {
	GeneratedAt   time.Time            `json:"generated_at"`
	Window        time.Duration        `json:"window"`
	Coordinations []CoordinationHealth `json:"coordinations"`
	Healthy       int                  `json:"healthy"`
	Degraded      int                  `json:"degraded"`
	Stalled       int                  `json:"stalled"`
	Errored       int                  `json:"errored"`
}

// MonitorConfig wires a Monitor.
type MonitorConfig struct {
	Coordinations *storage.CoordinationRepository
	Progress      *storage.ProgressRepository
	Metrics       *metrics.Registry
	Logger        *observability.Logger
	Batch         config.BatchConfig
	Now           func() time.Time
}

// Monitor classifies coordinations active inside the health window.
type Monitor struct {
	coordinations *storage.CoordinationRepository
	progress      *storage.ProgressRepository
	metrics       *metrics.Registry
	logger        *observability.Logger
	window        time.Duration
	stalledAfter  time.Duration
	degradedRatio float64
	now           func() time.Time
}

// NewMonitor creates a health monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{
		coordinations: cfg.Coordinations,
		progress:      cfg.Progress,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		window:        cfg.Batch.HealthWindow,
		stalledAfter:  cfg.Batch.StalledAfter,
		degradedRatio: cfg.Batch.DegradedFailureRatio,
		now:           cfg.Now,
	}
}

// Scan classifies every coordination touched within the health window.
// Precedence per coordination: failed status is error; a processing
// coordination not updated within the stall threshold is stalled; a failure
// ratio over the degraded threshold is degraded; anything else is healthy.
// Processing batches whose own updates have gone quiet past the stall
// threshold are counted per coordination.
func (m *Monitor) Scan(ctx context.Context) (*Report, error) {
	now := m.now().UTC()
	recs, err := m.coordinations.ListActiveSince(ctx, now.Add(-m.window))
	if err != nil {
		return nil, fmt.Errorf("list active coordinations: %w", err)
	}

	report := &Report{GeneratedAt: now, Window: m.window}
	for _, rec := range recs {
		health := CoordinationHealth{Record: rec, State: m.classify(rec, now)}

		if rec.ProcessingBatches > 0 {
			rows, err := m.progress.ListByCoordination(ctx, rec.CoordinationID)
			if err != nil {
				return nil, fmt.Errorf("list progress for %s: %w", rec.CoordinationID, err)
			}
			for _, row := range rows {
				if row.Status == storage.BatchStatusProcessing && now.Sub(row.UpdatedAt) > m.stalledAfter {
					health.StalledBatches++
				}
			}
		}

		switch health.State {
		case StateHealthy:
			report.Healthy++
		case StateDegraded:
			report.Degraded++
		case StateStalled:
			report.Stalled++
		case StateError:
			report.Errored++
		}
		if m.metrics != nil {
			m.metrics.CoordinationHealth.
				WithLabelValues(rec.ProcessingType, rec.CoordinationID).
				Set(healthGauge[health.State])
		}
		if health.State != StateHealthy {
			m.logger.WithCoordination(rec.CoordinationID).Warn().
				Str("processing_type", rec.ProcessingType).
				Str("state", string(health.State)).
				Int("failed_batches", rec.FailedBatches).
				Int("total_batches", rec.TotalBatches).
				Int("stalled_batches", health.StalledBatches).
				Msg("coordination unhealthy")
		}
		report.Coordinations = append(report.Coordinations, health)
	}
	return report, nil
}

func (m *Monitor) classify(rec *storage.CoordinationRecord, now time.Time) State {
	switch {
	case rec.Status == storage.CoordinationStatusFailed:
		return StateError
	case rec.Status == storage.CoordinationStatusProcessing && now.Sub(rec.UpdatedAt) > m.stalledAfter:
		return StateStalled
	case rec.TotalBatches > 0 && float64(rec.FailedBatches) > m.degradedRatio*float64(rec.TotalBatches):
		return StateDegraded
	default:
		return StateHealthy
	}
}

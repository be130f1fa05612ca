// Package location resolves a farmer's location by trying sources in a
// fixed order of trust: manual entry, GPS, IP lookup, timezone heuristics,
// and finally a fixed reference point.
package location

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/models"
	"github.com/kisansaathi/farmdata-service/internal/observability"
	"github.com/kisansaathi/farmdata-service/internal/validation"
)

// Stage is one source in the cascade. A stage with nothing to offer returns
// an error wrapping apperr.ErrNoData; a stage whose candidate failed the
// acceptance rules returns apperr.ErrValidationRejected.
type Stage interface {
	Name() string
	Resolve(ctx context.Context, sig Signals) (models.LocationRecord, error)
}

// Attempt outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeSkipped  = "skipped"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Attempt records what one stage did during a run.
type Attempt struct {
	Stage   string `json:"stage"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// Resolution is the accepted record plus how the cascade got there.
type Resolution struct {
	models.LocationRecord
	Reasoning string    `json:"reasoning"`
	Attempts  []Attempt `json:"attempts"`
}

// Cascade runs stages in order and returns the first accepted record.
type Cascade struct {
	stages []Stage
	logger *zap.Logger
}

// NewCascade builds a cascade over stages, which are tried in the given order.
func NewCascade(logger *zap.Logger, stages ...Stage) *Cascade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cascade{stages: stages, logger: logger}
}

// Stages returns the stage names in evaluation order.
func (c *Cascade) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Run evaluates the stages. Every stage error is logged and turned into
// "try the next stage". It fails with apperr.ErrNoData only if no stage,
// including any fallback, produced an acceptable record.
func (c *Cascade) Run(ctx context.Context, sig Signals) (Resolution, error) {
	logger := observability.LoggerOr(ctx, c.logger)
	var attempts []Attempt
	var notes []string

	for _, stage := range c.stages {
		name := stage.Name()
		rec, err := stage.Resolve(ctx, sig)
		if err == nil {
			err = validation.AcceptLocation(rec, validation.Rules{})
		}
		if err != nil {
			outcome := outcomeFor(err)
			attempts = append(attempts, Attempt{Stage: name, Outcome: outcome, Detail: err.Error()})
			notes = append(notes, fmt.Sprintf("%s %s (%s)", name, outcome, err.Error()))
			observability.CascadeStageTotal.WithLabelValues(name, outcome).Inc()
			logger.Debug("Location stage did not resolve",
				zap.String("stage", name),
				zap.String("outcome", outcome),
				zap.String("category", string(apperr.Categorize(err))),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		attempts = append(attempts, Attempt{Stage: name, Outcome: OutcomeAccepted, Detail: rec.Provider})
		observability.CascadeStageTotal.WithLabelValues(name, OutcomeAccepted).Inc()
		win := fmt.Sprintf("resolved by %s", name)
		if rec.Provider != "" {
			win += " via " + rec.Provider
		}
		win += fmt.Sprintf(" with confidence %d", rec.Confidence)
		notes = append(notes, win)
		logger.Info("Location resolved",
			zap.String("stage", name),
			zap.String("provider", rec.Provider),
			zap.String("state", rec.State),
			zap.Int("confidence", rec.Confidence),
			zap.Int("attempts", len(attempts)),
		)
		return Resolution{LocationRecord: rec, Reasoning: strings.Join(notes, "; "), Attempts: attempts}, nil
	}

	return Resolution{Attempts: attempts, Reasoning: strings.Join(notes, "; ")},
		fmt.Errorf("location cascade exhausted: %w", apperr.ErrNoData)
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, apperr.ErrNoData):
		return OutcomeSkipped
	case errors.Is(err, apperr.ErrValidationRejected):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

func noData(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperr.ErrNoData, fmt.Sprintf(format, args...))
}

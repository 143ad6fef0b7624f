package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-sql/civil"
	"github.com/rs/zerolog"

	"github.com/iliyamo/contract-lifecycle/internal/event"
	"github.com/iliyamo/contract-lifecycle/internal/lifecycle"
	"github.com/iliyamo/contract-lifecycle/internal/metrics"
	"github.com/iliyamo/contract-lifecycle/internal/model"
	"github.com/iliyamo/contract-lifecycle/internal/repository"
)

// StatusChange describes one evaluated contract.  OldStatus equals
// NewStatus when no transition was due.
type StatusChange struct {
	ContractID string             `json:"contract_id"`
	Title      string             `json:"title"`
	EndDate    *civil.Date        `json:"end_date"`
	OldStatus  model.ActualStatus `json:"old_status"`
	NewStatus  model.ActualStatus `json:"new_status"`
}

// StatusRunResult summarises an update_statuses run.
type StatusRunResult struct {
	Skipped            bool                       `json:"skipped,omitempty"`
	Details            []StatusChange             `json:"details"`
	UpdatedCounts      map[model.ActualStatus]int `json:"updated_counts"`
	TotalByStatus      map[model.ActualStatus]int `json:"total_by_status"`
	ContractsProcessed int                        `json:"contracts_processed"`
	UpdatedAt          time.Time                  `json:"updated_at"`
}

// Updated is the number of contracts whose status changed.
func (r *StatusRunResult) Updated() int {
	n := 0
	for _, c := range r.UpdatedCounts {
		n += c
	}
	return n
}

// StatusEngine derives actual_status from end dates for signed contracts.
type StatusEngine struct {
	contracts   ContractStore
	events      event.Publisher
	metrics     *metrics.Metrics
	log         zerolog.Logger
	clock       Clock
	warningDays int
}

// NewStatusEngine wires a StatusEngine.
func NewStatusEngine(contracts ContractStore, events event.Publisher, m *metrics.Metrics, log zerolog.Logger, clock Clock, warningDays int) *StatusEngine {
	return &StatusEngine{
		contracts:   contracts,
		events:      events,
		metrics:     m,
		log:         log.With().Str("component", "status_engine").Logger(),
		clock:       clock,
		warningDays: warningDays,
	}
}

// Run evaluates every signed contract against today.  Transitions are
// written one contract at a time; a store error aborts the run and leaves
// earlier writes in place.  A contract moved by a concurrent writer is
// skipped and reported with the status it was re-read with; when the
// re-read fails it is left out of Details and TotalByStatus.
func (s *StatusEngine) Run(ctx context.Context) (*StatusRunResult, error) {
	contracts, err := s.contracts.ListSigned(ctx)
	if err != nil {
		return nil, err
	}
	today := s.clock.today()
	res := &StatusRunResult{
		Details:       make([]StatusChange, 0, len(contracts)),
		UpdatedCounts: map[model.ActualStatus]int{},
		TotalByStatus: map[model.ActualStatus]int{},
	}
	for _, c := range contracts {
		change := StatusChange{ContractID: c.ID, Title: c.Title, EndDate: c.EndDate, OldStatus: c.ActualStatus, NewStatus: c.ActualStatus}
		next, due := lifecycle.NextStatus(c.ActualStatus, c.EndDate, today, s.warningDays)
		if due {
			err := s.contracts.UpdateActualStatus(ctx, c.ID, c.ActualStatus, next)
			switch {
			case errors.Is(err, repository.ErrConflict):
				s.log.Warn().Str("contract_id", c.ID).Msg("contract changed concurrently, skipped")
				// count the status the other writer left, not the stale read
				current, err := s.contracts.GetByID(ctx, c.ID)
				if err != nil {
					s.log.Warn().Err(err).Str("contract_id", c.ID).Msg("contract re-read failed, left out of totals")
					continue
				}
				change.NewStatus = current.ActualStatus
			case err != nil:
				return nil, fmt.Errorf("update statuses: %w", err)
			default:
				change.NewStatus = next
				res.UpdatedCounts[next]++
				s.metrics.StatusTransitions.WithLabelValues(string(c.ActualStatus), string(next)).Inc()
				s.log.Info().Str("contract_id", c.ID).Str("from", string(c.ActualStatus)).Str("to", string(next)).Msg("contract status updated")
				s.publish(ctx, event.ContractStatusChanged{ContractID: c.ID, From: c.ActualStatus, To: next, At: s.clock.now()})
			}
		}
		res.TotalByStatus[change.NewStatus]++
		res.Details = append(res.Details, change)
	}
	res.ContractsProcessed = len(contracts)
	res.UpdatedAt = s.clock.now()
	return res, nil
}

func (s *StatusEngine) publish(ctx context.Context, ev event.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", ev.Name()).Msg("event delivery failed")
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/contract-lifecycle/internal/event"
	"github.com/iliyamo/contract-lifecycle/internal/lifecycle"
	"github.com/iliyamo/contract-lifecycle/internal/metrics"
	"github.com/iliyamo/contract-lifecycle/internal/model"
	"github.com/iliyamo/contract-lifecycle/internal/repository"
)

// AutoRenewalReason is stored in proposed_changes of generated renewals.
const AutoRenewalReason = "Scheduled automatic renewal"

// ExpiryCheckResult summarises a check_expiry run.
type ExpiryCheckResult struct {
	Skipped              bool                     `json:"skipped,omitempty"`
	ExpiringContracts    int                      `json:"expiring_contracts"`
	NotificationsCreated int                      `json:"notifications_created"`
	RenewalsCreated      int                      `json:"renewals_created"`
	Contracts            []model.ExpiringContract `json:"contracts"`
	CheckedAt            time.Time                `json:"checked_at"`
}

// ExpiryNotifier alerts owners of contracts approaching their end date and
// opens auto-renewal requests.
type ExpiryNotifier struct {
	contracts   ContractStore
	renewals    RenewalStore
	events      event.Publisher
	dedupe      Deduper
	metrics     *metrics.Metrics
	log         zerolog.Logger
	clock       Clock
	thresholds  lifecycle.Thresholds
	horizonDays int
	termDays    int
	newID       func() string
}

// ExpiryOptions are the tunables of the notifier.
type ExpiryOptions struct {
	Thresholds      lifecycle.Thresholds
	HorizonDays     int
	RenewalTermDays int
}

// NewExpiryNotifier wires an ExpiryNotifier.  dedupe may be nil.
func NewExpiryNotifier(contracts ContractStore, renewals RenewalStore, events event.Publisher, dedupe Deduper,
	m *metrics.Metrics, log zerolog.Logger, clock Clock, opts ExpiryOptions) *ExpiryNotifier {
	th := opts.Thresholds.Normalize()
	if len(th) == 0 {
		th = lifecycle.DefaultThresholds
	}
	return &ExpiryNotifier{
		contracts:   contracts,
		renewals:    renewals,
		events:      events,
		dedupe:      dedupe,
		metrics:     m,
		log:         log.With().Str("component", "expiry_notifier").Logger(),
		clock:       clock,
		thresholds:  th,
		horizonDays: opts.HorizonDays,
		termDays:    opts.RenewalTermDays,
		newID:       uuid.NewString,
	}
}

// HorizonDays is the default look-ahead of Check.
func (n *ExpiryNotifier) HorizonDays() int { return n.horizonDays }

// Check scans signed active or expiring_soon contracts ending within
// daysAhead days.  A contract whose day count is a threshold gets one alert
// per run; at the largest threshold an auto-renewing contract also gets a
// pending renewal unless one exists.  Individual failures are logged and do
// not stop the scan.
func (n *ExpiryNotifier) Check(ctx context.Context, daysAhead int) (*ExpiryCheckResult, error) {
	today := n.clock.today()
	contracts, err := n.contracts.ListExpiring(ctx, today, today.AddDays(daysAhead),
		[]model.ActualStatus{model.ActualActive, model.ActualExpiringSoon})
	if err != nil {
		return nil, fmt.Errorf("check expiry: %w", err)
	}
	res := &ExpiryCheckResult{Contracts: make([]model.ExpiringContract, 0, len(contracts))}
	seen := make(map[string]bool)
	for i := range contracts {
		c := &contracts[i]
		days := lifecycle.DaysUntil(*c.EndDate, today)
		res.Contracts = append(res.Contracts, toExpiring(c, days))
		if !n.thresholds.Contains(days) {
			continue
		}
		key := fmt.Sprintf("%s:%d:%s", c.ID, days, today)
		if seen[key] {
			continue
		}
		seen[key] = true

		log := n.log.With().Str("contract_id", c.ID).Int("days_until_expiry", days).Logger()
		if n.alert(ctx, log, c, days, "expiry:"+key) {
			res.NotificationsCreated++
		}

		// not gated by the alert dedupe: HasPending and the pending index
		// keep it idempotent, and a failed insert must be retryable today
		if c.AutoRenewal && days == n.thresholds.Max() {
			created, err := n.autoRenew(ctx, c)
			if err != nil {
				log.Error().Err(err).Msg("auto-renewal failed")
			} else if created {
				res.RenewalsCreated++
			}
		}
	}
	res.ExpiringContracts = len(contracts)
	res.CheckedAt = n.clock.now()
	return res, nil
}

// alert publishes ContractExpiring unless the dedupe key shows it was
// already sent.  The key is forgotten again when publishing fails so a
// retry resends it.
func (n *ExpiryNotifier) alert(ctx context.Context, log zerolog.Logger, c *model.Contract, days int, key string) bool {
	if n.dedupe != nil {
		first, err := n.dedupe.FirstSeen(ctx, key)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("expiry dedupe unavailable")
		case !first:
			log.Debug().Msg("expiry alert already sent today")
			return false
		}
	}

	err := n.events.Publish(ctx, event.ContractExpiring{
		ContractID:      c.ID,
		OwnerID:         c.CreatedBy,
		Title:           c.Title,
		ClientName:      c.ClientName,
		EndDate:         *c.EndDate,
		DaysUntilExpiry: days,
		AutoRenewal:     c.AutoRenewal,
		Value:           c.Value,
	})
	if err == nil {
		return true
	}
	log.Error().Err(err).Msg("expiry notification failed")
	if n.dedupe != nil {
		if ferr := n.dedupe.Forget(ctx, key); ferr != nil {
			log.Warn().Err(ferr).Msg("expiry dedupe key not cleared")
		}
	}
	return false
}

// autoRenew opens a pending renewal for c covering the term after its end
// date.  It reports false when a pending renewal already exists.
func (n *ExpiryNotifier) autoRenew(ctx context.Context, c *model.Contract) (bool, error) {
	pending, err := n.renewals.HasPending(ctx, c.ID)
	if err != nil {
		return false, err
	}
	if pending {
		n.log.Debug().Str("contract_id", c.ID).Msg("pending renewal exists, auto-renewal skipped")
		return false, nil
	}
	end := *c.EndDate
	rn := &model.Renewal{
		ID:                 n.newID(),
		OriginalContractID: c.ID,
		RequestedBy:        c.CreatedBy,
		RequestedAt:        n.clock.now(),
		Status:             model.RenewalPending,
		ProposedChanges: map[string]any{
			"auto_generated":    true,
			"renewal_reason":    AutoRenewalReason,
			"original_end_date": end.String(),
		},
		ProposedStartDate: end.AddDays(1),
		ProposedEndDate:   end.AddDays(n.termDays),
		ProposedValue:     c.Value,
		Priority:          lifecycle.RequestPriority(ptr(lifecycle.DaysUntil(end, n.clock.today()))),
		AutoRenewal:       true,
	}
	if err := n.renewals.Insert(ctx, rn); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	n.metrics.RenewalsCreated.WithLabelValues("auto").Inc()
	n.log.Info().Str("contract_id", c.ID).Str("renewal_id", rn.ID).Msg("auto-renewal created")
	if err := n.events.Publish(ctx, event.RenewalRequested{
		RenewalID:     rn.ID,
		ContractID:    c.ID,
		ContractTitle: c.Title,
		ClientName:    c.ClientName,
		OwnerID:       c.CreatedBy,
		RequestedBy:   rn.RequestedBy,
		Priority:      rn.Priority,
		AutoRenewal:   true,
	}); err != nil {
		n.log.Error().Err(err).Str("renewal_id", rn.ID).Msg("event delivery failed")
	}
	return true, nil
}

// Upcoming lists signed contracts, whatever their actual status, ending
// within daysAhead days, ordered by end date.
func (n *ExpiryNotifier) Upcoming(ctx context.Context, daysAhead int) ([]model.ExpiringContract, error) {
	today := n.clock.today()
	contracts, err := n.contracts.ListExpiring(ctx, today, today.AddDays(daysAhead), nil)
	if err != nil {
		return nil, fmt.Errorf("get expiring: %w", err)
	}
	out := make([]model.ExpiringContract, 0, len(contracts))
	for i := range contracts {
		out = append(out, toExpiring(&contracts[i], lifecycle.DaysUntil(*contracts[i].EndDate, today)))
	}
	return out, nil
}

func toExpiring(c *model.Contract, days int) model.ExpiringContract {
	return model.ExpiringContract{
		ID:              c.ID,
		Title:           c.Title,
		ClientName:      c.ClientName,
		ClientEmail:     c.ClientEmail,
		EndDate:         *c.EndDate,
		Value:           c.Value,
		AutoRenewal:     c.AutoRenewal,
		ActualStatus:    c.ActualStatus,
		CreatedBy:       c.CreatedBy,
		DaysUntilExpiry: days,
	}
}

func ptr[T any](v T) *T { return &v }

package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/contract-lifecycle/internal/event"
	"github.com/iliyamo/contract-lifecycle/internal/lifecycle"
	"github.com/iliyamo/contract-lifecycle/internal/metrics"
	"github.com/iliyamo/contract-lifecycle/internal/model"
	"github.com/iliyamo/contract-lifecycle/internal/repository"
)

var (
	fixedNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	today    = civil.DateOf(fixedNow)
)

func fixedClock() time.Time { return fixedNow }

// memDB is an in-memory stand-in for the MySQL schema, including the
// one-pending-renewal unique index and compare-and-set updates.
type memDB struct {
	mu            sync.Mutex
	contracts     map[string]model.Contract
	signatories   map[string][]model.Signatory
	renewals      map[string]model.Renewal
	renewalOrder  []string
	notifications []model.Notification
	users         []model.User

	failInsertSignatories error
	failNotification      error
	failUpdateStatus      error
	// one-shot failures, cleared when returned
	failListSignedOnce    error
	failInsertRenewalOnce error

	// onStatusUpdate runs with the lock held before the compare-and-set
	onStatusUpdate func(db *memDB, id string)
}

func takeOnce(err *error) error {
	e := *err
	*err = nil
	return e
}

func newMemDB() *memDB {
	return &memDB{
		contracts:   map[string]model.Contract{},
		signatories: map[string][]model.Signatory{},
		renewals:    map[string]model.Renewal{},
	}
}

func (db *memDB) addContract(c model.Contract) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.contracts[c.ID] = c
}

func (db *memDB) addSignatory(s model.Signatory) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.signatories[s.ContractID] = append(db.signatories[s.ContractID], s)
}

func (db *memDB) addRenewal(rn model.Renewal) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.renewals[rn.ID] = rn
	db.renewalOrder = append(db.renewalOrder, rn.ID)
}

func (db *memDB) contract(id string) model.Contract {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.contracts[id]
}

func (db *memDB) renewal(id string) model.Renewal {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.renewals[id]
}

func (db *memDB) renewalsFor(contractID string) []model.Renewal {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []model.Renewal
	for _, id := range db.renewalOrder {
		if rn := db.renewals[id]; rn.OriginalContractID == contractID {
			out = append(out, rn)
		}
	}
	return out
}

func (db *memDB) childrenOf(parentID string) []model.Contract {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []model.Contract
	for _, c := range db.contracts {
		if c.ParentContractID != nil && *c.ParentContractID == parentID {
			out = append(out, c)
		}
	}
	return out
}

func (db *memDB) sent() []model.Notification {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Clone(db.notifications)
}

type contractFake struct{ db *memDB }

func (f contractFake) GetByID(_ context.Context, id string) (*model.Contract, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", id, repository.ErrNotFound)
	}
	return &c, nil
}

func (f contractFake) signed(match func(model.Contract) bool) []model.Contract {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := make([]model.Contract, 0)
	for _, c := range f.db.contracts {
		if c.ApprovalStatus == model.ApprovalSigned && match(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b model.Contract) int {
		if a.EndDate != nil && b.EndDate != nil && *a.EndDate != *b.EndDate {
			if a.EndDate.Before(*b.EndDate) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (f contractFake) ListSigned(context.Context) ([]model.Contract, error) {
	f.db.mu.Lock()
	err := takeOnce(&f.db.failListSignedOnce)
	f.db.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.signed(func(model.Contract) bool { return true }), nil
}

func (f contractFake) ListExpiring(_ context.Context, from, to civil.Date, statuses []model.ActualStatus) ([]model.Contract, error) {
	return f.signed(func(c model.Contract) bool {
		if c.EndDate == nil || c.EndDate.Before(from) || c.EndDate.After(to) {
			return false
		}
		return len(statuses) == 0 || slices.Contains(statuses, c.ActualStatus)
	}), nil
}

func (f contractFake) UpdateActualStatus(ctx context.Context, id string, from, to model.ActualStatus) error {
	return f.UpdateActualStatusTx(ctx, nil, id, from, to)
}

func (f contractFake) UpdateActualStatusTx(_ context.Context, _ repository.Querier, id string, from, to model.ActualStatus) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.failUpdateStatus != nil {
		return f.db.failUpdateStatus
	}
	if f.db.onStatusUpdate != nil {
		f.db.onStatusUpdate(f.db, id)
	}
	c, ok := f.db.contracts[id]
	if !ok || c.ActualStatus != from {
		return fmt.Errorf("contract %s is no longer %s: %w", id, from, repository.ErrConflict)
	}
	c.ActualStatus = to
	f.db.contracts[id] = c
	return nil
}

func (f contractFake) IsSignatory(_ context.Context, contractID, userID string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, s := range f.db.signatories[contractID] {
		if s.UserID != nil && *s.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f contractFake) InsertTx(_ context.Context, _ repository.Querier, c *model.Contract) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.contracts[c.ID] = *c
	return nil
}

func (f contractFake) ListSignatoriesTx(_ context.Context, _ repository.Querier, contractID string) ([]model.Signatory, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return slices.Clone(f.db.signatories[contractID]), nil
}

func (f contractFake) InsertSignatoriesTx(_ context.Context, _ repository.Querier, ss []model.Signatory) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.failInsertSignatories != nil {
		return f.db.failInsertSignatories
	}
	for _, s := range ss {
		f.db.signatories[s.ContractID] = append(f.db.signatories[s.ContractID], s)
	}
	return nil
}

type renewalFake struct{ db *memDB }

func (f renewalFake) GetByID(_ context.Context, id string) (*model.Renewal, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	rn, ok := f.db.renewals[id]
	if !ok {
		return nil, fmt.Errorf("renewal %s: %w", id, repository.ErrNotFound)
	}
	return &rn, nil
}

func (f renewalFake) HasPending(_ context.Context, contractID string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, rn := range f.db.renewals {
		if rn.OriginalContractID == contractID && rn.Status == model.RenewalPending {
			return true, nil
		}
	}
	return false, nil
}

func (f renewalFake) Insert(_ context.Context, rn *model.Renewal) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := takeOnce(&f.db.failInsertRenewalOnce); err != nil {
		return err
	}
	if rn.Status == model.RenewalPending {
		for _, other := range f.db.renewals {
			if other.OriginalContractID == rn.OriginalContractID && other.Status == model.RenewalPending {
				return fmt.Errorf("duplicate pending renewal: %w", repository.ErrConflict)
			}
		}
	}
	f.db.renewals[rn.ID] = *rn
	f.db.renewalOrder = append(f.db.renewalOrder, rn.ID)
	return nil
}

func (f renewalFake) List(_ context.Context, flt repository.RenewalFilter) ([]model.RenewalView, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := make([]model.RenewalView, 0)
	for _, id := range f.db.renewalOrder {
		rn := f.db.renewals[id]
		c := f.db.contracts[rn.OriginalContractID]
		if flt.VisibleTo != "" && rn.RequestedBy != flt.VisibleTo && c.CreatedBy != flt.VisibleTo {
			continue
		}
		if flt.Status != nil && rn.Status != *flt.Status {
			continue
		}
		out = append(out, model.RenewalView{Renewal: rn, OriginalContract: model.ContractSummary{
			ID: c.ID, Title: c.Title, ClientName: c.ClientName, CreatedBy: c.CreatedBy, EndDate: c.EndDate,
		}})
	}
	return out, nil
}

func (f renewalFake) DecideTx(_ context.Context, _ repository.Querier, id string, d repository.Decision) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	rn, ok := f.db.renewals[id]
	if !ok || rn.Status != d.From {
		return fmt.Errorf("renewal %s is no longer %s: %w", id, d.From, repository.ErrConflict)
	}
	rn.Status = d.To
	rn.GestorResponse = d.Response
	rn.ProcessedBy = &d.ProcessedBy
	rn.ProcessedAt = &d.ProcessedAt
	rn.NewContractID = d.NewContractID
	f.db.renewals[id] = rn
	return nil
}

func (f renewalFake) Escalate(_ context.Context, id, to, reason string, at time.Time) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	rn, ok := f.db.renewals[id]
	if !ok || !lifecycle.IsOpenRenewal(rn.Status) {
		return fmt.Errorf("renewal %s is closed: %w", id, repository.ErrConflict)
	}
	rn.EscalatedAt, rn.EscalatedTo, rn.EscalationReason = &at, &to, &reason
	rn.Priority = model.PriorityUrgent
	f.db.renewals[id] = rn
	return nil
}

func (f renewalFake) ListOverdue(_ context.Context, cutoff time.Time) ([]model.Renewal, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := make([]model.Renewal, 0)
	for _, id := range f.db.renewalOrder {
		rn := f.db.renewals[id]
		if rn.Status == model.RenewalPending && rn.CreatedAt.Before(cutoff) && rn.EscalatedAt == nil && !rn.AutoRenewal {
			out = append(out, rn)
		}
	}
	return out, nil
}

type userFake struct{ db *memDB }

func (f userFake) FirstByRoles(_ context.Context, roles ...model.Role) (*model.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, u := range f.db.users {
		if slices.Contains(roles, u.Role) {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user with role %v: %w", roles, repository.ErrNotFound)
}

type notificationFake struct{ db *memDB }

func (f notificationFake) Insert(_ context.Context, n *model.Notification) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.failNotification != nil {
		return f.db.failNotification
	}
	f.db.notifications = append(f.db.notifications, *n)
	return nil
}

func (f notificationFake) DeleteStale(_ context.Context, readBefore, now time.Time) (int64, int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var read, expired int64
	kept := f.db.notifications[:0]
	for _, n := range f.db.notifications {
		switch {
		case n.ReadAt != nil && n.ReadAt.Before(readBefore):
			read++
		case n.ExpiresAt != nil && n.ExpiresAt.Before(now):
			expired++
		default:
			kept = append(kept, n)
		}
	}
	f.db.notifications = kept
	return read, expired, nil
}

// txFake restores the previous state when fn fails.
type txFake struct{ db *memDB }

func (f txFake) InTx(_ context.Context, fn func(q repository.Querier) error) error {
	f.db.mu.Lock()
	contracts := maps.Clone(f.db.contracts)
	signatories := make(map[string][]model.Signatory, len(f.db.signatories))
	for k, v := range f.db.signatories {
		signatories[k] = slices.Clone(v)
	}
	renewals := maps.Clone(f.db.renewals)
	f.db.mu.Unlock()

	if err := fn(nil); err != nil {
		f.db.mu.Lock()
		f.db.contracts, f.db.signatories, f.db.renewals = contracts, signatories, renewals
		f.db.mu.Unlock()
		return err
	}
	return nil
}

type harness struct {
	db       *memDB
	metrics  *metrics.Metrics
	events   *event.Dispatcher
	engine   *StatusEngine
	notifier *ExpiryNotifier
	manager  *RenewalManager
	escal    *Escalator
	runner   *LifecycleRunner
}

func newHarness(t *testing.T, opts ...func(*harnessOptions)) *harness {
	t.Helper()
	o := harnessOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	db := newMemDB()
	m := metrics.New(prometheus.NewRegistry())
	log := zerolog.Nop()
	clock := Clock(fixedClock)

	contracts, renewals := contractFake{db}, renewalFake{db}
	d := event.NewDispatcher()
	writer := NewNotificationWriter(notificationFake{db}, m, clock)
	d.Subscribe(writer.Handle, writer.Events()...)

	engine := NewStatusEngine(contracts, d, m, log, clock, 30)
	notifier := NewExpiryNotifier(contracts, renewals, d, o.dedupe, m, log, clock, ExpiryOptions{
		Thresholds: lifecycle.DefaultThresholds, HorizonDays: 30, RenewalTermDays: 365,
	})
	escal := NewEscalator(contracts, renewals, userFake{db}, d, m, log, clock)
	return &harness{
		db:       db,
		metrics:  m,
		events:   d,
		engine:   engine,
		notifier: notifier,
		manager:  NewRenewalManager(contracts, renewals, txFake{db}, NewRenewalFactory(contracts), d, m, log, clock),
		escal:    escal,
		runner: NewLifecycleRunner(engine, notifier, escal, notificationFake{db}, o.guard, m, log, clock, RunnerOptions{
			RetentionDays: 30, EscalateAfter: 72 * time.Hour,
		}),
	}
}

type harnessOptions struct {
	dedupe Deduper
	guard  RunGuard
}

func withDedupe(d Deduper) func(*harnessOptions) { return func(o *harnessOptions) { o.dedupe = d } }
func withGuard(g RunGuard) func(*harnessOptions)  { return func(o *harnessOptions) { o.guard = g } }

// signedContract is an active, signed contract owned by "owner" ending
// days from today.
func signedContract(id string, days int) model.Contract {
	start := today.AddDays(days - 365)
	end := today.AddDays(days)
	return model.Contract{
		ID:             id,
		Title:          "Hosting " + id,
		Content:        "terms",
		VariablesData:  map[string]any{"plan": "gold", "seats": 10.0},
		ClientName:     "ACME",
		ClientEmail:    "ops@acme.test",
		Value:          decimal.NewNullDecimal(decimal.NewFromInt(1000)),
		StartDate:      &start,
		EndDate:        &end,
		ApprovalStatus: model.ApprovalSigned,
		ActualStatus:   model.ActualActive,
		CreatedBy:      "owner",
		CreatedAt:      fixedNow.AddDate(-1, 0, 0),
		UpdatedAt:      fixedNow.AddDate(-1, 0, 0),
	}
}

func pendingRenewal(id, contractID, requestedBy string) model.Renewal {
	return model.Renewal{
		ID:                 id,
		OriginalContractID: contractID,
		RequestedBy:        requestedBy,
		RequestedAt:        fixedNow.Add(-48 * time.Hour),
		CreatedAt:          fixedNow.Add(-48 * time.Hour),
		Status:             model.RenewalPending,
		ProposedChanges:    map[string]any{},
		ProposedStartDate:  today.AddDays(31),
		ProposedEndDate:    today.AddDays(395),
		Priority:           model.PriorityMedium,
	}
}

var (
	ownerCaller      = model.Caller{ID: "owner", Role: model.RoleGestor}
	signatoryCaller  = model.Caller{ID: "signer", Role: model.RoleUser}
	strangerCaller   = model.Caller{ID: "stranger", Role: model.RoleGestor}
	supervisorCaller = model.Caller{ID: "sup", Role: model.RoleSupervisor}
)

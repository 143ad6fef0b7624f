// Package service implements the contract lifecycle and renewal workflows:
// the status engine, the expiry notifier, the renewal manager with its
// contract factory, escalation and notification cleanup.  Services depend on
// the small interfaces below; the repository package satisfies them.
package service

import (
	"context"
	"time"

	"github.com/golang-sql/civil"

	"github.com/iliyamo/contract-lifecycle/internal/model"
	"github.com/iliyamo/contract-lifecycle/internal/repository"
)

// ContractStore is the read/update surface over contracts.
type ContractStore interface {
	GetByID(ctx context.Context, id string) (*model.Contract, error)
	ListSigned(ctx context.Context) ([]model.Contract, error)
	ListExpiring(ctx context.Context, from, to civil.Date, statuses []model.ActualStatus) ([]model.Contract, error)
	UpdateActualStatus(ctx context.Context, id string, from, to model.ActualStatus) error
	IsSignatory(ctx context.Context, contractID, userID string) (bool, error)
}

// ContractWriter is the transactional surface used by the renewal factory.
type ContractWriter interface {
	InsertTx(ctx context.Context, q repository.Querier, c *model.Contract) error
	ListSignatoriesTx(ctx context.Context, q repository.Querier, contractID string) ([]model.Signatory, error)
	InsertSignatoriesTx(ctx context.Context, q repository.Querier, signatories []model.Signatory) error
	UpdateActualStatusTx(ctx context.Context, q repository.Querier, id string, from, to model.ActualStatus) error
}

// RenewalStore persists renewal requests.
type RenewalStore interface {
	GetByID(ctx context.Context, id string) (*model.Renewal, error)
	HasPending(ctx context.Context, contractID string) (bool, error)
	Insert(ctx context.Context, rn *model.Renewal) error
	List(ctx context.Context, f repository.RenewalFilter) ([]model.RenewalView, error)
	DecideTx(ctx context.Context, q repository.Querier, id string, d repository.Decision) error
	Escalate(ctx context.Context, id, to, reason string, at time.Time) error
	ListOverdue(ctx context.Context, cutoff time.Time) ([]model.Renewal, error)
}

// UserStore looks up user profiles.
type UserStore interface {
	FirstByRoles(ctx context.Context, roles ...model.Role) (*model.User, error)
}

// NotificationStore persists notifications.
type NotificationStore interface {
	Insert(ctx context.Context, n *model.Notification) error
	DeleteStale(ctx context.Context, readBefore, now time.Time) (read, expired int64, err error)
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(q repository.Querier) error) error
}

// Clock returns the current instant.  Services derive "today" from it in UTC.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

func (c Clock) today() civil.Date {
	return civil.DateOf(c.now())
}

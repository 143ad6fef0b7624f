package lifecycle

import "github.com/iliyamo/contract-lifecycle/internal/model"

// Action names an operation guarded by Allowed.
type Action string

const (
	ActionCreateRenewal        Action = "renewal.create"
	ActionProcessRenewal       Action = "renewal.process"
	ActionEscalateRenewal      Action = "renewal.escalate"
	ActionViewAllRenewals      Action = "renewal.view_all"
	ActionRunLifecycle         Action = "lifecycle.run"
	ActionCleanupNotifications Action = "notifications.cleanup"
	ActionDailyCheck           Action = "lifecycle.daily"
)

// Ownership describes how the caller relates to the contract or renewal
// being acted on.
type Ownership struct {
	Owner     bool // caller created the contract
	Signatory bool // caller is a registered signatory of the contract
	Requester bool // caller requested the renewal
}

// IsSupervisory reports whether the role may act on any contract.
func IsSupervisory(role model.Role) bool {
	return role == model.RoleSupervisor || role == model.RoleAdmin
}

// Allowed is the single access rule consulted by every operation.
func Allowed(role model.Role, own Ownership, action Action) bool {
	if !role.Valid() {
		return false
	}
	switch action {
	case ActionCreateRenewal:
		return own.Owner || own.Signatory
	case ActionProcessRenewal:
		return own.Owner || IsSupervisory(role)
	case ActionEscalateRenewal:
		return own.Owner || own.Requester || IsSupervisory(role)
	case ActionViewAllRenewals, ActionCleanupNotifications, ActionDailyCheck:
		return IsSupervisory(role)
	case ActionRunLifecycle:
		return true
	}
	return false
}

package model

import "time"

// Role is the caller role resolved by the external auth verifier.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleGestor     Role = "gestor"
	RoleUser       Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleGestor, RoleUser:
		return true
	}
	return false
}

// User represents a row of the `user_profiles` table.  Profiles are
// maintained by the auth platform; this service only reads them.
type User struct {
	ID        string    // user_profiles.id
	Name      string    // user_profiles.name
	Email     string    // user_profiles.email
	Role      Role      // user_profiles.role
	CreatedAt time.Time // user_profiles.created_at
}

// Caller is the authenticated identity behind a request.
type Caller struct {
	ID   string
	Role Role
}

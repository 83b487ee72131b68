package domain

import "strings"

// Role is the single source of an actor's privileges.
type Role int

const (
	RoleNone Role = iota
	RoleClient
	RoleAgent
	RoleAdmin
	RoleSuperadmin
	RoleSystem
)

var roleNames = map[Role]string{
	RoleNone:       "none",
	RoleClient:     "client",
	RoleAgent:      "agent",
	RoleAdmin:      "admin",
	RoleSuperadmin: "superadmin",
	RoleSystem:     "system",
}

// roleAliases maps external role names onto roles. Anything else is RoleNone.
var roleAliases = map[string]Role{
	"client":     RoleClient,
	"cliente":    RoleClient,
	"agent":      RoleAgent,
	"agente":     RoleAgent,
	"asesor":     RoleAgent,
	"reviewer":   RoleAgent,
	"admin":      RoleAdmin,
	"superadmin": RoleSuperadmin,
}

// ParseRole maps a role name from the identity provider onto a Role.
// The system role is never parsed from external input.
func ParseRole(name string) Role {
	if role, ok := roleAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return role
	}
	return RoleNone
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "none"
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name; unknown names become RoleNone.
func (r *Role) UnmarshalText(text []byte) error {
	if strings.TrimSpace(string(text)) == "system" {
		*r = RoleSystem
		return nil
	}
	*r = ParseRole(string(text))
	return nil
}

// IsAdmin reports admin-equivalence.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}

// Actor is an already-authenticated caller.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

// SystemActor is used for automated transitions (sweeper, analysis).
var SystemActor = Actor{ID: "system", Name: "system", Role: RoleSystem}

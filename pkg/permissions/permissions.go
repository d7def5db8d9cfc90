package permissions

import (
	"strings"
)

// Role represents an access level within a project. Roles are ordered by
// capability superset: admin covers operator, operator covers viewer.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Capability represents a specific action a role is allowed to perform.
type Capability string

const (
	CapabilityRead              Capability = "read"
	CapabilityDeploy            Capability = "deploy"
	CapabilityScale             Capability = "scale"
	CapabilityRestart           Capability = "restart"
	CapabilityInvalidate        Capability = "invalidate"
	CapabilityRDSControl        Capability = "rds-control"
	CapabilityManagePermissions Capability = "manage-permissions"
)

// Wildcard matches any environment or resource set.
const Wildcard = "*"

// roleCapabilities is the static role-to-capability table.
var roleCapabilities = map[Role][]Capability{
	RoleViewer: {
		CapabilityRead,
	},
	RoleOperator: {
		CapabilityRead,
		CapabilityDeploy,
		CapabilityScale,
		CapabilityRestart,
		CapabilityInvalidate,
	},
	RoleAdmin: {
		CapabilityRead,
		CapabilityDeploy,
		CapabilityScale,
		CapabilityRestart,
		CapabilityInvalidate,
		CapabilityRDSControl,
		CapabilityManagePermissions,
	},
}

// ParseRole returns the Role for a string if it is recognized.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleViewer, RoleOperator, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Capabilities returns the capability set for a role. Unknown roles get
// nothing.
func (r Role) Capabilities() []Capability {
	caps, ok := roleCapabilities[r]
	if !ok {
		return nil
	}
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// Has reports whether the role grants the given capability.
func (r Role) Has(c Capability) bool {
	for _, granted := range roleCapabilities[r] {
		if granted == c {
			return true
		}
	}
	return false
}

// ProjectPermission grants a role over a project, optionally scoped to a
// single environment. Environment and Resources may be the wildcard "*".
type ProjectPermission struct {
	Project     string   `json:"project"`
	Environment string   `json:"environment"`
	Role        Role     `json:"role"`
	Resources   []string `json:"resources"`
}

// Capabilities returns the capability set granted by this permission.
func (p ProjectPermission) Capabilities() []Capability {
	return p.Role.Capabilities()
}

// Covers reports whether this permission applies to the given project and
// environment, honoring the environment wildcard.
func (p ProjectPermission) Covers(project, environment string) bool {
	if p.Project != project {
		return false
	}
	return p.Environment == Wildcard || p.Environment == environment
}

// Derive maps identity-provider group names onto project permissions.
//
// A group of the form {prefix}{project}-{role} grants the role across every
// environment of the project; {prefix}{project}-{environment}-{role} scopes
// it to one environment. Groups without the prefix, with the wrong number of
// segments, or with an unrecognized role are skipped without error: groups
// unrelated to this system are expected in any directory.
func Derive(groups []string, prefix string) []ProjectPermission {
	var perms []ProjectPermission
	for _, group := range groups {
		if perm, ok := deriveOne(group, prefix); ok {
			perms = append(perms, perm)
		}
	}
	return perms
}

func deriveOne(group, prefix string) (ProjectPermission, bool) {
	if !strings.HasPrefix(group, prefix) {
		return ProjectPermission{}, false
	}

	parts := strings.Split(strings.TrimPrefix(group, prefix), "-")
	switch len(parts) {
	case 2:
		role, ok := ParseRole(parts[1])
		if !ok || parts[0] == "" {
			return ProjectPermission{}, false
		}
		return ProjectPermission{
			Project:     parts[0],
			Environment: Wildcard,
			Role:        role,
			Resources:   []string{Wildcard},
		}, true
	case 3:
		role, ok := ParseRole(parts[2])
		if !ok || parts[0] == "" || parts[1] == "" {
			return ProjectPermission{}, false
		}
		return ProjectPermission{
			Project:     parts[0],
			Environment: parts[1],
			Role:        role,
			Resources:   []string{Wildcard},
		}, true
	default:
		return ProjectPermission{}, false
	}
}

// Roles returns the distinct roles present in a permission set, in first
// occurrence order.
func Roles(perms []ProjectPermission) []Role {
	seen := make(map[Role]bool, len(perms))
	var roles []Role
	for _, p := range perms {
		if !seen[p.Role] {
			seen[p.Role] = true
			roles = append(roles, p.Role)
		}
	}
	return roles
}

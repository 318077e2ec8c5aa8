package accesskit

import "strings"

// Role is a canonical role name used for every permission decision.
type Role string

const (
	RoleSuperAdmin    Role = "SUPER_ADMIN"
	RoleDoctor        Role = "DOCTOR"
	RoleAdmin         Role = "ADMIN"
	RoleReceptionist  Role = "RECEPTIONIST"
	RolePharmacist    Role = "PHARMACIST"
	RoleAccountant    Role = "ACCOUNTANT"
	RoleNurse         Role = "NURSE"
	RoleLabTechnician Role = "LAB_TECHNICIAN"
	RoleStaff         Role = "STAFF"
)

// KnownRoles is the set of canonical roles.
var KnownRoles = map[Role]struct{}{
	RoleSuperAdmin: {}, RoleDoctor: {}, RoleAdmin: {}, RoleReceptionist: {},
	RolePharmacist: {}, RoleAccountant: {}, RoleNurse: {}, RoleLabTechnician: {},
	RoleStaff: {},
}

// rolePatterns maps a lowercase substring to a canonical role. Order is load
// bearing: the first match wins, and changing it changes real access
// decisions, so it must stay exactly as listed.
var rolePatterns = []struct {
	substr string
	role   Role
}{
	{"super", RoleSuperAdmin},
	{"doctor", RoleDoctor},
	{"pharm", RolePharmacist},
	{"recept", RoleReceptionist},
	{"account", RoleAccountant},
	{"nurse", RoleNurse},
	{"lab", RoleLabTechnician},
}

// NormalizeRole maps a raw role-like string (formal role name, staff
// designation, free text) to exactly one canonical Role. It is a total
// function: malformed input degrades to STAFF and never errors, since a bad
// role string must never break an authorization decision.
func NormalizeRole(raw string) Role {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RoleStaff
	}

	lower := strings.ToLower(trimmed)
	for _, p := range rolePatterns {
		if strings.Contains(lower, p.substr) {
			return p.role
		}
	}

	return Role(strings.ToUpper(trimmed))
}

// IsCanonical reports whether the role is one of the known canonical values.
func (r Role) IsCanonical() bool {
	_, ok := KnownRoles[r]
	return ok
}

func (r Role) String() string {
	return string(r)
}

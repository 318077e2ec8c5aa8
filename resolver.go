package accesskit

import (
	"sort"

	"github.com/google/uuid"
)

// Resolver is an immutable snapshot of everything a permission decision
// needs: the identity, the optional acting-as user, the clinic's
// role-permission map (nil when unconfigured or unavailable) and the
// platform disabled set. Given the same snapshot every method returns the
// same answer, which keeps decisions unit-testable.
type Resolver struct {
	identity Identity
	actingAs *ActingAs
	perms    RolePermissionMap
	disabled DisabledSet
}

// NewResolver builds a decision snapshot. actingAs may be nil.
func NewResolver(identity Identity, actingAs *ActingAs, perms RolePermissionMap, disabled DisabledSet) *Resolver {
	return &Resolver{
		identity: identity,
		actingAs: actingAs,
		perms:    perms,
		disabled: disabled,
	}
}

// EffectiveRole is the canonical role every decision runs against: the
// acting-as role when viewing as someone else, else the identity's own role.
// An acting-as entry pointing at the identity itself, or with no id, is
// treated as absent here too.
func (r *Resolver) EffectiveRole() Role {
	if r.IsImpersonating() {
		return r.actingAs.EffectiveRole
	}
	return NormalizeRole(r.identity.Role)
}

// IsImpersonating reports whether an acting-as user distinct from the real
// identity is set. An acting-as entry pointing at the identity itself counts
// as not impersonating.
func (r *Resolver) IsImpersonating() bool {
	return r.actingAs != nil &&
		r.actingAs.ID != uuid.Nil &&
		r.actingAs.ID != r.identity.ID
}

// HasPermission decides whether the effective role is granted the permission
// key. The step order encodes precedence and must not be reordered:
//
//  1. disabled patterns block everyone except an effective SUPER_ADMIN
//  2. clinic admins bypass all checks, but only while not impersonating
//  3. with no clinic customization, membership in fallbackRoles decides
//  4. the clinic map is consulted for the effective role (NURSE and
//     LAB_TECHNICIAN inherit the STAFF entry), an empty or missing entry
//     falling back to fallbackRoles
func (r *Resolver) HasPermission(key string, fallbackRoles ...Role) bool {
	effective := r.EffectiveRole()
	impersonating := r.IsImpersonating()

	if r.disabled.Blocks(key) && effective != RoleSuperAdmin {
		return false
	}

	if r.identity.IsClinicAdmin && !impersonating {
		return true
	}

	if r.perms == nil {
		return roleIn(effective, fallbackRoles)
	}

	permsForRole := r.perms.PermissionsFor(effective)
	if len(permsForRole) == 0 {
		return roleIn(effective, fallbackRoles)
	}

	for _, p := range permsForRole {
		if p == key {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether at least one of the keys is granted.
func (r *Resolver) HasAnyPermission(keys []string, fallbackRoles ...Role) bool {
	for _, key := range keys {
		if r.HasPermission(key, fallbackRoles...) {
			return true
		}
	}
	return false
}

// VisibleSections filters a section → required-keys map down to the sections
// whose requirements are met (any-of semantics). The result is sorted for
// stable rendering.
func (r *Resolver) VisibleSections(sections SectionMap) []string {
	visible := make([]string, 0, len(sections))
	for name, spec := range sections {
		if r.HasAnyPermission(spec.Keys, spec.FallbackRoles...) {
			visible = append(visible, name)
		}
	}
	sort.Strings(visible)
	return visible
}

func roleIn(role Role, roles []Role) bool {
	for _, candidate := range roles {
		if candidate == role {
			return true
		}
	}
	return false
}

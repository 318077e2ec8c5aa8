package accesskit

import "strings"

// Permission keys have the form "resource:action", e.g. "patients:create".
// A platform-level disabled entry may also be a bare resource, "resource:*"
// or the global "*".
const (
	WildcardAll    = "*"
	wildcardSuffix = ":*"
)

// ResourceOf returns the resource part of a permission key: the substring
// before the first ':'. A key without a ':' is its own resource.
func ResourceOf(key string) string {
	if i := strings.Index(key, ":"); i >= 0 {
		return key[:i]
	}
	return key
}

// RolePermissionMap holds a clinic's custom role → permission-key
// configuration. A nil map means the clinic has no customization and callers
// fall back to static role lists.
type RolePermissionMap map[Role][]string

// PermissionsFor resolves the configured keys for a role. NURSE and
// LAB_TECHNICIAN inherit the STAFF entry unless they are explicitly
// configured.
func (m RolePermissionMap) PermissionsFor(role Role) []string {
	if m == nil {
		return nil
	}
	if perms, ok := m[role]; ok {
		return perms
	}
	if role == RoleNurse || role == RoleLabTechnician {
		return m[RoleStaff]
	}
	return nil
}

// DisabledSet is the platform-wide set of permission patterns a super-admin
// has disabled for a clinic. Entries may be exact keys, bare resources,
// "resource:*" or "*".
type DisabledSet map[string]struct{}

// NewDisabledSet builds a DisabledSet from raw pattern strings, dropping
// empties.
func NewDisabledSet(patterns []string) DisabledSet {
	set := make(DisabledSet, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

// Blocks reports whether the set disables the given permission key. A key is
// blocked by an exact entry, its bare resource, "resource:*" or the global
// "*".
func (s DisabledSet) Blocks(key string) bool {
	if len(s) == 0 {
		return false
	}
	if _, ok := s[WildcardAll]; ok {
		return true
	}
	if _, ok := s[key]; ok {
		return true
	}
	resource := ResourceOf(key)
	if _, ok := s[resource]; ok {
		return true
	}
	if _, ok := s[resource+wildcardSuffix]; ok {
		return true
	}
	return false
}

// Patterns returns the raw entries, for serialization.
func (s DisabledSet) Patterns() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	return out
}

package accesskit

import (
	"encoding/json"
	"fmt"
)

// SectionSpec lists the permission keys that make a navigable section
// visible (any one grants it) and the static roles assumed to see it when a
// clinic has no permission map configured.
type SectionSpec struct {
	Keys          []string `json:"keys"`
	FallbackRoles []Role   `json:"fallback_roles"`
}

// SectionMap maps section names to their visibility requirements. It is
// data, not logic: deployments override it through configuration.
type SectionMap map[string]SectionSpec

// ParseSectionMap decodes a section map from JSON configuration.
func ParseSectionMap(data []byte) (SectionMap, error) {
	var m SectionMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse section map: %w", err)
	}
	return m, nil
}

// DefaultSectionMap is the stock clinic dashboard layout, used when a
// deployment supplies no override.
func DefaultSectionMap() SectionMap {
	return SectionMap{
		"dashboard": {
			Keys:          []string{"dashboard:view"},
			FallbackRoles: []Role{RoleSuperAdmin, RoleAdmin, RoleDoctor, RoleReceptionist, RolePharmacist, RoleAccountant, RoleNurse, RoleLabTechnician, RoleStaff},
		},
		"patients": {
			Keys:          []string{"patients:read", "patients:create"},
			FallbackRoles: []Role{RoleSuperAdmin, RoleAdmin, RoleDoctor, RoleReceptionist, RoleNurse},
		},
		"appointments": {
			Keys:          []string{"appointments:read", "appointments:create"},
			FallbackRoles: []Role{RoleSuperAdmin, RoleAdmin, RoleDoctor, RoleReceptionist, RoleNurse},
		},
		"prescriptions": {
			Keys:          []string{"prescriptions:read", "prescriptions:create"},
			FallbackRoles: []Role{RoleSuperAdmin, RoleDoctor, RolePharmacist},
		},
		"pharmacy": {
			Keys:          []string{"pharmacy:read", "pharmacy:manage"},
			FallbackRoles: []Role{RoleSuperAdmin, RoleAdmin, RolePharmacist},
		},
		"lab": {
			Keys:          []string{"lab:read", "lab:manage"},
			FallbackRoles: []Role{RoleSuperAdmin, RoleDoctor, RoleLabTechnician},
		},
		"billing": {
			Keys:          []string{"billing:read", "billing:create"},
			FallbackRoles: []Role{RoleSuperAdmin, RoleAdmin, RoleAccountant, RoleReceptionist},
		},
		"reports": {
			Keys:          []string{"reports:view"},
			FallbackRoles: []Role{RoleSuperAdmin, RoleAdmin, RoleAccountant},
		},
		"staff": {
			Keys:          []string{"staff:read", "staff:manage"},
			FallbackRoles: []Role{RoleSuperAdmin, RoleAdmin},
		},
		"settings": {
			Keys:          []string{"settings:clinic"},
			FallbackRoles: []Role{RoleSuperAdmin, RoleAdmin},
		},
	}
}

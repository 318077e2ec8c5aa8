package accesskit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is the Postgres-backed PermissionSource and StaffDirectory, plus the
// write path the platform console uses to configure clinics.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm handle. With autoMigrate it creates the permission,
// staff and audit tables.
func NewStore(db *gorm.DB, autoMigrate bool) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if autoMigrate {
		if err := db.AutoMigrate(&ClinicRolePermission{}, &DisabledPermission{}, &StaffRecord{}, &AccessAudit{}); err != nil {
			return nil, fmt.Errorf("failed to auto-migrate: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// FetchRolePermissions loads the clinic's custom role-permission map. A
// clinic without any rows has no customization and gets a nil map.
func (s *Store) FetchRolePermissions(ctx context.Context, clinicID uuid.UUID) (RolePermissionMap, error) {
	var rows []ClinicRolePermission
	if err := s.db.WithContext(ctx).Where("clinic_id = ?", clinicID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch role permissions: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	perms := make(RolePermissionMap)
	for _, row := range rows {
		role := Role(row.Role)
		perms[role] = append(perms[role], row.Permission)
	}
	return perms, nil
}

// FetchAccessControls loads the platform-level disabled patterns for a
// clinic.
func (s *Store) FetchAccessControls(ctx context.Context, clinicID uuid.UUID) (AccessControls, error) {
	var rows []DisabledPermission
	if err := s.db.WithContext(ctx).Where("clinic_id = ?", clinicID).Find(&rows).Error; err != nil {
		return AccessControls{}, fmt.Errorf("failed to fetch access controls: %w", err)
	}

	patterns := make([]string, 0, len(rows))
	for _, row := range rows {
		patterns = append(patterns, row.Pattern)
	}
	return AccessControls{DisabledPermissions: patterns}, nil
}

// FetchStaffDirectory lists the clinic's staff.
func (s *Store) FetchStaffDirectory(ctx context.Context, clinicID uuid.UUID) ([]StaffMember, error) {
	var rows []StaffRecord
	if err := s.db.WithContext(ctx).Where("clinic_id = ?", clinicID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch staff directory: %w", err)
	}

	members := make([]StaffMember, 0, len(rows))
	for _, row := range rows {
		members = append(members, StaffMember{
			ID:          row.ID,
			Name:        row.Name,
			Role:        row.Role,
			Designation: row.Designation,
		})
	}
	return members, nil
}

// SaveRolePermissions replaces a clinic's configured permissions for one
// role.
func (s *Store) SaveRolePermissions(ctx context.Context, clinicID uuid.UUID, role Role, permissions []string) error {
	if clinicID == uuid.Nil || role == "" {
		return ErrInvalidInput
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("clinic_id = ? AND role = ?", clinicID, role.String()).
			Delete(&ClinicRolePermission{}).Error; err != nil {
			return fmt.Errorf("failed to clear existing permissions: %w", err)
		}
		for _, perm := range permissions {
			row := ClinicRolePermission{ClinicID: clinicID, Role: role.String(), Permission: perm}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to save permission %s: %w", perm, err)
			}
		}
		return nil
	})
}

// DisablePermission records a platform-level disabled pattern for a clinic.
func (s *Store) DisablePermission(ctx context.Context, clinicID uuid.UUID, pattern string) error {
	if clinicID == uuid.Nil || pattern == "" {
		return ErrInvalidInput
	}

	var existing DisabledPermission
	err := s.db.WithContext(ctx).
		Where("clinic_id = ? AND pattern = ?", clinicID, pattern).
		First(&existing).Error
	if err == nil {
		return nil
	}

	row := DisabledPermission{ClinicID: clinicID, Pattern: pattern}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to disable permission: %w", err)
	}
	return nil
}

// EnablePermission removes a disabled pattern.
func (s *Store) EnablePermission(ctx context.Context, clinicID uuid.UUID, pattern string) error {
	if clinicID == uuid.Nil || pattern == "" {
		return ErrInvalidInput
	}

	if err := s.db.WithContext(ctx).
		Where("clinic_id = ? AND pattern = ?", clinicID, pattern).
		Delete(&DisabledPermission{}).Error; err != nil {
		return fmt.Errorf("failed to enable permission: %w", err)
	}
	return nil
}

// UpsertStaff creates or updates a staff directory entry.
func (s *Store) UpsertStaff(ctx context.Context, record StaffRecord) error {
	if record.ID == uuid.Nil || record.ClinicID == uuid.Nil {
		return ErrInvalidInput
	}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return fmt.Errorf("failed to save staff record: %w", err)
	}
	return nil
}

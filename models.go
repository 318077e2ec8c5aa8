package accesskit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClinicRolePermission is one row of a clinic's custom role → permission
// configuration.
type ClinicRolePermission struct {
	ID         uint      `gorm:"primaryKey"`
	ClinicID   uuid.UUID `gorm:"type:uuid;index:idx_clinic_role;not null"`
	Role       string    `gorm:"index:idx_clinic_role;not null"`
	Permission string    `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}

// DisabledPermission is a platform-level pattern a super-admin disabled for a
// clinic. Pattern may be an exact key, a bare resource, "resource:*" or "*".
type DisabledPermission struct {
	ID        uint      `gorm:"primaryKey"`
	ClinicID  uuid.UUID `gorm:"type:uuid;index;not null"`
	Pattern   string    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// StaffRecord is a clinic staff directory entry.
type StaffRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClinicID      uuid.UUID `gorm:"type:uuid;index;not null"`
	Name          string    `gorm:"not null"`
	Email         string    `gorm:"index"`
	Role          string
	Designation   string
	IsClinicAdmin bool `gorm:"default:false"`
	IsOwner       bool `gorm:"default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

// AccessAudit tracks session and permission events.
type AccessAudit struct {
	ID        uint      `gorm:"primaryKey"`
	ActorID   uuid.UUID `gorm:"type:uuid;index"`
	ClinicID  uuid.UUID `gorm:"type:uuid;index"`
	Action    string    `gorm:"not null"`
	Target    string
	Success   bool
	Details   string
	CreatedAt time.Time
}

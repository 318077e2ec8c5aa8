package accesskit

import (
	"context"

	"github.com/google/uuid"
)

// Identity is the authenticated principal. It is immutable for the lifetime
// of a session and replaced wholesale on login/logout.
type Identity struct {
	ID            uuid.UUID `json:"id"`
	ClinicID      uuid.UUID `json:"clinic_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"` // raw, normalized at decision time
	ClinicRole    string    `json:"clinic_role"`
	IsClinicAdmin bool      `json:"is_clinic_admin"`
	IsOwner       bool      `json:"is_owner"`
}

// ActingAs is the optional "view as" target. Role is normalized when the
// acting-as user is set so downstream consumers never see a raw string.
type ActingAs struct {
	ID            uuid.UUID `json:"id"`
	RawRole       string    `json:"raw_role"`
	EffectiveRole Role      `json:"effective_role"`
}

// Credentials are login inputs passed through to the identity service.
type Credentials struct {
	Email    string
	Password string
}

// AccessControls carries the platform-level disabled permission patterns for
// a clinic.
type AccessControls struct {
	DisabledPermissions []string `json:"disabled_permissions"`
}

// ImpersonationGrant is a server-issued impersonation token plus the resolved
// target user.
type ImpersonationGrant struct {
	Token string   `json:"token"`
	User  Identity `json:"user"`
}

// StaffMember is one entry of the clinic staff directory, used to build a
// local ActingAs when no server token is available.
type StaffMember struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Designation string    `json:"designation"`
}

// IdentityService authenticates users and resolves session tokens.
type IdentityService interface {
	Login(ctx context.Context, creds Credentials) (Identity, string, error)
	FetchCurrentUser(ctx context.Context, token string) (Identity, error)
	Logout(ctx context.Context, token string) error
}

// PermissionSource fetches a clinic's permission configuration. A nil
// RolePermissionMap means the clinic has no customization.
type PermissionSource interface {
	FetchRolePermissions(ctx context.Context, clinicID uuid.UUID) (RolePermissionMap, error)
	FetchAccessControls(ctx context.Context, clinicID uuid.UUID) (AccessControls, error)
}

// StaffDirectory resolves clinic staff, used for the impersonation fallback
// path.
type StaffDirectory interface {
	FetchStaffDirectory(ctx context.Context, clinicID uuid.UUID) ([]StaffMember, error)
}

// Impersonator requests and ends server-backed impersonation.
type Impersonator interface {
	RequestImpersonationToken(ctx context.Context, userID uuid.UUID) (ImpersonationGrant, error)
	EndImpersonation(ctx context.Context) error
}

// SessionStore persists the acting-as marker so impersonation survives a
// reload within the same session. Implementations must treat Save/Clear as
// replacing the whole marker.
type SessionStore interface {
	SaveActingAs(ctx context.Context, sessionID uuid.UUID, actingAsID uuid.UUID) error
	LoadActingAs(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, bool, error)
	ClearActingAs(ctx context.Context, sessionID uuid.UUID) error
}

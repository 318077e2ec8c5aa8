package accesskit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config holds the configuration for the access-control service.
type Config struct {
	DB          *gorm.DB
	RedisClient *redis.Client
	CacheTTL    time.Duration
	CachePrefix string
	AutoMigrate bool

	// Collaborators. Identity and Impersonator have no in-repo default;
	// PermissionSource and StaffDirectory default to the Postgres store.
	Identity         IdentityService
	Impersonator     Impersonator
	PermissionSource PermissionSource
	StaffDirectory   StaffDirectory
	SessionStore     SessionStore

	Sections           SectionMap
	SessionLoadTimeout time.Duration
	EnableAuditLogging bool
	Logger             *zap.SugaredLogger
}

// Service is the single permission-decision surface the rest of the clinic
// ERP consumes: every screen, menu and route gate calls through here instead
// of re-deriving role logic locally.
type Service struct {
	db           *gorm.DB
	store        *Store
	session      *Session
	cache        *permissionCache
	sections     SectionMap
	log          *zap.SugaredLogger
	auditEnabled bool
}

// New initializes the service. The DB and an IdentityService are required;
// redis is optional and only disables the shared cache layer when absent.
func New(cfg Config) (*Service, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("identity service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "accesskit:"
	}

	store, err := NewStore(cfg.DB, cfg.AutoMigrate)
	if err != nil {
		return nil, err
	}

	permSource := cfg.PermissionSource
	if permSource == nil {
		permSource = store
	}
	staffDir := cfg.StaffDirectory
	if staffDir == nil {
		staffDir = store
	}
	sessionStore := cfg.SessionStore
	if sessionStore == nil && cfg.RedisClient != nil {
		sessionStore = NewRedisSessionStore(cfg.RedisClient, cfg.CachePrefix, 0)
	}

	session, err := NewSession(SessionConfig{
		Identity:       cfg.Identity,
		StaffDirectory: staffDir,
		Impersonator:   cfg.Impersonator,
		Store:          sessionStore,
		Logger:         cfg.Logger,
		LoadTimeout:    cfg.SessionLoadTimeout,
	})
	if err != nil {
		return nil, err
	}

	sections := cfg.Sections
	if sections == nil {
		sections = DefaultSectionMap()
	}

	return &Service{
		db:           cfg.DB,
		store:        store,
		session:      session,
		cache:        newPermissionCache(permSource, cfg.RedisClient, cfg.CacheTTL, cfg.CachePrefix, cfg.Logger),
		sections:     sections,
		log:          cfg.Logger,
		auditEnabled: cfg.EnableAuditLogging,
	}, nil
}

// Session exposes the identity state machine.
func (s *Service) Session() *Session {
	return s.session
}

// Store exposes the configuration write path used by the platform console.
func (s *Service) Store() *Store {
	return s.store
}

// Resolver builds a decision snapshot from the current session and cached
// permission data. Returns false when no session is active.
func (s *Service) Resolver(ctx context.Context) (*Resolver, bool) {
	identity, actingAs, ok := s.session.Snapshot()
	if !ok {
		return nil, false
	}
	perms, disabled := s.cache.Snapshot(ctx, identity.ClinicID)
	return NewResolver(identity, actingAs, perms, disabled), true
}

// HasPermission decides a permission key against the active session. No
// session means no access.
func (s *Service) HasPermission(ctx context.Context, key string, fallbackRoles ...Role) bool {
	identity, actingAs, ok := s.session.Snapshot()
	if !ok {
		return false
	}
	perms, disabled := s.cache.Snapshot(ctx, identity.ClinicID)
	resolver := NewResolver(identity, actingAs, perms, disabled)
	granted := resolver.HasPermission(key, fallbackRoles...)

	s.logAudit(ctx, identity.ID, identity.ClinicID, "check_permission", key, granted, string(resolver.EffectiveRole()))
	return granted
}

// EffectiveRole returns the role decisions currently run against, STAFF when
// logged out.
func (s *Service) EffectiveRole() Role {
	identity, actingAs, ok := s.session.Snapshot()
	if !ok {
		return RoleStaff
	}
	return NewResolver(identity, actingAs, nil, nil).EffectiveRole()
}

// IsImpersonating reports whether the session is viewing as another user.
func (s *Service) IsImpersonating() bool {
	identity, actingAs, ok := s.session.Snapshot()
	if !ok || actingAs == nil {
		return false
	}
	return actingAs.ID != uuid.Nil && actingAs.ID != identity.ID
}

// VisibleSections lists the navigable sections the current session may see.
func (s *Service) VisibleSections(ctx context.Context) []string {
	resolver, ok := s.Resolver(ctx)
	if !ok {
		return nil
	}
	return resolver.VisibleSections(s.sections)
}

// Login authenticates and establishes the session.
func (s *Service) Login(ctx context.Context, creds Credentials) (Identity, error) {
	identity, err := s.session.Login(ctx, creds)
	s.logAudit(ctx, identity.ID, identity.ClinicID, "login", creds.Email, err == nil, "")
	return identity, err
}

// LoadSession restores a session from a persisted token.
func (s *Service) LoadSession(ctx context.Context, token string) (Identity, error) {
	return s.session.LoadSession(ctx, token)
}

// Logout tears the session down.
func (s *Service) Logout(ctx context.Context) error {
	identity, _, _ := s.session.Snapshot()
	err := s.session.Logout(ctx)
	s.logAudit(ctx, identity.ID, identity.ClinicID, "logout", "", err == nil, "")
	return err
}

// SetActingAs starts viewing as another staff member.
func (s *Service) SetActingAs(ctx context.Context, userID uuid.UUID) (*ActingAs, error) {
	identity, _, _ := s.session.Snapshot()
	acting, err := s.session.SetActingAs(ctx, userID)
	s.logAudit(ctx, identity.ID, identity.ClinicID, "set_acting_as", userID.String(), acting != nil, "")
	return acting, err
}

// ClearActingAs stops viewing as another user.
func (s *Service) ClearActingAs(ctx context.Context) error {
	identity, _, _ := s.session.Snapshot()
	err := s.session.ClearActingAs(ctx)
	s.logAudit(ctx, identity.ID, identity.ClinicID, "clear_acting_as", "", err == nil, "")
	return err
}

// InvalidatePermissionCache drops cached permission data for a clinic, used
// after the console changes its configuration.
func (s *Service) InvalidatePermissionCache(ctx context.Context, clinicID uuid.UUID) {
	s.cache.Invalidate(ctx, clinicID)
}

package accesskit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserCredential stores a staff member's login secret.
type UserCredential struct {
	StaffID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DBIdentityService authenticates against the staff directory in Postgres
// and keeps session tokens in redis. It satisfies IdentityService for
// deployments that do not bring their own identity provider.
type DBIdentityService struct {
	db       *gorm.DB
	redis    *redis.Client
	prefix   string
	tokenTTL time.Duration
}

// NewDBIdentityService builds the default identity backend.
func NewDBIdentityService(db *gorm.DB, rdb *redis.Client, prefix string, tokenTTL time.Duration) (*DBIdentityService, error) {
	if db == nil || rdb == nil {
		return nil, fmt.Errorf("database and redis client are required")
	}
	if prefix == "" {
		prefix = "accesskit:"
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	if err := db.AutoMigrate(&UserCredential{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate credentials: %w", err)
	}
	return &DBIdentityService{db: db, redis: rdb, prefix: prefix, tokenTTL: tokenTTL}, nil
}

func (s *DBIdentityService) tokenKey(token string) string {
	return s.prefix + "token:" + token
}

// Login verifies credentials and issues a session token.
func (s *DBIdentityService) Login(ctx context.Context, creds Credentials) (Identity, string, error) {
	if creds.Email == "" || creds.Password == "" {
		return Identity{}, "", ErrInvalidInput
	}

	var cred UserCredential
	if err := s.db.WithContext(ctx).Where("email = ?", creds.Email).First(&cred).Error; err != nil {
		return Identity{}, "", ErrAuthFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(creds.Password)); err != nil {
		return Identity{}, "", ErrAuthFailed
	}

	identity, err := s.identityFor(ctx, cred.StaffID)
	if err != nil {
		return Identity{}, "", err
	}

	token := uuid.NewString()
	if err := s.redis.Set(ctx, s.tokenKey(token), cred.StaffID.String(), s.tokenTTL).Err(); err != nil {
		return Identity{}, "", fmt.Errorf("failed to store session token: %w", err)
	}
	return identity, token, nil
}

// FetchCurrentUser resolves a session token back to its identity.
func (s *DBIdentityService) FetchCurrentUser(ctx context.Context, token string) (Identity, error) {
	val, err := s.redis.Get(ctx, s.tokenKey(token)).Result()
	if err == redis.Nil {
		return Identity{}, ErrSessionExpired
	}
	if err != nil {
		return Identity{}, fmt.Errorf("failed to resolve session token: %w", err)
	}

	staffID, err := uuid.Parse(val)
	if err != nil {
		return Identity{}, fmt.Errorf("corrupt session token: %w", err)
	}
	return s.identityFor(ctx, staffID)
}

// Logout revokes the session token.
func (s *DBIdentityService) Logout(ctx context.Context, token string) error {
	return s.redis.Del(ctx, s.tokenKey(token)).Err()
}

// RegisterCredential stores a bcrypt hash for a staff member.
func (s *DBIdentityService) RegisterCredential(ctx context.Context, staffID uuid.UUID, email, password string) error {
	if staffID == uuid.Nil || email == "" || password == "" {
		return ErrInvalidInput
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	cred := UserCredential{StaffID: staffID, Email: email, PasswordHash: string(hash)}
	if err := s.db.WithContext(ctx).Save(&cred).Error; err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *DBIdentityService) identityFor(ctx context.Context, staffID uuid.UUID) (Identity, error) {
	var record StaffRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", staffID).Error; err != nil {
		return Identity{}, fmt.Errorf("%w: staff %s", ErrNotFound, staffID)
	}
	role := record.Role
	if role == "" {
		role = record.Designation
	}
	return Identity{
		ID:            record.ID,
		ClinicID:      record.ClinicID,
		Name:          record.Name,
		Email:         record.Email,
		Role:          role,
		ClinicRole:    record.Designation,
		IsClinicAdmin: record.IsClinicAdmin,
		IsOwner:       record.IsOwner,
	}, nil
}

// DBImpersonator issues impersonation grants backed by redis tokens. Grants
// are keyed by target user, so re-requesting a grant for the same user
// replaces rather than leaks the previous token, and EndImpersonation revokes
// every outstanding grant.
type DBImpersonator struct {
	ids      *DBIdentityService
	redis    *redis.Client
	prefix   string
	tokenTTL time.Duration

	mu     sync.Mutex
	issued map[uuid.UUID]struct{}
}

// NewDBImpersonator builds the default impersonation backend on top of the
// identity service.
func NewDBImpersonator(ids *DBIdentityService) *DBImpersonator {
	return &DBImpersonator{
		ids:      ids,
		redis:    ids.redis,
		prefix:   ids.prefix,
		tokenTTL: time.Hour,
		issued:   make(map[uuid.UUID]struct{}),
	}
}

func (i *DBImpersonator) grantKey(userID uuid.UUID) string {
	return i.prefix + "imp:" + userID.String()
}

// RequestImpersonationToken resolves the target user and issues a scoped
// token.
func (i *DBImpersonator) RequestImpersonationToken(ctx context.Context, userID uuid.UUID) (ImpersonationGrant, error) {
	identity, err := i.ids.identityFor(ctx, userID)
	if err != nil {
		return ImpersonationGrant{}, err
	}

	token := uuid.NewString()
	if err := i.redis.Set(ctx, i.grantKey(userID), token, i.tokenTTL).Err(); err != nil {
		return ImpersonationGrant{}, fmt.Errorf("failed to store impersonation token: %w", err)
	}
	i.mu.Lock()
	i.issued[userID] = struct{}{}
	i.mu.Unlock()
	return ImpersonationGrant{Token: token, User: identity}, nil
}

// EndImpersonation revokes every outstanding grant.
func (i *DBImpersonator) EndImpersonation(ctx context.Context) error {
	i.mu.Lock()
	keys := make([]string, 0, len(i.issued))
	for userID := range i.issued {
		keys = append(keys, i.grantKey(userID))
	}
	i.issued = make(map[uuid.UUID]struct{})
	i.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	return i.redis.Del(ctx, keys...).Err()
}

package accesskit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	SessionLoggedOut SessionState = iota
	SessionLoading
	SessionLoggedIn
)

func (s SessionState) String() string {
	switch s {
	case SessionLoading:
		return "loading"
	case SessionLoggedIn:
		return "logged_in"
	default:
		return "logged_out"
	}
}

// DefaultLoadTimeout bounds identity loads; a session load that exceeds it
// degrades to logged-out rather than leaving the caller waiting.
const DefaultLoadTimeout = 10 * time.Second

// Session is the identity/impersonation state machine:
//
//	LoggedOut --login--> Loading --success--> LoggedIn
//	                             --failure--> LoggedOut
//	LoggedIn --setActingAs--> LoggedIn (impersonating)
//	LoggedIn --logout--> LoggedOut
//
// Impersonation is orthogonal to LoggedIn and tracked by the presence of an
// acting-as user. Logout clears identity, acting-as and the persisted
// acting-as marker under one lock so no observer can see a half-cleared
// session.
type Session struct {
	mu       sync.RWMutex
	state    SessionState
	identity Identity
	token    string
	actingAs *ActingAs

	// seq increases on every login, logout, setActingAs and clearActingAs.
	// A slow impersonation-token response is applied only if seq is
	// unchanged since the request was issued.
	seq uint64

	ids         IdentityService
	staff       StaffDirectory
	imp         Impersonator
	store       SessionStore
	log         *zap.SugaredLogger
	loadTimeout time.Duration
}

// SessionConfig wires a Session's collaborators. Store and Impersonator are
// optional; without them impersonation is purely local and unpersisted.
type SessionConfig struct {
	Identity       IdentityService
	StaffDirectory StaffDirectory
	Impersonator   Impersonator
	Store          SessionStore
	Logger         *zap.SugaredLogger
	LoadTimeout    time.Duration
}

// NewSession builds a logged-out session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Identity == nil || cfg.StaffDirectory == nil {
		return nil, fmt.Errorf("identity service and staff directory are required")
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Session{
		state:       SessionLoggedOut,
		ids:         cfg.Identity,
		staff:       cfg.StaffDirectory,
		imp:         cfg.Impersonator,
		store:       cfg.Store,
		log:         cfg.Logger,
		loadTimeout: cfg.LoadTimeout,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the identity and acting-as user for decision making. The
// returned ActingAs is a copy; ok is false while not logged in.
func (s *Session) Snapshot() (Identity, *ActingAs, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != SessionLoggedIn {
		return Identity{}, nil, false
	}
	var acting *ActingAs
	if s.actingAs != nil {
		copied := *s.actingAs
		acting = &copied
	}
	return s.identity, acting, true
}

// Token returns the session token, empty while not logged in.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Login authenticates and replaces the whole session. Any previous
// acting-as state, including the persisted marker, is cleared in the same
// transition so a fresh login can never inherit a stale "view as".
func (s *Session) Login(ctx context.Context, creds Credentials) (Identity, error) {
	s.mu.Lock()
	if s.state == SessionLoading {
		s.mu.Unlock()
		return Identity{}, fmt.Errorf("%w: login already in progress", ErrInvalidInput)
	}
	s.state = SessionLoading
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()

	identity, token, err := s.ids.Login(ctx, creds)
	if err != nil {
		s.mu.Lock()
		s.state = SessionLoggedOut
		s.mu.Unlock()
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	s.mu.Lock()
	s.state = SessionLoggedIn
	s.identity = identity
	s.token = token
	s.actingAs = nil
	s.seq++
	s.mu.Unlock()

	s.clearPersistedActingAs(ctx, identity.ID)
	s.log.Infow("session established", "user_id", identity.ID, "role", identity.Role)
	return identity, nil
}

// LoadSession restores a session from a persisted token, then restores a
// persisted acting-as marker from the staff directory. Any failure on the
// identity fetch degrades to logged-out; a failure restoring acting-as does
// not, since the base session is already valid.
func (s *Session) LoadSession(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: empty session token", ErrAuthFailed)
	}

	s.mu.Lock()
	s.state = SessionLoading
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()

	identity, err := s.ids.FetchCurrentUser(ctx, token)
	if err != nil {
		s.mu.Lock()
		s.state = SessionLoggedOut
		s.identity = Identity{}
		s.token = ""
		s.actingAs = nil
		s.mu.Unlock()
		return Identity{}, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	s.mu.Lock()
	s.state = SessionLoggedIn
	s.identity = identity
	s.token = token
	s.actingAs = nil
	s.seq++
	s.mu.Unlock()

	s.restoreActingAs(ctx, identity)
	return identity, nil
}

// Logout tears the session down. Identity, acting-as and the persisted
// marker are cleared before the identity service is notified, so even a
// failing logout call leaves no residual state behind.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.state != SessionLoggedIn {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	identityID := s.identity.ID
	token := s.token
	wasImpersonating := s.actingAs != nil
	s.state = SessionLoggedOut
	s.identity = Identity{}
	s.token = ""
	s.actingAs = nil
	s.seq++
	s.mu.Unlock()

	s.clearPersistedActingAs(ctx, identityID)

	if wasImpersonating && s.imp != nil {
		if err := s.imp.EndImpersonation(ctx); err != nil {
			s.log.Warnw("end impersonation on logout failed", "error", err)
		}
	}
	if err := s.ids.Logout(ctx, token); err != nil {
		s.log.Warnw("identity service logout failed", "user_id", identityID, "error", err)
	}
	return nil
}

// SetActingAs starts viewing the system as another staff member. The
// acting-as user is built from the staff directory and applied immediately,
// its role normalized up front; a server impersonation token is then
// requested and, when it arrives, upgrades the local entry unless a newer
// SetActingAs or ClearActingAs happened in between. A failed token request
// keeps the local fallback and still returns an ImpersonationError so the
// caller can surface it.
func (s *Session) SetActingAs(ctx context.Context, userID uuid.UUID) (*ActingAs, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidInput
	}

	s.mu.RLock()
	if s.state != SessionLoggedIn {
		s.mu.RUnlock()
		return nil, ErrNotLoggedIn
	}
	identity := s.identity
	s.mu.RUnlock()

	member, err := s.lookupStaff(ctx, identity.ClinicID, userID)
	if err != nil {
		return nil, err
	}

	rawRole := member.Role
	if rawRole == "" {
		rawRole = member.Designation
	}
	acting := &ActingAs{
		ID:            member.ID,
		RawRole:       rawRole,
		EffectiveRole: NormalizeRole(rawRole),
	}

	s.mu.Lock()
	if s.state != SessionLoggedIn {
		s.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	s.actingAs = acting
	s.seq++
	mySeq := s.seq
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveActingAs(ctx, identity.ID, userID); err != nil {
			s.log.Warnw("persisting acting-as marker failed", "user_id", userID, "error", err)
		} else {
			// A ClearActingAs or newer SetActingAs may have landed while
			// the marker write was in flight. Reconcile the marker with
			// whatever state won so a stop-viewing is never resurrected
			// by a slow save.
			s.mu.RLock()
			stale := s.seq != mySeq
			cur := s.actingAs
			s.mu.RUnlock()
			if stale {
				if cur == nil {
					s.clearPersistedActingAs(ctx, identity.ID)
				} else if cur.ID != userID {
					if err := s.store.SaveActingAs(ctx, identity.ID, cur.ID); err != nil {
						s.log.Warnw("persisting acting-as marker failed", "user_id", cur.ID, "error", err)
					}
				}
			}
		}
	}
	s.log.Infow("acting as user", "user_id", userID, "effective_role", acting.EffectiveRole)

	if s.imp == nil {
		return acting, nil
	}

	grant, err := s.imp.RequestImpersonationToken(ctx, userID)
	if err != nil {
		return acting, &ImpersonationError{UserID: userID.String(), Err: err}
	}

	upgraded := &ActingAs{
		ID:            grant.User.ID,
		RawRole:       grant.User.Role,
		EffectiveRole: NormalizeRole(grant.User.Role),
	}

	s.mu.Lock()
	// Discard the server result if the user moved on while it was in
	// flight.
	if s.seq == mySeq && s.state == SessionLoggedIn {
		s.actingAs = upgraded
		acting = upgraded
	}
	s.mu.Unlock()
	return acting, nil
}

// ClearActingAs stops viewing as another user and removes the persisted
// marker. Safe to call when not impersonating.
func (s *Session) ClearActingAs(ctx context.Context) error {
	s.mu.Lock()
	if s.state != SessionLoggedIn {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	identityID := s.identity.ID
	wasImpersonating := s.actingAs != nil
	s.actingAs = nil
	s.seq++
	s.mu.Unlock()

	s.clearPersistedActingAs(ctx, identityID)

	if wasImpersonating && s.imp != nil {
		if err := s.imp.EndImpersonation(ctx); err != nil {
			s.log.Warnw("end impersonation failed", "error", err)
		}
	}
	return nil
}

// restoreActingAs rebuilds the acting-as entry from a persisted marker after
// a session load. Best effort: a missing marker or staff entry just leaves
// the session un-impersonated.
func (s *Session) restoreActingAs(ctx context.Context, identity Identity) {
	if s.store == nil {
		return
	}
	actingID, ok, err := s.store.LoadActingAs(ctx, identity.ID)
	if err != nil {
		s.log.Warnw("loading acting-as marker failed", "error", err)
		return
	}
	if !ok || actingID == uuid.Nil || actingID == identity.ID {
		return
	}

	member, err := s.lookupStaff(ctx, identity.ClinicID, actingID)
	if err != nil {
		s.log.Warnw("restoring acting-as user failed", "acting_as_id", actingID, "error", err)
		return
	}

	rawRole := member.Role
	if rawRole == "" {
		rawRole = member.Designation
	}
	s.mu.Lock()
	if s.state == SessionLoggedIn && s.identity.ID == identity.ID {
		s.actingAs = &ActingAs{
			ID:            member.ID,
			RawRole:       rawRole,
			EffectiveRole: NormalizeRole(rawRole),
		}
	}
	s.mu.Unlock()
}

func (s *Session) lookupStaff(ctx context.Context, clinicID, userID uuid.UUID) (StaffMember, error) {
	members, err := s.staff.FetchStaffDirectory(ctx, clinicID)
	if err != nil {
		return StaffMember{}, fmt.Errorf("failed to fetch staff directory: %w", err)
	}
	for _, m := range members {
		if m.ID == userID {
			return m, nil
		}
	}
	return StaffMember{}, fmt.Errorf("%w: staff member %s", ErrNotFound, userID)
}

func (s *Session) clearPersistedActingAs(ctx context.Context, sessionID uuid.UUID) {
	if s.store == nil || sessionID == uuid.Nil {
		return
	}
	if err := s.store.ClearActingAs(ctx, sessionID); err != nil {
		s.log.Warnw("clearing acting-as marker failed", "error", err)
	}
}

package accesskit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockIdentityService is a mock implementation of IdentityService
type MockIdentityService struct {
	mock.Mock
}

func (m *MockIdentityService) Login(ctx context.Context, creds Credentials) (Identity, string, error) {
	args := m.Called(ctx, creds)
	return args.Get(0).(Identity), args.String(1), args.Error(2)
}

func (m *MockIdentityService) FetchCurrentUser(ctx context.Context, token string) (Identity, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(Identity), args.Error(1)
}

func (m *MockIdentityService) Logout(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// MockStaffDirectory is a mock implementation of StaffDirectory
type MockStaffDirectory struct {
	mock.Mock
}

func (m *MockStaffDirectory) FetchStaffDirectory(ctx context.Context, clinicID uuid.UUID) ([]StaffMember, error) {
	args := m.Called(ctx, clinicID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]StaffMember), args.Error(1)
}

// MockImpersonator is a mock implementation of Impersonator
type MockImpersonator struct {
	mock.Mock
}

func (m *MockImpersonator) RequestImpersonationToken(ctx context.Context, userID uuid.UUID) (ImpersonationGrant, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(ImpersonationGrant), args.Error(1)
}

func (m *MockImpersonator) EndImpersonation(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// memorySessionStore is an in-memory SessionStore for tests.
type memorySessionStore struct {
	mu      sync.Mutex
	markers map[uuid.UUID]uuid.UUID
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{markers: make(map[uuid.UUID]uuid.UUID)}
}

func (s *memorySessionStore) SaveActingAs(_ context.Context, sessionID, actingAsID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[sessionID] = actingAsID
	return nil
}

func (s *memorySessionStore) LoadActingAs(_ context.Context, sessionID uuid.UUID) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.markers[sessionID]
	return id, ok, nil
}

func (s *memorySessionStore) ClearActingAs(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, sessionID)
	return nil
}

// markerHookStore runs a hook just before each marker save lands, to open the
// window between applying acting-as locally and persisting it.
type markerHookStore struct {
	*memorySessionStore
	beforeSave func()
}

func (s *markerHookStore) SaveActingAs(ctx context.Context, sessionID, actingAsID uuid.UUID) error {
	if s.beforeSave != nil {
		s.beforeSave()
	}
	return s.memorySessionStore.SaveActingAs(ctx, sessionID, actingAsID)
}

type sessionFixture struct {
	session *Session
	ids     *MockIdentityService
	staff   *MockStaffDirectory
	imp     *MockImpersonator
	store   *memorySessionStore

	clinicID uuid.UUID
	admin    Identity
	nurse    StaffMember
}

func setupSessionTest(t *testing.T) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		ids:      &MockIdentityService{},
		staff:    &MockStaffDirectory{},
		imp:      &MockImpersonator{},
		store:    newMemorySessionStore(),
		clinicID: uuid.New(),
	}
	f.admin = Identity{
		ID:            uuid.New(),
		ClinicID:      f.clinicID,
		Name:          "Clinic Admin",
		Email:         "admin@clinic.test",
		Role:          "Admin",
		IsClinicAdmin: true,
	}
	f.nurse = StaffMember{ID: uuid.New(), Name: "Nina", Role: "Head Nurse"}

	session, err := NewSession(SessionConfig{
		Identity:       f.ids,
		StaffDirectory: f.staff,
		Impersonator:   f.imp,
		Store:          f.store,
	})
	require.NoError(t, err)
	f.session = session
	return f
}

func (f *sessionFixture) login(t *testing.T) {
	t.Helper()
	f.ids.On("Login", mock.Anything, mock.Anything).Return(f.admin, "token-1", nil).Once()
	_, err := f.session.Login(context.Background(), Credentials{Email: f.admin.Email, Password: "pw"})
	require.NoError(t, err)
}

func TestSessionLogin(t *testing.T) {
	t.Run("success transitions to logged in", func(t *testing.T) {
		f := setupSessionTest(t)
		f.ids.On("Login", mock.Anything, mock.Anything).Return(f.admin, "token-1", nil).Once()

		identity, err := f.session.Login(context.Background(), Credentials{Email: f.admin.Email, Password: "pw"})
		require.NoError(t, err)
		assert.Equal(t, f.admin.ID, identity.ID)
		assert.Equal(t, SessionLoggedIn, f.session.State())
		assert.Equal(t, "token-1", f.session.Token())
	})

	t.Run("failure degrades to logged out with auth error", func(t *testing.T) {
		f := setupSessionTest(t)
		f.ids.On("Login", mock.Anything, mock.Anything).
			Return(Identity{}, "", errors.New("bad credentials")).Once()

		_, err := f.session.Login(context.Background(), Credentials{Email: "x", Password: "y"})
		assert.ErrorIs(t, err, ErrAuthFailed)
		assert.Equal(t, SessionLoggedOut, f.session.State())
	})
}

func TestSessionLoadSession(t *testing.T) {
	t.Run("invalid token degrades to logged out", func(t *testing.T) {
		f := setupSessionTest(t)
		f.ids.On("FetchCurrentUser", mock.Anything, "stale").
			Return(Identity{}, errors.New("expired")).Once()

		_, err := f.session.LoadSession(context.Background(), "stale")
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.Equal(t, SessionLoggedOut, f.session.State())

		_, _, ok := f.session.Snapshot()
		assert.False(t, ok)
	})

	t.Run("restores persisted acting-as marker", func(t *testing.T) {
		f := setupSessionTest(t)
		require.NoError(t, f.store.SaveActingAs(context.Background(), f.admin.ID, f.nurse.ID))

		f.ids.On("FetchCurrentUser", mock.Anything, "token-1").Return(f.admin, nil).Once()
		f.staff.On("FetchStaffDirectory", mock.Anything, f.clinicID).
			Return([]StaffMember{f.nurse}, nil).Once()

		_, err := f.session.LoadSession(context.Background(), "token-1")
		require.NoError(t, err)

		_, acting, ok := f.session.Snapshot()
		require.True(t, ok)
		require.NotNil(t, acting)
		assert.Equal(t, f.nurse.ID, acting.ID)
		assert.Equal(t, RoleNurse, acting.EffectiveRole)
	})

	t.Run("hung identity service times out to logged out", func(t *testing.T) {
		f := setupSessionTest(t)
		session, err := NewSession(SessionConfig{
			Identity:       f.ids,
			StaffDirectory: f.staff,
			Store:          f.store,
			LoadTimeout:    20 * time.Millisecond,
		})
		require.NoError(t, err)

		f.ids.On("FetchCurrentUser", mock.Anything, "token-1").
			Run(func(args mock.Arguments) {
				ctx := args.Get(0).(context.Context)
				<-ctx.Done()
			}).
			Return(Identity{}, context.DeadlineExceeded).Once()

		_, err = session.LoadSession(context.Background(), "token-1")
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.Equal(t, SessionLoggedOut, session.State())
	})

	t.Run("marker restore failure keeps the base session", func(t *testing.T) {
		f := setupSessionTest(t)
		require.NoError(t, f.store.SaveActingAs(context.Background(), f.admin.ID, f.nurse.ID))

		f.ids.On("FetchCurrentUser", mock.Anything, "token-1").Return(f.admin, nil).Once()
		f.staff.On("FetchStaffDirectory", mock.Anything, f.clinicID).
			Return(nil, errors.New("directory down")).Once()

		_, err := f.session.LoadSession(context.Background(), "token-1")
		require.NoError(t, err)

		_, acting, ok := f.session.Snapshot()
		assert.True(t, ok)
		assert.Nil(t, acting)
	})
}

func TestSessionSetActingAs(t *testing.T) {
	t.Run("requires an active session", func(t *testing.T) {
		f := setupSessionTest(t)
		_, err := f.session.SetActingAs(context.Background(), f.nurse.ID)
		assert.ErrorIs(t, err, ErrNotLoggedIn)
	})

	t.Run("normalizes the role immediately and persists the marker", func(t *testing.T) {
		f := setupSessionTest(t)
		f.login(t)

		f.staff.On("FetchStaffDirectory", mock.Anything, f.clinicID).
			Return([]StaffMember{f.nurse}, nil).Once()
		grant := ImpersonationGrant{
			Token: "imp-token",
			User:  Identity{ID: f.nurse.ID, Role: "Head Nurse"},
		}
		f.imp.On("RequestImpersonationToken", mock.Anything, f.nurse.ID).Return(grant, nil).Once()

		acting, err := f.session.SetActingAs(context.Background(), f.nurse.ID)
		require.NoError(t, err)
		assert.Equal(t, RoleNurse, acting.EffectiveRole)

		marker, ok, _ := f.store.LoadActingAs(context.Background(), f.admin.ID)
		assert.True(t, ok)
		assert.Equal(t, f.nurse.ID, marker)
	})

	t.Run("token failure keeps local fallback and reports it", func(t *testing.T) {
		f := setupSessionTest(t)
		f.login(t)

		f.staff.On("FetchStaffDirectory", mock.Anything, f.clinicID).
			Return([]StaffMember{f.nurse}, nil).Once()
		f.imp.On("RequestImpersonationToken", mock.Anything, f.nurse.ID).
			Return(ImpersonationGrant{}, errors.New("token service down")).Once()

		acting, err := f.session.SetActingAs(context.Background(), f.nurse.ID)

		var impErr *ImpersonationError
		require.ErrorAs(t, err, &impErr)
		require.NotNil(t, acting)
		assert.Equal(t, f.nurse.ID, acting.ID)
		assert.Equal(t, RoleNurse, acting.EffectiveRole)

		_, snapshot, ok := f.session.Snapshot()
		require.True(t, ok)
		assert.NotNil(t, snapshot)
	})

	t.Run("unknown staff member is rejected", func(t *testing.T) {
		f := setupSessionTest(t)
		f.login(t)

		f.staff.On("FetchStaffDirectory", mock.Anything, f.clinicID).
			Return([]StaffMember{}, nil).Once()

		_, err := f.session.SetActingAs(context.Background(), uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stop-viewing during the marker save is not overwritten", func(t *testing.T) {
		f := setupSessionTest(t)

		hook := &markerHookStore{memorySessionStore: newMemorySessionStore()}
		session, err := NewSession(SessionConfig{
			Identity:       f.ids,
			StaffDirectory: f.staff,
			Impersonator:   f.imp,
			Store:          hook,
		})
		require.NoError(t, err)
		f.session = session
		f.login(t)

		f.staff.On("FetchStaffDirectory", mock.Anything, f.clinicID).
			Return([]StaffMember{f.nurse}, nil).Once()
		f.imp.On("EndImpersonation", mock.Anything).Return(nil)
		f.imp.On("RequestImpersonationToken", mock.Anything, f.nurse.ID).
			Return(ImpersonationGrant{User: Identity{ID: f.nurse.ID, Role: "Head Nurse"}}, nil).Maybe()

		// The user stops viewing while the marker save is in flight.
		hook.beforeSave = func() {
			hook.beforeSave = nil
			require.NoError(t, f.session.ClearActingAs(context.Background()))
		}

		_, err = f.session.SetActingAs(context.Background(), f.nurse.ID)
		require.NoError(t, err)

		_, acting, ok := f.session.Snapshot()
		require.True(t, ok)
		assert.Nil(t, acting)
		_, marked, _ := hook.LoadActingAs(context.Background(), f.admin.ID)
		assert.False(t, marked, "persisted marker must not survive a stop-viewing")
	})

	t.Run("late token result does not revert a stop-viewing", func(t *testing.T) {
		f := setupSessionTest(t)
		f.login(t)

		f.staff.On("FetchStaffDirectory", mock.Anything, f.clinicID).
			Return([]StaffMember{f.nurse}, nil).Once()
		f.imp.On("EndImpersonation", mock.Anything).Return(nil)

		grant := ImpersonationGrant{
			Token: "imp-token",
			User:  Identity{ID: f.nurse.ID, Role: "Head Nurse"},
		}
		// The user stops viewing while the token request is in flight.
		f.imp.On("RequestImpersonationToken", mock.Anything, f.nurse.ID).
			Run(func(args mock.Arguments) {
				require.NoError(t, f.session.ClearActingAs(context.Background()))
			}).
			Return(grant, nil).Once()

		_, err := f.session.SetActingAs(context.Background(), f.nurse.ID)
		require.NoError(t, err)

		_, acting, ok := f.session.Snapshot()
		require.True(t, ok)
		assert.Nil(t, acting, "stale token result must be discarded")
	})
}

func TestSessionClearActingAs(t *testing.T) {
	t.Run("round trip restores prior behavior", func(t *testing.T) {
		f := setupSessionTest(t)
		f.login(t)

		before, beforeActing, _ := f.session.Snapshot()
		require.Nil(t, beforeActing)

		f.staff.On("FetchStaffDirectory", mock.Anything, f.clinicID).
			Return([]StaffMember{f.nurse}, nil).Once()
		f.imp.On("RequestImpersonationToken", mock.Anything, f.nurse.ID).
			Return(ImpersonationGrant{User: Identity{ID: f.nurse.ID, Role: "Head Nurse"}}, nil).Once()
		f.imp.On("EndImpersonation", mock.Anything).Return(nil).Once()

		_, err := f.session.SetActingAs(context.Background(), f.nurse.ID)
		require.NoError(t, err)
		require.NoError(t, f.session.ClearActingAs(context.Background()))

		after, afterActing, ok := f.session.Snapshot()
		require.True(t, ok)
		assert.Equal(t, before, after)
		assert.Nil(t, afterActing)

		_, marked, _ := f.store.LoadActingAs(context.Background(), f.admin.ID)
		assert.False(t, marked)
	})
}

func TestSessionLogout(t *testing.T) {
	t.Run("clears identity, acting-as and marker atomically", func(t *testing.T) {
		f := setupSessionTest(t)
		f.login(t)

		f.staff.On("FetchStaffDirectory", mock.Anything, f.clinicID).
			Return([]StaffMember{f.nurse}, nil).Once()
		f.imp.On("RequestImpersonationToken", mock.Anything, f.nurse.ID).
			Return(ImpersonationGrant{User: Identity{ID: f.nurse.ID, Role: "Head Nurse"}}, nil).Once()
		f.imp.On("EndImpersonation", mock.Anything).Return(nil).Once()
		f.ids.On("Logout", mock.Anything, "token-1").Return(nil).Once()

		_, err := f.session.SetActingAs(context.Background(), f.nurse.ID)
		require.NoError(t, err)
		require.NoError(t, f.session.Logout(context.Background()))

		assert.Equal(t, SessionLoggedOut, f.session.State())
		_, _, ok := f.session.Snapshot()
		assert.False(t, ok)
		_, marked, _ := f.store.LoadActingAs(context.Background(), f.admin.ID)
		assert.False(t, marked, "persisted marker must not survive logout")
	})

	t.Run("fresh login after logout never sees the old acting-as role", func(t *testing.T) {
		f := setupSessionTest(t)
		f.login(t)

		f.staff.On("FetchStaffDirectory", mock.Anything, f.clinicID).
			Return([]StaffMember{f.nurse}, nil).Once()
		f.imp.On("RequestImpersonationToken", mock.Anything, f.nurse.ID).
			Return(ImpersonationGrant{User: Identity{ID: f.nurse.ID, Role: "Head Nurse"}}, nil).Once()
		f.imp.On("EndImpersonation", mock.Anything).Return(nil).Once()
		f.ids.On("Logout", mock.Anything, "token-1").Return(nil).Once()

		_, err := f.session.SetActingAs(context.Background(), f.nurse.ID)
		require.NoError(t, err)
		require.NoError(t, f.session.Logout(context.Background()))

		doctor := Identity{ID: uuid.New(), ClinicID: f.clinicID, Role: "Doctor"}
		f.ids.On("Login", mock.Anything, mock.Anything).Return(doctor, "token-2", nil).Once()
		_, err = f.session.Login(context.Background(), Credentials{Email: "doc@clinic.test", Password: "pw"})
		require.NoError(t, err)

		identity, acting, ok := f.session.Snapshot()
		require.True(t, ok)
		assert.Nil(t, acting)
		assert.Equal(t, RoleDoctor, NormalizeRole(identity.Role))
	})

	t.Run("logout while logged out is rejected", func(t *testing.T) {
		f := setupSessionTest(t)
		assert.ErrorIs(t, f.session.Logout(context.Background()), ErrNotLoggedIn)
	})
}

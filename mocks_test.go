package auth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	auth "github.com/ecofy/ecofy-auth"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var fixedNow = time.Unix(1_700_000_000, 0).UTC()

func fixedClock() time.Time { return fixedNow }

// MockPrincipalRepository implements auth.PrincipalRepository for testing
type MockPrincipalRepository struct {
	mock.Mock
}

func (m *MockPrincipalRepository) FindByKindAndID(ctx context.Context, kind auth.PrincipalKind, id int64) (*auth.PrincipalRecord, error) {
	args := m.Called(ctx, kind, id)
	record, _ := args.Get(0).(*auth.PrincipalRecord)
	return record, args.Error(1)
}

func record(id int64, role auth.Role, status auth.Status) *auth.PrincipalRecord {
	return &auth.PrincipalRecord{
		Account: auth.Account{
			ID:     id,
			Role:   role,
			Status: status,
		},
	}
}

// recordingSink captures activity events in memory.
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Events() []auth.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auth.ActivityEvent(nil), s.events...)
}

func (s *recordingSink) OfType(eventType auth.ActivityEventType) []auth.ActivityEvent {
	var out []auth.ActivityEvent
	for _, event := range s.Events() {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

func newTestRepos(t *testing.T) auth.RepositoryManager {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := auth.OpenDB(auth.DriverSQLite, "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, auth.Migrate(context.Background(), db))

	repos := auth.NewRepositoryManager(db)
	require.NoError(t, repos.Validate())
	return repos
}

func newTestHasher(t *testing.T) *auth.PasswordHasher {
	t.Helper()
	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return hasher
}

func newTestTokens(t *testing.T, opts ...auth.TokenServiceOption) *auth.TokenService {
	t.Helper()
	opts = append([]auth.TokenServiceOption{auth.WithTokenLogger(auth.NopLogger{})}, opts...)
	tokens, err := auth.NewTokenService([]byte("test-signing-key-0123456789abcdef"), time.Hour, opts...)
	require.NoError(t, err)
	return tokens
}

func account(t *testing.T, hasher *auth.PasswordHasher, role auth.Role, status auth.Status, email, password string) auth.Account {
	t.Helper()
	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	return auth.Account{
		Role:         role,
		Status:       status,
		Email:        auth.NormalizeEmail(email),
		PasswordHash: hash,
		CreatedAt:    fixedNow,
		UpdatedAt:    fixedNow,
	}
}

func seedUser(t *testing.T, repos auth.RepositoryManager, hasher *auth.PasswordHasher, email, password string, status auth.Status) *auth.User {
	t.Helper()
	user := &auth.User{
		Account:   account(t, hasher, auth.RoleUser, status, email, password),
		FirstName: "Olena",
		LastName:  "Koval",
	}
	require.NoError(t, repos.Principals().InsertTx(context.Background(), repos.DB(), auth.KindUser, user))
	return user
}

func seedAdmin(t *testing.T, repos auth.RepositoryManager, hasher *auth.PasswordHasher, email, password string) *auth.Admin {
	t.Helper()
	admin := &auth.Admin{
		Account:   account(t, hasher, auth.RoleAdmin, auth.StatusActive, email, password),
		FirstName: "Ivan",
		LastName:  "Shevchenko",
	}
	require.NoError(t, repos.Principals().InsertTx(context.Background(), repos.DB(), auth.KindAdmin, admin))
	return admin
}

func seedOrganization(t *testing.T, repos auth.RepositoryManager, hasher *auth.PasswordHasher, email, edrpou string, status auth.Status) *auth.Organization {
	t.Helper()
	org := &auth.Organization{
		Account: account(t, hasher, auth.RoleOrganization, status, email, "org-password"),
		Name:    "Green Collect",
		EDRPOU:  edrpou,
	}
	require.NoError(t, repos.Principals().InsertTx(context.Background(), repos.DB(), auth.KindOrganization, org))
	return org
}

func seedDisposalRequest(t *testing.T, repos auth.RepositoryManager, orgID int64, userID *int64) int64 {
	t.Helper()
	req := &auth.DisposalRequest{
		OrganizationID: orgID,
		UserID:         userID,
		Status:         "pending",
		CreatedAt:      fixedNow,
	}
	_, err := repos.DB().NewInsert().Model(req).Returning("id").Exec(context.Background())
	require.NoError(t, err)
	return req.ID
}

func removeDisposalRequest(t *testing.T, repos auth.RepositoryManager, id int64) {
	t.Helper()
	_, err := repos.DB().NewDelete().
		Model((*auth.DisposalRequest)(nil)).
		Where("id = ?", id).
		Exec(context.Background())
	require.NoError(t, err)
}

func adminActor(id int64) *auth.Principal {
	return &auth.Principal{ID: id, Kind: auth.KindAdmin, Role: auth.RoleAdmin, Status: auth.StatusActive}
}

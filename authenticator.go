package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string     `json:"token"`
	Principal *Principal `json:"principal"`
}

// AdminSeed describes the bootstrap administrator.
type AdminSeed struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Auther verifies credentials and issues tokens.
type Auther struct {
	repos        RepositoryManager
	tokens       TokenCodec
	hasher       *PasswordHasher
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// AutherOption customizes an Auther.
type AutherOption func(*Auther)

// WithAutherHasher sets the password hasher.
func WithAutherHasher(hasher *PasswordHasher) AutherOption {
	return func(a *Auther) {
		if hasher != nil {
			a.hasher = hasher
		}
	}
}

// WithAutherLogger sets the logger.
func WithAutherLogger(logger Logger) AutherOption {
	return func(a *Auther) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAutherActivitySink configures an ActivitySink for emitting auth events.
func WithAutherActivitySink(sink ActivitySink) AutherOption {
	return func(a *Auther) {
		a.activitySink = normalizeActivitySink(sink)
	}
}

// WithAutherClock injects a custom clock (useful for tests).
func WithAutherClock(clock func() time.Time) AutherOption {
	return func(a *Auther) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewAuthenticator returns a new Auther
func NewAuthenticator(repos RepositoryManager, tokens TokenCodec, opts ...AutherOption) *Auther {
	a := &Auther{
		repos:        repos,
		tokens:       tokens,
		hasher:       defaultHasher,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Login verifies the credential of a principal of kind and issues a token
// carrying its stored role. Unknown emails and wrong passwords fail the same way.
func (s *Auther) Login(ctx context.Context, kind PrincipalKind, email, password string) (*LoginResult, error) {
	if !kind.IsValid() {
		return nil, withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(kind)})
	}

	record, err := s.repos.Principals().FindByEmail(ctx, kind, email)
	if err != nil {
		if !errors.Is(err, ErrPrincipalNotFound) {
			s.logger.Error("login lookup failed", "kind", string(kind), "error", err)
			return nil, err
		}
		s.burnDummyCompare(password)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, PrincipalRef{Kind: kind}, map[string]any{
			"reason": "unknown identifier",
		})
		return nil, ErrMismatchedHashAndPassword
	}

	record.EnsureStatus()
	ref := PrincipalRef{Kind: kind, ID: record.ID}

	if record.Status == StatusDeleted {
		s.burnDummyCompare(password)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ref, map[string]any{"reason": "deleted"})
		return nil, ErrMismatchedHashAndPassword
	}

	ok, err := s.hasher.Verify(password, record.PasswordHash)
	if err != nil {
		s.logger.Error("login credential check failed", "kind", string(kind), "id", record.ID, "error", err)
		return nil, err
	}
	if !ok {
		s.logger.Warn("login rejected", "kind", string(kind), "id", record.ID)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ref, map[string]any{"reason": "invalid credentials"})
		return nil, ErrMismatchedHashAndPassword
	}

	if kind.HasLifecycle() && record.Status == StatusSuspended {
		s.logger.Warn("login blocked due to status", "kind", string(kind), "id", record.ID, "status", string(record.Status))
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ref, map[string]any{"reason": "suspended"})
		return nil, ErrPrincipalSuspended
	}

	principal := record.Principal(kind)
	principal.Role = storedRole(kind, record.Role)
	if kind == KindAdmin {
		principal.Status = StatusActive
	}

	token, err := s.tokens.Issue(principal.ID, principal.Kind, principal.Role, 0)
	if err != nil {
		s.logger.Error("login token issue failed", "kind", string(kind), "id", record.ID, "error", err)
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, ref, nil)

	return &LoginResult{Token: token, Principal: principal}, nil
}

// ChangePassword replaces the credential of ref after verifying the current one.
func (s *Auther) ChangePassword(ctx context.Context, ref PrincipalRef, current, next string) error {
	record, err := s.repos.Principals().FindByKindAndID(ctx, ref.Kind, ref.ID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return targetNotFound(ref.Kind, ref.ID)
		}
		return err
	}
	record.EnsureStatus()
	if record.Status == StatusDeleted {
		return targetNotFound(ref.Kind, ref.ID)
	}

	ok, err := s.hasher.Verify(current, record.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMismatchedHashAndPassword
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}

	if err := s.repos.Principals().UpdatePasswordHash(ctx, ref.Kind, ref.ID, hash); err != nil {
		return err
	}

	s.emitAuthEvent(ctx, ActivityEventPasswordChanged, ref, nil)
	return nil
}

// ListPrincipals returns every non deleted principal of kind.
func (s *Auther) ListPrincipals(ctx context.Context, kind PrincipalKind) ([]*Principal, error) {
	records, err := s.repos.Principals().List(ctx, kind)
	if err != nil {
		return nil, err
	}

	out := make([]*Principal, 0, len(records))
	for _, record := range records {
		record.EnsureStatus()
		p := record.Principal(kind)
		p.Role = storedRole(kind, record.Role)
		out = append(out, p)
	}
	return out, nil
}

// EnsureAdmin creates the bootstrap administrator when no admin with the seed
// email exists. It reports whether a record was created.
func (s *Auther) EnsureAdmin(ctx context.Context, seed AdminSeed) (*Principal, bool, error) {
	record, err := s.repos.Principals().FindByEmail(ctx, KindAdmin, seed.Email)
	if err == nil {
		p := record.Principal(KindAdmin)
		p.Role, p.Status = RoleAdmin, StatusActive
		return p, false, nil
	}
	if !errors.Is(err, ErrPrincipalNotFound) {
		return nil, false, err
	}

	hash, err := s.hasher.Hash(seed.Password)
	if err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	admin := &Admin{
		Account: Account{
			Role:         RoleAdmin,
			Status:       StatusActive,
			Email:        NormalizeEmail(seed.Email),
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		FirstName: seed.FirstName,
		LastName:  seed.LastName,
	}

	if err := s.repos.Principals().InsertTx(ctx, s.repos.DB(), KindAdmin, admin); err != nil {
		return nil, false, err
	}

	s.logger.Info("bootstrap admin created", "id", admin.ID)
	s.emitAuthEvent(ctx, ActivityEventRegistered, admin.Principal(KindAdmin).Ref(), map[string]any{"seed": true})
	return admin.Principal(KindAdmin), true, nil
}

// burnDummyCompare spends the cost of one bcrypt comparison so unknown
// identifiers take as long as wrong passwords.
func (s *Auther) burnDummyCompare(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("ecofy-dummy-password")
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, subject PrincipalRef, metadata map[string]any) {
	actor := subject
	if eventType == ActivityEventLoginFailure {
		actor = PrincipalRef{}
	}
	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		Subject:   subject,
		Metadata:  metadata,
	})
}

// storedRole returns the role a principal of kind effectively holds.
func storedRole(kind PrincipalKind, stored Role) Role {
	if kind == KindAdmin {
		return RoleAdmin
	}
	if CanHold(kind, stored) {
		return stored
	}
	return DefaultRoleFor(kind)
}

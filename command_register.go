package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RegisterUserMessage carries a self-service user registration.
type RegisterUserMessage struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Patronymic string `json:"patronymic"`
	City       string `json:"city"`
	Email      string `json:"email"`
	Phone      string `json:"phone_number"`
	Password   string `json:"password"`
}

// RegisterClientCompanyMessage carries a self-service client company registration.
type RegisterClientCompanyMessage struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	EDRPOU   string `json:"edrpou"`
	City     string `json:"city"`
	Street   string `json:"street"`
	Building string `json:"building"`
	Email    string `json:"email"`
	Phone    string `json:"phone_number"`
	Password string `json:"password"`
}

// RegisterOrganizationMessage carries an organization created by an admin.
type RegisterOrganizationMessage struct {
	Name     string `json:"name"`
	EDRPOU   string `json:"edrpou"`
	City     string `json:"city"`
	Street   string `json:"street"`
	Building string `json:"building"`
	Email    string `json:"email"`
	Phone    string `json:"phone_number"`
	Password string `json:"password"`
}

// RegisterHandler creates principals. Each registration runs in its own
// transaction so a failure leaves storage unchanged.
type RegisterHandler struct {
	repo          RepositoryManager
	hasher        *PasswordHasher
	defaultStatus Status
	activitySink  ActivitySink
	logger        Logger
	now           func() time.Time
	timeout       time.Duration
}

// RegisterOption customizes a RegisterHandler.
type RegisterOption func(*RegisterHandler)

// WithRegisterHasher sets the password hasher.
func WithRegisterHasher(hasher *PasswordHasher) RegisterOption {
	return func(h *RegisterHandler) {
		if hasher != nil {
			h.hasher = hasher
		}
	}
}

// WithRegisterDefaultStatus sets the status of self-registered users and
// client companies. Only pending and active are accepted.
func WithRegisterDefaultStatus(status Status) RegisterOption {
	return func(h *RegisterHandler) {
		if status == StatusPending || status == StatusActive {
			h.defaultStatus = status
		}
	}
}

// WithRegisterActivitySink sets the sink receiving registration events.
func WithRegisterActivitySink(sink ActivitySink) RegisterOption {
	return func(h *RegisterHandler) {
		h.activitySink = normalizeActivitySink(sink)
	}
}

// WithRegisterLogger sets the logger.
func WithRegisterLogger(logger Logger) RegisterOption {
	return func(h *RegisterHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRegisterClock injects a custom clock (useful for tests).
func WithRegisterClock(clock func() time.Time) RegisterOption {
	return func(h *RegisterHandler) {
		if clock != nil {
			h.now = clock
		}
	}
}

// NewRegisterHandler creates a RegisterHandler.
func NewRegisterHandler(repo RepositoryManager, opts ...RegisterOption) *RegisterHandler {
	h := &RegisterHandler{
		repo:          repo,
		hasher:        defaultHasher,
		defaultStatus: StatusActive,
		activitySink:  noopActivitySink{},
		logger:        defLogger{},
		now:           time.Now,
		timeout:       10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// RegisterUser creates a user account.
func (h *RegisterHandler) RegisterUser(ctx context.Context, msg RegisterUserMessage) (*Principal, error) {
	user := &User{
		FirstName:  strings.TrimSpace(msg.FirstName),
		LastName:   strings.TrimSpace(msg.LastName),
		Patronymic: strings.TrimSpace(msg.Patronymic),
		City:       strings.TrimSpace(msg.City),
	}
	if err := h.create(ctx, KindUser, &user.Account, user, msg.Email, msg.Phone, msg.Password, h.defaultStatus); err != nil {
		return nil, err
	}
	return user.Principal(KindUser), nil
}

// RegisterClientCompany creates a client company account.
func (h *RegisterHandler) RegisterClientCompany(ctx context.Context, msg RegisterClientCompanyMessage) (*Principal, error) {
	company := &ClientCompany{
		Name:     strings.TrimSpace(msg.Name),
		Type:     strings.TrimSpace(msg.Type),
		EDRPOU:   strings.TrimSpace(msg.EDRPOU),
		City:     strings.TrimSpace(msg.City),
		Street:   strings.TrimSpace(msg.Street),
		Building: strings.TrimSpace(msg.Building),
	}
	if err := h.create(ctx, KindClientCompany, &company.Account, company, msg.Email, msg.Phone, msg.Password, h.defaultStatus); err != nil {
		return nil, err
	}
	return company.Principal(KindClientCompany), nil
}

// RegisterOrganization creates an active organization. Only admins may call it.
func (h *RegisterHandler) RegisterOrganization(ctx context.Context, actor *Principal, msg RegisterOrganizationMessage) (*Principal, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	org := &Organization{
		Name:     strings.TrimSpace(msg.Name),
		EDRPOU:   strings.TrimSpace(msg.EDRPOU),
		City:     strings.TrimSpace(msg.City),
		Street:   strings.TrimSpace(msg.Street),
		Building: strings.TrimSpace(msg.Building),
	}
	if err := h.create(ctx, KindOrganization, &org.Account, org, msg.Email, msg.Phone, msg.Password, StatusActive); err != nil {
		return nil, err
	}
	return org.Principal(KindOrganization), nil
}

func (h *RegisterHandler) create(ctx context.Context, kind PrincipalKind, account *Account, model any, email, phone, password string, status Status) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during registration",
		)
	default:
	}

	email = NormalizeEmail(email)
	if email == "" {
		return goerrors.New("email is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	hash, err := h.hasher.Hash(password)
	if err != nil {
		return err
	}

	now := h.now().UTC()
	account.Email = email
	account.PhoneNumber = strings.TrimSpace(phone)
	account.PasswordHash = hash
	account.Role = DefaultRoleFor(kind)
	account.Status = status
	account.CreatedAt = now
	account.UpdatedAt = now

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return h.repo.Principals().InsertTx(ctx, tx, kind, model)
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return err
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "registration transaction failed")
	}

	h.logger.Info("principal registered", "kind", string(kind), "id", account.ID)
	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventRegistered,
		Actor:     PrincipalRef{Kind: kind, ID: account.ID},
		Subject:   PrincipalRef{Kind: kind, ID: account.ID},
		ToStatus:  status,
	})
	return nil
}

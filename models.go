package auth

import (
	"time"

	"github.com/uptrace/bun"
)

// PrincipalKind identifies which entity collection backs a principal.
type PrincipalKind string

const (
	KindUser          PrincipalKind = "user"
	KindAdmin         PrincipalKind = "admin"
	KindOrganization  PrincipalKind = "organization"
	KindClientCompany PrincipalKind = "client_company"
)

// IsValid checks the kind against the closed set.
func (k PrincipalKind) IsValid() bool {
	switch k {
	case KindUser, KindAdmin, KindOrganization, KindClientCompany:
		return true
	default:
		return false
	}
}

// HasLifecycle reports whether principals of this kind carry a status lifecycle.
// Admins are implicitly always active.
func (k PrincipalKind) HasLifecycle() bool {
	switch k {
	case KindUser, KindOrganization, KindClientCompany:
		return true
	default:
		return false
	}
}

// ParseKind safely parses a string into a PrincipalKind
func ParseKind(s string) (PrincipalKind, bool) {
	k := PrincipalKind(s)
	return k, k.IsValid()
}

// AllKinds returns every principal kind.
func AllKinds() []PrincipalKind {
	return []PrincipalKind{KindUser, KindAdmin, KindOrganization, KindClientCompany}
}

// Status is the lifecycle state of a principal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// IsValid checks the status against the closed set.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusDeleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition may leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusDeleted
}

// ParseStatus safely parses a string into a Status
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.IsValid()
}

// PrincipalRef is the (kind, id) pair that identifies a principal.
type PrincipalRef struct {
	Kind PrincipalKind `json:"kind"`
	ID   int64         `json:"id"`
}

// Principal is an authenticated actor with its authoritative role and status.
type Principal struct {
	ID     int64         `json:"id"`
	Kind   PrincipalKind `json:"kind"`
	Role   Role          `json:"role"`
	Status Status        `json:"status"`
}

// Ref returns the identifying pair of the principal.
func (p Principal) Ref() PrincipalRef {
	return PrincipalRef{Kind: p.Kind, ID: p.ID}
}

// IsSuspended reports whether the principal is suspended.
func (p Principal) IsSuspended() bool {
	return p.Status == StatusSuspended
}

// Account holds the credential and lifecycle columns shared by every
// principal table.
type Account struct {
	ID           int64     `bun:"id,pk,autoincrement" json:"id"`
	Role         Role      `bun:"role,notnull" json:"role"`
	Status       Status    `bun:"status,notnull" json:"status"`
	Email        string    `bun:"email,notnull,unique" json:"email"`
	PasswordHash string    `bun:"password_hash,notnull" json:"-"`
	PhoneNumber  string    `bun:"phone_number" json:"phone_number,omitempty"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// Principal converts the account columns into a Principal of the given kind.
func (a *Account) Principal(kind PrincipalKind) *Principal {
	if a == nil {
		return nil
	}
	return &Principal{
		ID:     a.ID,
		Kind:   kind,
		Role:   a.Role,
		Status: a.Status,
	}
}

// AccountModel is implemented by every per-kind model through the embedded Account.
type AccountModel interface {
	GetAccount() *Account
}

// GetAccount returns the shared account columns.
func (a *Account) GetAccount() *Account {
	return a
}

// EnsureStatus defaults an empty status to active.
func (a *Account) EnsureStatus() {
	if a.Status == "" {
		a.Status = StatusActive
	}
}

// PrincipalRecord is the kind-agnostic view over any principal table. Queries
// bind it to a concrete table with ModelTableExpr.
type PrincipalRecord struct {
	bun.BaseModel `bun:"table:principals,alias:p"`
	Account
}

// User is an end-user (resident) account.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	Account
	FirstName  string `bun:"first_name,notnull" json:"first_name"`
	LastName   string `bun:"last_name,notnull" json:"last_name"`
	Patronymic string `bun:"patronymic" json:"patronymic,omitempty"`
	City       string `bun:"city" json:"city,omitempty"`
}

// Admin is a platform administrator.
type Admin struct {
	bun.BaseModel `bun:"table:admins,alias:adm"`
	Account
	FirstName  string `bun:"first_name,notnull" json:"first_name"`
	LastName   string `bun:"last_name,notnull" json:"last_name"`
	Patronymic string `bun:"patronymic" json:"patronymic,omitempty"`
}

// Organization is a waste collection operator.
type Organization struct {
	bun.BaseModel `bun:"table:organizations,alias:org"`
	Account
	Name     string `bun:"name,notnull" json:"name"`
	EDRPOU   string `bun:"edrpou,nullzero,unique" json:"edrpou,omitempty"`
	City     string `bun:"city" json:"city,omitempty"`
	Street   string `bun:"street" json:"street,omitempty"`
	Building string `bun:"building" json:"building,omitempty"`
}

// ClientCompany is a business customer producing waste.
type ClientCompany struct {
	bun.BaseModel `bun:"table:client_companies,alias:cc"`
	Account
	Name     string `bun:"name,notnull" json:"name"`
	Type     string `bun:"type" json:"type,omitempty"`
	EDRPOU   string `bun:"edrpou,nullzero,unique" json:"edrpou,omitempty"`
	City     string `bun:"city" json:"city,omitempty"`
	Street   string `bun:"street" json:"street,omitempty"`
	Building string `bun:"building" json:"building,omitempty"`
}

// DisposalRequest is only modelled as far as the deletion guards need it.
type DisposalRequest struct {
	bun.BaseModel  `bun:"table:disposal_requests,alias:dr"`
	ID             int64     `bun:"id,pk,autoincrement" json:"id"`
	OrganizationID int64     `bun:"organization_id,notnull" json:"organization_id"`
	ClientID       *int64    `bun:"client_id" json:"client_id,omitempty"`
	UserID         *int64    `bun:"user_id" json:"user_id,omitempty"`
	Status         string    `bun:"status,notnull" json:"status"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// tableFor maps a kind to its backing table.
func tableFor(kind PrincipalKind) (string, bool) {
	switch kind {
	case KindUser:
		return "users", true
	case KindAdmin:
		return "admins", true
	case KindOrganization:
		return "organizations", true
	case KindClientCompany:
		return "client_companies", true
	default:
		return "", false
	}
}

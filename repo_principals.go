package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// Principals reads and writes the credential columns of every principal table.
type Principals interface {
	PrincipalRepository

	FindByKindAndIDTx(ctx context.Context, tx bun.IDB, kind PrincipalKind, id int64) (*PrincipalRecord, error)
	FindByEmail(ctx context.Context, kind PrincipalKind, email string) (*PrincipalRecord, error)
	List(ctx context.Context, kind PrincipalKind) ([]*PrincipalRecord, error)
	LoadModel(ctx context.Context, kind PrincipalKind, id int64, model AccountModel) error
	UpdateProfile(ctx context.Context, kind PrincipalKind, model AccountModel, columns ...string) error

	InsertTx(ctx context.Context, tx bun.IDB, kind PrincipalKind, model any) error
	UpdateStatusTx(ctx context.Context, tx bun.IDB, kind PrincipalKind, id int64, from, to Status, at time.Time) (int64, error)
	UpdatePasswordHash(ctx context.Context, kind PrincipalKind, id int64, hash string) error
	UpdateRoleTx(ctx context.Context, tx bun.IDB, kind PrincipalKind, id int64, role Role, at time.Time) error
}

type principals struct {
	db *bun.DB
}

var _ Principals = (*principals)(nil)

// NewPrincipalsRepository returns the bun backed Principals repository.
func NewPrincipalsRepository(db *bun.DB) Principals {
	return &principals{db: db}
}

func (p *principals) FindByKindAndID(ctx context.Context, kind PrincipalKind, id int64) (*PrincipalRecord, error) {
	return p.FindByKindAndIDTx(ctx, p.db, kind, id)
}

func (p *principals) FindByKindAndIDTx(ctx context.Context, tx bun.IDB, kind PrincipalKind, id int64) (*PrincipalRecord, error) {
	table, ok := tableFor(kind)
	if !ok {
		return nil, withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(kind)})
	}

	record := &PrincipalRecord{}
	err := tx.NewSelect().
		Model(record).
		ModelTableExpr("? AS p", bun.Ident(table)).
		Where("p.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, withDetail(ErrPrincipalNotFound, nil, map[string]any{
				"kind": string(kind),
				"id":   id,
			})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load principal").
			WithMetadata(map[string]any{"kind": string(kind), "id": id})
	}
	return record, nil
}

func (p *principals) FindByEmail(ctx context.Context, kind PrincipalKind, email string) (*PrincipalRecord, error) {
	table, ok := tableFor(kind)
	if !ok {
		return nil, withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(kind)})
	}

	record := &PrincipalRecord{}
	err := p.db.NewSelect().
		Model(record).
		ModelTableExpr("? AS p", bun.Ident(table)).
		Where("p.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, withDetail(ErrPrincipalNotFound, nil, map[string]any{"kind": string(kind)})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load principal by email").
			WithMetadata(map[string]any{"kind": string(kind)})
	}
	return record, nil
}

// List returns every principal of kind that is not deleted, ordered by id.
func (p *principals) List(ctx context.Context, kind PrincipalKind) ([]*PrincipalRecord, error) {
	table, ok := tableFor(kind)
	if !ok {
		return nil, withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(kind)})
	}

	records := []*PrincipalRecord{}
	err := p.db.NewSelect().
		Model(&records).
		ModelTableExpr("? AS p", bun.Ident(table)).
		Where("p.status != ?", StatusDeleted).
		OrderExpr("p.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list principals").
			WithMetadata(map[string]any{"kind": string(kind)})
	}
	return records, nil
}

// LoadModel scans the full per-kind row of a live principal into model.
func (p *principals) LoadModel(ctx context.Context, kind PrincipalKind, id int64, model AccountModel) error {
	if _, ok := tableFor(kind); !ok {
		return withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(kind)})
	}

	err := p.db.NewSelect().
		Model(model).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return targetNotFound(kind, id)
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load principal").
			WithMetadata(map[string]any{"kind": string(kind), "id": id})
	}

	if model.GetAccount().Status == StatusDeleted {
		return targetNotFound(kind, id)
	}
	return nil
}

// UpdateProfile writes the given non credential columns of a live principal.
func (p *principals) UpdateProfile(ctx context.Context, kind PrincipalKind, model AccountModel, columns ...string) error {
	account := model.GetAccount()
	for _, col := range columns {
		switch col {
		case "id", "role", "status", "email", "password_hash", "created_at":
			return goerrors.New("column can not be updated as profile data", goerrors.CategoryBadInput).
				WithMetadata(map[string]any{"column": col})
		}
	}

	account.UpdatedAt = time.Now().UTC()
	res, err := p.db.NewUpdate().
		Model(model).
		Column(append(append([]string{}, columns...), "updated_at")...).
		WherePK().
		Where("?TableAlias.status != ?", StatusDeleted).
		Exec(ctx)
	if err != nil {
		if field, dup := uniqueViolation(err); dup {
			return withDetail(ErrDuplicateCredential, nil, map[string]any{"kind": string(kind), "field": field})
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update principal").
			WithMetadata(map[string]any{"kind": string(kind), "id": account.ID})
	}
	return requireAffected(res, kind, account.ID)
}

// InsertTx inserts one of the per-kind models (User, Admin, Organization,
// ClientCompany). Unique violations surface as ErrDuplicateCredential.
func (p *principals) InsertTx(ctx context.Context, tx bun.IDB, kind PrincipalKind, model any) error {
	if _, ok := tableFor(kind); !ok {
		return withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(kind)})
	}

	if _, err := tx.NewInsert().Model(model).Returning("id").Exec(ctx); err != nil {
		if field, dup := uniqueViolation(err); dup {
			return withDetail(ErrDuplicateCredential, nil, map[string]any{
				"kind":  string(kind),
				"field": field,
			})
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert principal").
			WithMetadata(map[string]any{"kind": string(kind)})
	}
	return nil
}

// UpdateStatusTx moves a principal from one status to another. The write only
// applies while the row still has status from and, for deletions, while no
// dependent row references it. It returns the number of affected rows.
func (p *principals) UpdateStatusTx(ctx context.Context, tx bun.IDB, kind PrincipalKind, id int64, from, to Status, at time.Time) (int64, error) {
	table, ok := tableFor(kind)
	if !ok {
		return 0, withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(kind)})
	}

	query := `UPDATE ? SET "status" = ?, "updated_at" = ? WHERE "id" = ? AND "status" = ?`
	args := []any{bun.Ident(table), to, at, id, from}

	if to == StatusDeleted {
		for _, rule := range DependentRulesFor(kind) {
			query += ` AND NOT EXISTS (SELECT 1 FROM ? WHERE ? = ?)`
			args = append(args, bun.Ident(rule.Table), bun.Ident(rule.Column), id)
		}
	}

	res, err := tx.NewRaw(query, args...).Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update principal status").
			WithMetadata(map[string]any{"kind": string(kind), "id": id, "to": string(to)})
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read affected rows")
	}
	return affected, nil
}

func (p *principals) UpdatePasswordHash(ctx context.Context, kind PrincipalKind, id int64, hash string) error {
	table, ok := tableFor(kind)
	if !ok {
		return withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(kind)})
	}

	res, err := p.db.NewRaw(
		`UPDATE ? SET "password_hash" = ?, "updated_at" = ? WHERE "id" = ? AND "status" != ?`,
		bun.Ident(table), hash, time.Now().UTC(), id, StatusDeleted,
	).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password").
			WithMetadata(map[string]any{"kind": string(kind), "id": id})
	}
	return requireAffected(res, kind, id)
}

func (p *principals) UpdateRoleTx(ctx context.Context, tx bun.IDB, kind PrincipalKind, id int64, role Role, at time.Time) error {
	table, ok := tableFor(kind)
	if !ok {
		return withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(kind)})
	}

	res, err := tx.NewRaw(
		`UPDATE ? SET "role" = ?, "updated_at" = ? WHERE "id" = ? AND "status" != ?`,
		bun.Ident(table), role, at, id, StatusDeleted,
	).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update role").
			WithMetadata(map[string]any{"kind": string(kind), "id": id})
	}
	return requireAffected(res, kind, id)
}

func requireAffected(res sql.Result, kind PrincipalKind, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read affected rows")
	}
	if affected == 0 {
		return targetNotFound(kind, id)
	}
	return nil
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// uniqueViolation reports whether err is a unique constraint failure and, when
// it can tell, which column caused it.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != "23505" {
			return "", false
		}
		return violatedField(pgErr.ConstraintName + " " + pgErr.Detail), true
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return violatedField(msg), true
	}
	return "", false
}

func violatedField(msg string) string {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "edrpou"):
		return "edrpou"
	case strings.Contains(msg, "email"):
		return "email"
	default:
		return ""
	}
}

package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// DependentRule names a column that references a principal of some kind.
type DependentRule struct {
	Table  string
	Column string
}

var dependentRules = map[PrincipalKind][]DependentRule{
	KindOrganization:  {{Table: "disposal_requests", Column: "organization_id"}},
	KindClientCompany: {{Table: "disposal_requests", Column: "client_id"}},
	KindUser:          {{Table: "disposal_requests", Column: "user_id"}},
}

// DependentRulesFor returns the references that block deleting a principal of kind.
func DependentRulesFor(kind PrincipalKind) []DependentRule {
	return dependentRules[kind]
}

// Dependents counts records that reference a principal.
type Dependents interface {
	DependentChecker
	CountDependentsTx(ctx context.Context, tx bun.IDB, kind PrincipalKind, id int64) (int, error)
}

type dependents struct {
	db *bun.DB
}

var _ Dependents = (*dependents)(nil)

// NewDependentsRepository returns the bun backed dependent checker.
func NewDependentsRepository(db *bun.DB) Dependents {
	return &dependents{db: db}
}

func (d *dependents) HasDependents(ctx context.Context, kind PrincipalKind, id int64) (bool, error) {
	count, err := d.CountDependentsTx(ctx, d.db, kind, id)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *dependents) CountDependentsTx(ctx context.Context, tx bun.IDB, kind PrincipalKind, id int64) (int, error) {
	total := 0
	for _, rule := range DependentRulesFor(kind) {
		count, err := tx.NewSelect().
			TableExpr("?", bun.Ident(rule.Table)).
			Where("? = ?", bun.Ident(rule.Column), id).
			Count(ctx)
		if err != nil {
			return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count dependents").
				WithMetadata(map[string]any{
					"kind":   string(kind),
					"id":     id,
					"table":  rule.Table,
					"column": rule.Column,
				})
		}
		total += count
	}
	return total, nil
}

package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/billing"
	"github.com/trezcool/roomly/core/organization"
)

type paymentRow struct {
	ID             string          `db:"id"`
	OrganizationID string          `db:"organization_id"`
	Plan           string          `db:"plan"`
	Amount         decimal.Decimal `db:"amount"`
	PaidAt         time.Time       `db:"paid_at"`
	PeriodStart    time.Time       `db:"period_start"`
	PeriodEnd      time.Time       `db:"period_end"`
}

type paymentRepository struct {
	baseRepository
}

var _ billing.Repository = (*paymentRepository)(nil)

func NewPaymentRepository(db core.DBExecutor) billing.Repository {
	return &paymentRepository{baseRepository{db: db}}
}

func (repo *paymentRepository) CreatePayment(ctx context.Context, p billing.Payment, exec ...core.DBExecutor) (billing.Payment, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	p.PaidAt, p.PeriodStart, p.PeriodEnd = p.PaidAt.UTC(), p.PeriodStart.UTC(), p.PeriodEnd.UTC()

	q := sq.Insert("payments").
		Columns("id", "organization_id", "plan", "amount", "paid_at", "period_start", "period_end").
		Values(p.ID, p.OrganizationID, p.Plan, p.Amount, p.PaidAt, p.PeriodStart, p.PeriodEnd)
	if _, err := execute(ctx, repo.executor(exec), q); err != nil {
		if isForeignKeyViolation(err) {
			return billing.Payment{}, organization.ErrNotFound
		}
		return billing.Payment{}, errors.Wrap(err, "inserting payment")
	}
	return p, nil
}

func (repo *paymentRepository) QueryPayments(ctx context.Context, orgID string, exec ...core.DBExecutor) ([]billing.Payment, error) {
	q := sq.Select("id", "organization_id", "plan", "amount", "paid_at", "period_start", "period_end").
		From("payments").
		Where(sq.Eq{"organization_id": orgID}).
		OrderBy("paid_at DESC")

	var rows []paymentRow
	if err := selectAll(ctx, repo.executor(exec), &rows, q); err != nil {
		return nil, err
	}
	payments := make([]billing.Payment, 0, len(rows))
	for _, row := range rows {
		payments = append(payments, billing.Payment{
			ID:             row.ID,
			OrganizationID: row.OrganizationID,
			Plan:           row.Plan,
			Amount:         row.Amount,
			PaidAt:         row.PaidAt.UTC(),
			PeriodStart:    row.PeriodStart.UTC(),
			PeriodEnd:      row.PeriodEnd.UTC(),
		})
	}
	return payments, nil
}

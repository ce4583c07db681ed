package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"mayroga/internal/entitlement"
	"mayroga/internal/types"
)

// EntitlementRepo implements entitlement.Store on PostgreSQL.
//
// Grants and consumes are single statements, so the database serializes
// concurrent requests for the same row:
//   - GrantCredits records the token in entitlement_grants and upserts the
//     counter in one CTE. A replayed token inserts nothing and so adds nothing.
//   - ConsumeCredit is a conditional UPDATE guarded by credits > 0.
type EntitlementRepo struct {
	db     DBTX
	logger *slog.Logger
}

var _ entitlement.Store = (*EntitlementRepo)(nil)

// NewEntitlementRepo creates a new EntitlementRepo.
func NewEntitlementRepo(db DBTX, logger *slog.Logger) *EntitlementRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementRepo{db: db, logger: logger}
}

func (r *EntitlementRepo) GetCredits(ctx context.Context, nickname, serviceID string) (int, error) {
	n, err := entitlement.NormalizeNickname(nickname)
	if err != nil {
		return 0, err
	}
	if serviceID == "" {
		return 0, types.NewAppError(types.ErrCodeValidationMissingField, "service_id is required", nil)
	}

	var credits int
	err = r.db.QueryRow(ctx,
		`SELECT credits FROM entitlements WHERE nickname = $1 AND service_id = $2`,
		n, serviceID,
	).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to read credits", err)
	}
	return credits, nil
}

const grantSQL = `
WITH inserted AS (
	INSERT INTO entitlement_grants (token, nickname, service_id, amount, source)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (token) DO NOTHING
	RETURNING nickname, service_id, amount
)
INSERT INTO entitlements (nickname, service_id, credits, updated_at)
SELECT nickname, service_id, amount, NOW() FROM inserted
ON CONFLICT (nickname, service_id)
DO UPDATE SET credits = entitlements.credits + EXCLUDED.credits, updated_at = NOW()`

func (r *EntitlementRepo) GrantCredits(ctx context.Context, nickname, serviceID string, amount int, token string) (bool, error) {
	n, err := entitlement.NormalizeNickname(nickname)
	if err != nil {
		return false, err
	}
	switch {
	case serviceID == "":
		return false, types.NewAppError(types.ErrCodeValidationMissingField, "service_id is required", nil)
	case amount <= 0:
		return false, types.NewAppError(types.ErrCodeValidationInvalidAmount, "grant amount must be positive", nil)
	case token == "":
		return false, types.NewAppError(types.ErrCodeValidationInvalidToken, "grant requires an idempotency token", nil)
	}

	tag, err := r.db.Exec(ctx, grantSQL, token, n, serviceID, amount, string(entitlement.SourceOf(token)))
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to grant credits", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "grant token already applied",
			slog.String("nickname", n),
			slog.String("service_id", serviceID),
		)
		return false, nil
	}
	return true, nil
}

func (r *EntitlementRepo) ConsumeCredit(ctx context.Context, nickname, serviceID string) (bool, error) {
	n, err := entitlement.NormalizeNickname(nickname)
	if err != nil {
		return false, err
	}
	if serviceID == "" {
		return false, types.NewAppError(types.ErrCodeValidationMissingField, "service_id is required", nil)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements SET credits = credits - 1, updated_at = NOW()
		 WHERE nickname = $1 AND service_id = $2 AND credits > 0`,
		n, serviceID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to consume credit", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *EntitlementRepo) Balances(ctx context.Context, nickname string) (map[string]int, error) {
	n, err := entitlement.NormalizeNickname(nickname)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT service_id, credits FROM entitlements WHERE nickname = $1 AND credits > 0`,
		n,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list balances", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			svc     string
			credits int
		)
		if err := rows.Scan(&svc, &credits); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan balance", err)
		}
		out[svc] = credits
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate balances", err)
	}
	return out, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
)

// GrantCredits adds credits to the owner's balance once per job. It returns
// false when the job's credits were already granted.
func (s *Storage) GrantCredits(ctx context.Context, jobID, ownerID string, credits int64) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, s.wrapErr("begin credit grant", err)
	}
	defer tx.Rollback()

	now := s.now()
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO credit_grants (job_id, owner_id, credits, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (job_id) DO NOTHING
	`), jobID, ownerID, credits, now)
	if err != nil {
		return false, s.wrapErr("record credit grant", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, s.wrapErr("read rows affected", err)
	}
	if affected == 0 {
		s.logger.Info("Credits already granted for job",
			slog.String("job_id", jobID),
			slog.String("owner_id", ownerID),
		)
		return false, nil
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO credit_balances (owner_id, credits, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE
		SET credits = credit_balances.credits + excluded.credits,
		    updated_at = excluded.updated_at
	`), ownerID, credits, now)
	if err != nil {
		return false, s.wrapErr("update credit balance", err)
	}

	if err := tx.Commit(); err != nil {
		return false, s.wrapErr("commit credit grant", err)
	}

	s.logger.Info("Credits granted",
		slog.String("job_id", jobID),
		slog.String("owner_id", ownerID),
		slog.Int64("credits", credits),
	)
	return true, nil
}

// CreditBalance returns the owner's balance, zero when nothing was ever granted
func (s *Storage) CreditBalance(ctx context.Context, ownerID string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var credits int64
	err := s.db.GetContext(ctx, &credits,
		s.db.Rebind(`SELECT credits FROM credit_balances WHERE owner_id = ?`), ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, s.wrapErr("get credit balance", err)
	}
	return credits, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/google/uuid"
)

// StatusUpdate describes a requested status transition
type StatusUpdate struct {
	Status        domain.Status
	ResultRef     string
	FailureReason string
}

// JobFilter narrows ListJobs results
type JobFilter struct {
	OwnerID  string
	Kind     domain.Kind
	Status   domain.Status
	PageSize int
	Cursor   *JobCursor
}

// JobCursor marks the last row of a previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// CreateJob inserts a job in its kind's initial status
func (s *Storage) CreateJob(ctx context.Context, in domain.NewJob) (*domain.Job, error) {
	if !in.Kind.Valid() {
		return nil, domain.NewInvalidArgument("unknown job kind %q", in.Kind)
	}
	if in.OwnerID == "" {
		return nil, domain.NewInvalidArgument("owner_id is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now()
	row := jobRow{
		ID:        uuid.New().String(),
		OwnerID:   in.OwnerID,
		Kind:      string(in.Kind),
		Status:    string(domain.InitialStatus(in.Kind)),
		InputRef:  in.InputRef,
		Metadata:  metadataColumn(in.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := s.db.Rebind(`
		INSERT INTO jobs (
			id, owner_id, kind, status, input_ref,
			metadata, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		row.ID,
		row.OwnerID,
		row.Kind,
		row.Status,
		row.InputRef,
		row.Metadata,
		row.CreatedAt,
		row.UpdatedAt,
	)
	if err != nil {
		return nil, s.wrapErr("create job", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", row.ID),
		slog.String("kind", row.Kind),
		slog.String("owner_id", row.OwnerID),
	)

	return row.toDomain()
}

// GetJob returns the job or domain.ErrJobNotFound
func (s *Storage) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.getJob(ctx, id)
}

func (s *Storage) getJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)

	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, s.wrapErr("get job", err)
	}

	return row.toDomain()
}

// FindByCorrelation looks a job up by the provider's identifier
func (s *Storage) FindByCorrelation(ctx context.Context, kind domain.Kind, correlationID string) (*domain.Job, error) {
	if correlationID == "" {
		return nil, domain.ErrJobNotFound
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row jobRow
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE kind = ? AND correlation_id = ?`)

	if err := s.db.GetContext(ctx, &row, query, string(kind), correlationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, s.wrapErr("find job by correlation", err)
	}

	return row.toDomain()
}

// AttachCorrelation binds the provider's correlation id and moves the job to
// status. The correlation id can be set once; status may equal the current one.
func (s *Storage) AttachCorrelation(ctx context.Context, id, correlationID string, status domain.Status) (*domain.Job, error) {
	if correlationID == "" {
		return nil, domain.NewInvalidArgument("correlation_id is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		job, err := s.getJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.CorrelationID != "" {
			return job, fmt.Errorf("%w: job %s already bound to %s", domain.ErrCorrelationConflict, id, job.CorrelationID)
		}
		if status != job.Status && !domain.CanTransition(job.Kind, job.Status, status) {
			return job, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, status)
		}
		if status == domain.SuccessStatus(job.Kind) {
			return job, domain.NewInvalidArgument("status %s requires a result", status)
		}

		updatedAt := s.nextUpdatedAt(job.UpdatedAt)
		query := s.db.Rebind(`
			UPDATE jobs
			SET correlation_id = ?,
			    status = ?,
			    version = version + 1,
			    updated_at = ?
			WHERE id = ?
			  AND version = ?
			  AND correlation_id IS NULL
		`)

		res, err := s.db.ExecContext(ctx, query, correlationID, string(status), updatedAt, id, job.Version)
		if err != nil {
			if isUniqueViolation(err) {
				return job, fmt.Errorf("%w: %s is bound to another job", domain.ErrCorrelationConflict, correlationID)
			}
			return nil, s.wrapErr("attach correlation", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, s.wrapErr("read rows affected", err)
		}
		if affected == 1 {
			job.CorrelationID = correlationID
			job.Status = status
			job.Version++
			job.UpdatedAt = updatedAt

			s.logger.Info("Job correlation attached",
				slog.String("job_id", id),
				slog.String("correlation_id", correlationID),
				slog.String("status", string(status)),
			)
			return job, nil
		}

		s.logger.Debug("Job changed concurrently, retrying correlation attach",
			slog.String("job_id", id),
			slog.Int("attempt", attempt+1),
		)
	}

	return nil, domain.NewRetryableError(fmt.Errorf("concurrent updates to job %s", id))
}

// UpdateStatus moves a job forward along its state machine. Concurrent writers
// are serialised by a version check: the loser re-reads the row and re-validates
// the transition, so it observes domain.ErrInvalidTransition once the winner
// reached a terminal status. On ErrInvalidTransition the current job is
// returned alongside the error.
func (s *Storage) UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*domain.Job, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		job, err := s.getJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if !domain.CanTransition(job.Kind, job.Status, update.Status) {
			return job, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, update.Status)
		}

		success := update.Status == domain.SuccessStatus(job.Kind)
		if success && update.ResultRef == "" {
			return nil, domain.NewInvalidArgument("status %s requires a result", update.Status)
		}
		if !success && update.ResultRef != "" {
			return nil, domain.NewInvalidArgument("status %s cannot carry a result", update.Status)
		}

		updatedAt := s.nextUpdatedAt(job.UpdatedAt)
		query := s.db.Rebind(`
			UPDATE jobs
			SET status = ?,
			    result_ref = ?,
			    failure_reason = ?,
			    version = version + 1,
			    updated_at = ?
			WHERE id = ?
			  AND version = ?
		`)

		res, err := s.db.ExecContext(ctx, query,
			string(update.Status),
			nullString(update.ResultRef),
			nullString(update.FailureReason),
			updatedAt,
			id,
			job.Version,
		)
		if err != nil {
			return nil, s.wrapErr("update job status", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, s.wrapErr("read rows affected", err)
		}
		if affected == 1 {
			from := job.Status
			job.Status = update.Status
			job.ResultRef = update.ResultRef
			job.FailureReason = update.FailureReason
			job.Version++
			job.UpdatedAt = updatedAt

			s.logger.Info("Job status updated",
				slog.String("job_id", id),
				slog.String("from", string(from)),
				slog.String("to", string(update.Status)),
			)
			return job, nil
		}

		s.logger.Debug("Job changed concurrently, retrying status update",
			slog.String("job_id", id),
			slog.Int("attempt", attempt+1),
		)
	}

	return nil, domain.NewRetryableError(fmt.Errorf("concurrent updates to job %s", id))
}

// ListJobs returns up to PageSize+1 jobs, newest first; the extra row signals a next page
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}

	if filter.OwnerID != "" {
		query += " AND owner_id = ?"
		args = append(args, filter.OwnerID)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.JobID)
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, s.wrapErr("list jobs", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// nextUpdatedAt keeps updated_at monotonically non-decreasing under clock skew
func (s *Storage) nextUpdatedAt(previous time.Time) time.Time {
	now := s.now()
	if now.Before(previous) {
		return previous
	}
	return now
}

package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := NewStorage(db, slog.New(slog.NewTextHandler(io.Discard, nil)), 2*time.Second)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func createTransformation(t *testing.T, s *Storage) *domain.Job {
	t.Helper()
	job, err := s.CreateJob(context.Background(), domain.NewJob{
		Kind:     domain.KindTransformation,
		OwnerID:  "user-1",
		InputRef: "https://cdn.example.com/room.png",
		Metadata: domain.Metadata{"style_id": "modern"},
	})
	require.NoError(t, err)
	return job
}

func TestCreateJob(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := createTransformation(t, s)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Empty(t, job.CorrelationID)
	assert.Empty(t, job.ResultRef)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "user-1", got.OwnerID)
	assert.Equal(t, domain.KindTransformation, got.Kind)
	assert.Equal(t, "modern", got.Metadata["style_id"])
	assert.False(t, got.CreatedAt.IsZero())

	payment, err := s.CreateJob(ctx, domain.NewJob{Kind: domain.KindPaymentOrder, OwnerID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, payment.Status)
}

func TestCreateJob_InvalidInput(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.CreateJob(context.Background(), domain.NewJob{Kind: domain.KindTransformation})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = s.CreateJob(context.Background(), domain.NewJob{Kind: "video", OwnerID: "user-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGetJob_NotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = s.FindByCorrelation(context.Background(), domain.KindTransformation, "pred-missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestAttachCorrelation(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job := createTransformation(t, s)

	updated, err := s.AttachCorrelation(ctx, job.ID, "pred-1", domain.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, "pred-1", updated.CorrelationID)
	assert.Equal(t, domain.StatusProcessing, updated.Status)
	assert.Equal(t, job.Version+1, updated.Version)

	found, err := s.FindByCorrelation(ctx, domain.KindTransformation, "pred-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, found.ID)

	// Same correlation under the other kind is a different namespace
	_, err = s.FindByCorrelation(ctx, domain.KindPaymentOrder, "pred-1")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	t.Run("correlation never changes once set", func(t *testing.T) {
		_, err := s.AttachCorrelation(ctx, job.ID, "pred-2", domain.StatusProcessing)
		assert.ErrorIs(t, err, domain.ErrCorrelationConflict)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "pred-1", got.CorrelationID)
	})

	t.Run("correlation is unique per kind", func(t *testing.T) {
		other := createTransformation(t, s)
		_, err := s.AttachCorrelation(ctx, other.ID, "pred-1", domain.StatusProcessing)
		assert.ErrorIs(t, err, domain.ErrCorrelationConflict)

		got, err := s.GetJob(ctx, other.ID)
		require.NoError(t, err)
		assert.Empty(t, got.CorrelationID)
		assert.Equal(t, domain.StatusPending, got.Status)
	})

	t.Run("payment keeps its initial status", func(t *testing.T) {
		payment, err := s.CreateJob(ctx, domain.NewJob{Kind: domain.KindPaymentOrder, OwnerID: "user-1"})
		require.NoError(t, err)

		updated, err := s.AttachCorrelation(ctx, payment.ID, "order_1", domain.StatusCreated)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCreated, updated.Status)
		assert.Equal(t, "order_1", updated.CorrelationID)
	})
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job := createTransformation(t, s)

	_, err := s.UpdateStatus(ctx, job.ID, StatusUpdate{Status: domain.StatusCompleted, ResultRef: "https://cdn.example.com/out.png"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition, "pending cannot jump to completed")

	_, err = s.AttachCorrelation(ctx, job.ID, "pred-1", domain.StatusProcessing)
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, job.ID, StatusUpdate{Status: domain.StatusCompleted})
	require.ErrorIs(t, err, domain.ErrInvalidArgument, "completed requires a result")

	_, err = s.UpdateStatus(ctx, job.ID, StatusUpdate{Status: domain.StatusFailed, ResultRef: "https://cdn.example.com/out.png"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument, "failed cannot carry a result")

	completed, err := s.UpdateStatus(ctx, job.ID, StatusUpdate{Status: domain.StatusCompleted, ResultRef: "https://cdn.example.com/out.png"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	assert.Equal(t, "https://cdn.example.com/out.png", completed.ResultRef)

	current, err := s.UpdateStatus(ctx, job.ID, StatusUpdate{Status: domain.StatusFailed, FailureReason: "late failure"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.NotNil(t, current)
	assert.Equal(t, domain.StatusCompleted, current.Status)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "https://cdn.example.com/out.png", got.ResultRef)
	assert.Empty(t, got.FailureReason)

	_, err = s.UpdateStatus(ctx, "missing", StatusUpdate{Status: domain.StatusFailed})
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestUpdateStatus_UpdatedAtNeverMovesBackwards(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	s.now = func() time.Time { return future }
	job := createTransformation(t, s)

	s.now = func() time.Time { return future.Add(-30 * time.Minute) }
	updated, err := s.UpdateStatus(ctx, job.ID, StatusUpdate{Status: domain.StatusFailed, FailureReason: "provider rejected"})
	require.NoError(t, err)
	assert.False(t, updated.UpdatedAt.Before(job.UpdatedAt))
	assert.Equal(t, "provider rejected", updated.FailureReason)
}

func TestUpdateStatus_ConcurrentWritersSerialised(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job := createTransformation(t, s)
	_, err := s.AttachCorrelation(ctx, job.ID, "pred-1", domain.StatusProcessing)
	require.NoError(t, err)

	const writers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		noops      int
		unexpected []error
	)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			update := StatusUpdate{Status: domain.StatusCompleted, ResultRef: "https://cdn.example.com/out.png"}
			if i%2 == 1 {
				update = StatusUpdate{Status: domain.StatusFailed, FailureReason: "failed"}
			}
			_, err := s.UpdateStatus(ctx, job.ID, update)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrInvalidTransition):
				noops++
			default:
				unexpected = append(unexpected, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, unexpected)
	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, noops)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.IsTerminal())
	assert.Equal(t, got.Status == domain.StatusCompleted, got.ResultRef != "")
}

func TestListJobs(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		createTransformation(t, s)
	}
	_, err := s.CreateJob(ctx, domain.NewJob{Kind: domain.KindPaymentOrder, OwnerID: "user-2"})
	require.NoError(t, err)

	page, err := s.ListJobs(ctx, JobFilter{OwnerID: "user-1", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3, "one extra row signals another page")
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	next, err := s.ListJobs(ctx, JobFilter{
		OwnerID:  "user-1",
		PageSize: 2,
		Cursor:   &JobCursor{CreatedAt: page[1].CreatedAt, JobID: page[1].ID},
	})
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.Equal(t, page[2].ID, next[0].ID)

	payments, err := s.ListJobs(ctx, JobFilter{Kind: domain.KindPaymentOrder, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "user-2", payments[0].OwnerID)
}

func TestGetJob_MalformedRow(t *testing.T) {
	s := newTestStorage(t)
	job := createTransformation(t, s)

	_, err := s.db.Exec(`UPDATE jobs SET status = 'exploded' WHERE id = ?`, job.ID)
	require.NoError(t, err)

	_, err = s.GetJob(context.Background(), job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed job row")
	assert.NotErrorIs(t, err, domain.ErrJobNotFound)
}

func TestGrantCredits(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	balance, err := s.CreditBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, balance)

	granted, err := s.GrantCredits(ctx, "job-1", "user-1", 50)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = s.GrantCredits(ctx, "job-1", "user-1", 50)
	require.NoError(t, err)
	assert.False(t, granted, "second grant for the same job is a no-op")

	granted, err = s.GrantCredits(ctx, "job-2", "user-1", 10)
	require.NoError(t, err)
	assert.True(t, granted)

	balance, err = s.CreditBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)
}

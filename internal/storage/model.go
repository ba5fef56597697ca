package storage

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/roomflow/internal/domain"
)

type jobRow struct {
	ID            string         `db:"id"`
	OwnerID       string         `db:"owner_id"`
	Kind          string         `db:"kind"`
	CorrelationID sql.NullString `db:"correlation_id"`
	Status        string         `db:"status"`
	InputRef      string         `db:"input_ref"`
	ResultRef     sql.NullString `db:"result_ref"`
	FailureReason sql.NullString `db:"failure_reason"`
	Metadata      metadataColumn `db:"metadata"`
	Version       int64          `db:"version"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

const jobColumns = `id, owner_id, kind, correlation_id, status, input_ref,
	result_ref, failure_reason, metadata, version, created_at, updated_at`

// toDomain rejects rows whose kind or status fall outside the closed sets
func (r *jobRow) toDomain() (*domain.Job, error) {
	kind, err := domain.ParseKind(r.Kind)
	if err != nil {
		return nil, fmt.Errorf("malformed job row %s: %w", r.ID, err)
	}
	status, err := domain.ParseStatus(kind, r.Status)
	if err != nil {
		return nil, fmt.Errorf("malformed job row %s: %w", r.ID, err)
	}

	return &domain.Job{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Kind:          kind,
		CorrelationID: r.CorrelationID.String,
		Status:        status,
		InputRef:      r.InputRef,
		ResultRef:     r.ResultRef.String,
		FailureReason: r.FailureReason.String,
		Metadata:      domain.Metadata(r.Metadata),
		Version:       r.Version,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}, nil
}

// metadataColumn stores job metadata as a JSON document
type metadataColumn map[string]any

func (m metadataColumn) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

func (m *metadataColumn) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = metadataColumn{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", src)
	}

	decoded := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	*m = decoded
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

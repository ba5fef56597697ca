package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/cuongbtq/roomflow/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &storage.JobCursor{
		CreatedAt: time.Date(2026, 3, 4, 10, 11, 12, 123456789, time.UTC),
		JobID:     "3f1c9a52-8d0e-4c43-9a57-0b3a4f6f3c11",
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)
}

func TestDecodeJobCursor(t *testing.T) {
	tests := []struct {
		name    string
		cursor  string
		wantNil bool
		wantErr bool
	}{
		{name: "empty means first page", cursor: "", wantNil: true},
		{name: "not base64", cursor: "not*a*cursor", wantErr: true},
		{name: "missing separator", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345")), wantErr: true},
		{name: "missing job id", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345|")), wantErr: true},
		{name: "bad timestamp", cursor: base64.RawURLEncoding.EncodeToString([]byte("yesterday|abc")), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cursor, err := DecodeJobCursor(tt.cursor)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, cursor)
			}
		})
	}
}

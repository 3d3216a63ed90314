package repo

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarm-pipeline/internal/domain"
)

var blockCols = []string{"id", "owner_id", "content_type", "date", "raw_content", "script", "audio_url", "status", "voice",
	"duration_seconds", "retry_count", "priority", "expiration_date", "parameters", "created_at", "updated_at",
	"script_generated_at", "audio_generated_at"}

func newMockPostgres(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewPostgres(mock), mock
}

func blockRow(rows *pgxmock.Rows, id string, status domain.ContentStatus, audio *string) *pgxmock.Rows {
	day := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return rows.AddRow(id, (*string)(nil), "weather", day, "{}", "script", audio, string(status), "alloy",
		(*int)(nil), 1, 0, day.AddDate(0, 0, 1), []byte(`{"retry_target":"audio_generating"}`), now, now,
		(*time.Time)(nil), (*time.Time)(nil))
}

func TestPostgresUpdateStatusApplied(t *testing.T) {
	p, mock := newMockPostgres(t)
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE content_blocks SET")).
		WithArgs("b1", "script_generating", "script_failed", at,
			pgxmock.AnyArg(), pgxmock.AnyArg(), false, pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), int(domain.RetryIncrement), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	applied, err := p.UpdateStatus(context.Background(), domain.StatusUpdate{
		ID: "b1", From: domain.StatusScriptGenerating, To: domain.StatusScriptFailed, At: at,
		Retry: domain.RetryIncrement, Parameters: map[string]any{"last_error": "boom"},
	})
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateStatusMiss(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
		WithArgs(updateArgs("b1", "audio_generating", "ready")...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	applied, err := p.UpdateStatus(context.Background(), domain.StatusUpdate{
		ID: "b1", From: domain.StatusAudioGenerating, To: domain.StatusReady, At: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateStatusError(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec("UPDATE content_blocks").
		WithArgs(updateArgs("b1", "pending", "content_generating")...).
		WillReturnError(errors.New("connection reset"))

	_, err := p.UpdateStatus(context.Background(), domain.StatusUpdate{ID: "b1", From: domain.StatusPending, To: domain.StatusContentGenerating})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

// updateArgs — аргументы UpdateStatus: id, from, to и десять произвольных.
func updateArgs(id, from, to string) []interface{} {
	args := []interface{}{id, from, to}
	for len(args) < 13 {
		args = append(args, pgxmock.AnyArg())
	}
	return args
}

func TestPostgresGetBlockNotFound(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery("FROM content_blocks WHERE id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := p.GetBlock(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrBlockNotFound)
}

func TestPostgresListExpiredWithCursor(t *testing.T) {
	p, mock := newMockPostgres(t)
	url := "https://cdn.test/audio/weather/b2/alloy-1.mp3"
	mock.ExpectQuery(regexp.QuoteMeta("(expiration_date, id) > ($2::date, $3::uuid)")).
		WithArgs(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), pgxmock.AnyArg(), pgxmock.AnyArg(), 50).
		WillReturnRows(blockRow(pgxmock.NewRows(blockCols), "b2", domain.StatusReady, &url))

	blocks, err := p.ListExpired(context.Background(), time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
		domain.ExpirationCursor{ExpirationDate: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), ID: "b1"}, 50)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "b2", blocks[0].ID)
	assert.Equal(t, domain.StatusReady, blocks[0].Status)
	assert.True(t, blocks[0].HasAudio())
	assert.Equal(t, "audio_generating", blocks[0].Parameters[domain.ParamRetryTarget])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListRetryPendingFiltersTarget(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("parameters->>'retry_target' = $1")).
		WithArgs("audio_generating", 5).
		WillReturnRows(blockRow(pgxmock.NewRows(blockCols), "b3", domain.StatusRetryPending, nil))

	blocks, err := p.ListRetryPending(context.Background(), domain.StatusAudioGenerating, 5)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, domain.StatusRetryPending, blocks[0].Status)
	assert.False(t, blocks[0].HasAudio())
}

func TestPostgresAppendAudit(t *testing.T) {
	p, mock := newMockPostgres(t)
	id := "b1"
	mock.ExpectExec("INSERT INTO system_logs").
		WithArgs(domain.AuditEventStuckReclaimed, domain.AuditStatusWarning, "msg", pgxmock.AnyArg(), &id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := p.AppendAudit(context.Background(), domain.AuditEntry{
		EventType: domain.AuditEventStuckReclaimed, Status: domain.AuditStatusWarning, Message: "msg", RelatedBlockID: &id,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

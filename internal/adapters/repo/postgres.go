package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/metrics"
)

// pgxQuerier — общая часть pgxpool.Pool и pgxmock.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres реализует ContentRepo и AuditRepo поверх pgx.
type Postgres struct {
	db      pgxQuerier
	timeout time.Duration
}

var (
	_ domain.ContentRepo = (*Postgres)(nil)
	_ domain.AuditRepo   = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД; обычно db — *pgxpool.Pool.
func NewPostgres(db pgxQuerier) *Postgres {
	return &Postgres{db: db, timeout: 5 * time.Second}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

const blockColumns = `id::text, owner_id, content_type, date, raw_content, script, audio_url, status, voice,
duration_seconds, retry_count, priority, expiration_date, parameters, created_at, updated_at,
script_generated_at, audio_generated_at`

func scanBlock(row pgx.Row) (domain.ContentBlock, error) {
	var (
		b           domain.ContentBlock
		contentType string
		status      string
		params      []byte
	)
	err := row.Scan(&b.ID, &b.OwnerID, &contentType, &b.Date, &b.RawContent, &b.Script, &b.AudioURL, &status, &b.Voice,
		&b.DurationSeconds, &b.RetryCount, &b.Priority, &b.ExpirationDate, &params, &b.CreatedAt, &b.UpdatedAt,
		&b.ScriptGeneratedAt, &b.AudioGeneratedAt)
	if err != nil {
		return domain.ContentBlock{}, err
	}
	b.Type = domain.ContentType(contentType)
	b.Status = domain.ContentStatus(status)
	b.Parameters = map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &b.Parameters); err != nil {
			return domain.ContentBlock{}, fmt.Errorf("decode parameters of %s: %w", b.ID, err)
		}
	}
	return b, nil
}

func (p *Postgres) queryBlocks(ctx context.Context, op, sql string, args ...any) ([]domain.ContentBlock, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", op, "content_blocks", start, err)
		return nil, err
	}
	defer rows.Close()
	var out []domain.ContentBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			metrics.ObserveNetworkRequest("postgres", op, "content_blocks", start, err)
			return nil, err
		}
		out = append(out, b)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", op, "content_blocks", start, err)
	return out, err
}

func encodeParams(params map[string]any) ([]byte, error) {
	if len(params) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(params)
}

// CreateBlock реализует domain.ContentRepo.
func (p *Postgres) CreateBlock(ctx context.Context, block domain.ContentBlock) (domain.ContentBlock, error) {
	if err := block.Validate(); err != nil {
		return domain.ContentBlock{}, err
	}
	params, err := encodeParams(block.Parameters)
	if err != nil {
		return domain.ContentBlock{}, fmt.Errorf("encode parameters: %w", err)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	row := p.db.QueryRow(ctx, `
INSERT INTO content_blocks (id, owner_id, content_type, date, raw_content, script, audio_url, status, voice,
    duration_seconds, retry_count, priority, expiration_date, parameters, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING `+blockColumns,
		block.ID, block.OwnerID, string(block.Type), domain.DateOf(block.Date), block.RawContent, block.Script,
		block.AudioURL, string(block.Status), block.Voice, block.DurationSeconds, block.RetryCount, block.Priority,
		domain.DateOf(block.ExpirationDate), params, block.CreatedAt, block.UpdatedAt)
	created, err := scanBlock(row)
	metrics.ObserveNetworkRequest("postgres", "block_insert", "content_blocks", start, err)
	if err != nil {
		return domain.ContentBlock{}, fmt.Errorf("insert block %s: %w", block.ID, err)
	}
	return created, nil
}

// GetBlock реализует domain.ContentRepo.
func (p *Postgres) GetBlock(ctx context.Context, id string) (domain.ContentBlock, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	b, err := scanBlock(p.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM content_blocks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "block_get", "content_blocks", start, nil)
		return domain.ContentBlock{}, domain.ErrBlockNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "block_get", "content_blocks", start, err)
	if err != nil {
		return domain.ContentBlock{}, fmt.Errorf("get block %s: %w", id, err)
	}
	return b, nil
}

// ListStuck реализует domain.ContentRepo.
func (p *Postgres) ListStuck(ctx context.Context, statuses []domain.ContentStatus, olderThan time.Time, limit int) ([]domain.ContentBlock, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return p.queryBlocks(ctx, "list_stuck", `
SELECT `+blockColumns+`
FROM content_blocks
WHERE status = ANY($1) AND updated_at < $2
ORDER BY updated_at, id
LIMIT $3`, names, olderThan, limit)
}

// ListExpired реализует domain.ContentRepo.
func (p *Postgres) ListExpired(ctx context.Context, before time.Time, after domain.ExpirationCursor, limit int) ([]domain.ContentBlock, error) {
	var (
		afterDate *time.Time
		afterID   *string
	)
	if !after.IsZero() {
		d := domain.DateOf(after.ExpirationDate)
		afterDate, afterID = &d, &after.ID
	}
	return p.queryBlocks(ctx, "list_expired", `
SELECT `+blockColumns+`
FROM content_blocks
WHERE expiration_date < $1
  AND audio_url IS NOT NULL AND audio_url <> ''
  AND status <> 'expired'
  AND ($2::date IS NULL OR (expiration_date, id) > ($2::date, $3::uuid))
ORDER BY expiration_date, id
LIMIT $4`, domain.DateOf(before), afterDate, afterID, limit)
}

// ListByStatus реализует domain.ContentRepo.
func (p *Postgres) ListByStatus(ctx context.Context, status domain.ContentStatus, limit int) ([]domain.ContentBlock, error) {
	return p.queryBlocks(ctx, "list_by_status", `
SELECT `+blockColumns+`
FROM content_blocks
WHERE status = $1
ORDER BY priority, updated_at, id
LIMIT $2`, string(status), limit)
}

// ListRetryPending реализует domain.ContentRepo.
func (p *Postgres) ListRetryPending(ctx context.Context, target domain.ContentStatus, limit int) ([]domain.ContentBlock, error) {
	return p.queryBlocks(ctx, "list_retry_pending", `
SELECT `+blockColumns+`
FROM content_blocks
WHERE status = 'retry_pending' AND parameters->>'retry_target' = $1
ORDER BY priority, updated_at, id
LIMIT $2`, string(target), limit)
}

const updateStatusSQL = `
UPDATE content_blocks SET
    status = $3,
    updated_at = $4,
    script = COALESCE($5::text, script),
    script_generated_at = COALESCE($6::timestamptz, script_generated_at),
    audio_url = CASE WHEN $7::boolean THEN NULL ELSE COALESCE($8::text, audio_url) END,
    voice = COALESCE($9::text, voice),
    duration_seconds = COALESCE($10::integer, duration_seconds),
    audio_generated_at = COALESCE($11::timestamptz, audio_generated_at),
    retry_count = CASE $12::integer WHEN 1 THEN retry_count + 1 WHEN 2 THEN 0 ELSE retry_count END,
    parameters = parameters || $13::jsonb
WHERE id = $1 AND status = $2`

// UpdateStatus реализует domain.ContentRepo. Условие status = From проверяется
// в той же строке UPDATE, поэтому из двух конкурентов запись применит только один.
func (p *Postgres) UpdateStatus(ctx context.Context, u domain.StatusUpdate) (bool, error) {
	params, err := encodeParams(u.Parameters)
	if err != nil {
		return false, fmt.Errorf("encode parameters: %w", err)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.db.Exec(ctx, updateStatusSQL,
		u.ID, string(u.From), string(u.To), u.At,
		u.Script, u.ScriptGeneratedAt, u.ClearAudio, u.AudioURL,
		u.Voice, u.DurationSeconds, u.AudioGeneratedAt, int(u.Retry), params)
	metrics.ObserveNetworkRequest("postgres", "block_update_status", "content_blocks", start, err)
	if err != nil {
		return false, fmt.Errorf("update block %s %s->%s: %w", u.ID, u.From, u.To, err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendAudit реализует domain.AuditRepo.
func (p *Postgres) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	metadata, err := encodeParams(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err = p.db.Exec(ctx, `
INSERT INTO system_logs (event_type, status, message, metadata, related_block_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.EventType, entry.Status, entry.Message, metadata, entry.RelatedBlockID, entry.Timestamp)
	metrics.ObserveNetworkRequest("postgres", "audit_insert", "system_logs", start, err)
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", entry.EventType, err)
	}
	return nil
}

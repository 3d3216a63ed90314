package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/metrics"
)

// sqliteTimeLayout фиксированной ширины: лексический порядок совпадает с хронологическим.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite реализует ContentRepo и AuditRepo поверх встроенной SQLite
// для локального запуска без Postgres.
type SQLite struct {
	db *sql.DB
}

var (
	_ domain.ContentRepo = (*SQLite)(nil)
	_ domain.AuditRepo   = (*SQLite)(nil)
)

// OpenSQLite открывает файл базы в режиме WAL с ожиданием блокировок.
func OpenSQLite(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: empty path")
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	return db, nil
}

// NewSQLite создаёт адаптер; схему создаёт MigrateSQLite.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

const sqliteSchemaVersion = 1

// MigrateSQLite создаёт схему, если она ещё не создана.
func MigrateSQLite(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}
	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= sqliteSchemaVersion {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS content_blocks (
			id                  TEXT PRIMARY KEY,
			owner_id            TEXT,
			content_type        TEXT NOT NULL,
			date                TEXT NOT NULL,
			raw_content         TEXT NOT NULL DEFAULT '',
			script              TEXT NOT NULL DEFAULT '',
			audio_url           TEXT,
			status              TEXT NOT NULL,
			voice               TEXT NOT NULL DEFAULT '',
			duration_seconds    INTEGER,
			retry_count         INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
			priority            INTEGER NOT NULL DEFAULT 0,
			expiration_date     TEXT NOT NULL CHECK (expiration_date >= date),
			parameters          TEXT NOT NULL DEFAULT '{}',
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL,
			script_generated_at TEXT,
			audio_generated_at  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS content_blocks_status_updated_idx ON content_blocks (status, updated_at)`,
		`CREATE INDEX IF NOT EXISTS content_blocks_expiration_idx ON content_blocks (expiration_date, id)`,
		`CREATE TABLE IF NOT EXISTS system_logs (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type       TEXT NOT NULL,
			status           TEXT NOT NULL,
			message          TEXT NOT NULL DEFAULT '',
			metadata         TEXT NOT NULL DEFAULT '{}',
			related_block_id TEXT,
			created_at       TEXT NOT NULL
		)`,
		`INSERT INTO schema_migrations (version) VALUES (1)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func formatDate(t time.Time) string { return domain.DateOf(t).Format(domain.DateLayout) }

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

const sqliteBlockColumns = `id, owner_id, content_type, date, raw_content, script, audio_url, status, voice,
duration_seconds, retry_count, priority, expiration_date, parameters, created_at, updated_at,
script_generated_at, audio_generated_at`

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLiteBlock(row sqlRow) (domain.ContentBlock, error) {
	var (
		b                    domain.ContentBlock
		owner, audio         sql.NullString
		scriptAt, audioAt    sql.NullString
		duration             sql.NullInt64
		contentType, status  string
		date, expiry, params string
		createdAt, updatedAt string
	)
	err := row.Scan(&b.ID, &owner, &contentType, &date, &b.RawContent, &b.Script, &audio, &status, &b.Voice,
		&duration, &b.RetryCount, &b.Priority, &expiry, &params, &createdAt, &updatedAt, &scriptAt, &audioAt)
	if err != nil {
		return domain.ContentBlock{}, err
	}
	b.Type = domain.ContentType(contentType)
	b.Status = domain.ContentStatus(status)
	if owner.Valid {
		b.OwnerID = &owner.String
	}
	if audio.Valid {
		b.AudioURL = &audio.String
	}
	if duration.Valid {
		d := int(duration.Int64)
		b.DurationSeconds = &d
	}
	var errs []error
	parse := func(layout, value string) time.Time {
		t, err := time.Parse(layout, value)
		if err != nil {
			errs = append(errs, err)
		}
		return t
	}
	parseOpt := func(value sql.NullString) *time.Time {
		if !value.Valid {
			return nil
		}
		t := parse(sqliteTimeLayout, value.String)
		return &t
	}
	b.Date = parse(domain.DateLayout, date)
	b.ExpirationDate = parse(domain.DateLayout, expiry)
	b.CreatedAt = parse(sqliteTimeLayout, createdAt)
	b.UpdatedAt = parse(sqliteTimeLayout, updatedAt)
	b.ScriptGeneratedAt = parseOpt(scriptAt)
	b.AudioGeneratedAt = parseOpt(audioAt)
	if len(errs) > 0 {
		return domain.ContentBlock{}, fmt.Errorf("decode block %s: %w", b.ID, errors.Join(errs...))
	}
	b.Parameters = map[string]any{}
	if params != "" {
		if err := json.Unmarshal([]byte(params), &b.Parameters); err != nil {
			return domain.ContentBlock{}, fmt.Errorf("decode parameters of %s: %w", b.ID, err)
		}
	}
	return b, nil
}

func (s *SQLite) queryBlocks(ctx context.Context, op, query string, args ...any) ([]domain.ContentBlock, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.ObserveNetworkRequest("sqlite", op, "content_blocks", start, err)
		return nil, err
	}
	defer rows.Close()
	var out []domain.ContentBlock
	for rows.Next() {
		b, err := scanSQLiteBlock(rows)
		if err != nil {
			metrics.ObserveNetworkRequest("sqlite", op, "content_blocks", start, err)
			return nil, err
		}
		out = append(out, b)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("sqlite", op, "content_blocks", start, err)
	return out, err
}

// CreateBlock реализует domain.ContentRepo.
func (s *SQLite) CreateBlock(ctx context.Context, block domain.ContentBlock) (domain.ContentBlock, error) {
	if err := block.Validate(); err != nil {
		return domain.ContentBlock{}, err
	}
	params, err := encodeParams(block.Parameters)
	if err != nil {
		return domain.ContentBlock{}, fmt.Errorf("encode parameters: %w", err)
	}
	start := time.Now()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO content_blocks (id, owner_id, content_type, date, raw_content, script, audio_url, status, voice,
    duration_seconds, retry_count, priority, expiration_date, parameters, created_at, updated_at,
    script_generated_at, audio_generated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		block.ID, nullString(block.OwnerID), string(block.Type), formatDate(block.Date), block.RawContent, block.Script,
		nullString(block.AudioURL), string(block.Status), block.Voice, nullInt(block.DurationSeconds), block.RetryCount,
		block.Priority, formatDate(block.ExpirationDate), string(params), formatTime(block.CreatedAt),
		formatTime(block.UpdatedAt), nullTime(block.ScriptGeneratedAt), nullTime(block.AudioGeneratedAt))
	metrics.ObserveNetworkRequest("sqlite", "block_insert", "content_blocks", start, err)
	if err != nil {
		return domain.ContentBlock{}, fmt.Errorf("insert block %s: %w", block.ID, err)
	}
	return s.GetBlock(ctx, block.ID)
}

// GetBlock реализует domain.ContentRepo.
func (s *SQLite) GetBlock(ctx context.Context, id string) (domain.ContentBlock, error) {
	start := time.Now()
	b, err := scanSQLiteBlock(s.db.QueryRowContext(ctx, `SELECT `+sqliteBlockColumns+` FROM content_blocks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		metrics.ObserveNetworkRequest("sqlite", "block_get", "content_blocks", start, nil)
		return domain.ContentBlock{}, domain.ErrBlockNotFound
	}
	metrics.ObserveNetworkRequest("sqlite", "block_get", "content_blocks", start, err)
	if err != nil {
		return domain.ContentBlock{}, fmt.Errorf("get block %s: %w", id, err)
	}
	return b, nil
}

// ListStuck реализует domain.ContentRepo.
func (s *SQLite) ListStuck(ctx context.Context, statuses []domain.ContentStatus, olderThan time.Time, limit int) ([]domain.ContentBlock, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses)+2)
	marks := make([]string, len(statuses))
	for i, st := range statuses {
		marks[i] = "?"
		args = append(args, string(st))
	}
	args = append(args, formatTime(olderThan), limit)
	return s.queryBlocks(ctx, "list_stuck", `
SELECT `+sqliteBlockColumns+`
FROM content_blocks
WHERE status IN (`+strings.Join(marks, ", ")+`) AND updated_at < ?
ORDER BY updated_at, id
LIMIT ?`, args...)
}

// ListExpired реализует domain.ContentRepo.
func (s *SQLite) ListExpired(ctx context.Context, before time.Time, after domain.ExpirationCursor, limit int) ([]domain.ContentBlock, error) {
	query := `
SELECT ` + sqliteBlockColumns + `
FROM content_blocks
WHERE expiration_date < ?
  AND audio_url IS NOT NULL AND audio_url <> ''
  AND status <> 'expired'`
	args := []any{formatDate(before)}
	if !after.IsZero() {
		cur := formatDate(after.ExpirationDate)
		query += `
  AND (expiration_date > ? OR (expiration_date = ? AND id > ?))`
		args = append(args, cur, cur, after.ID)
	}
	query += `
ORDER BY expiration_date, id
LIMIT ?`
	args = append(args, limit)
	return s.queryBlocks(ctx, "list_expired", query, args...)
}

// ListByStatus реализует domain.ContentRepo.
func (s *SQLite) ListByStatus(ctx context.Context, status domain.ContentStatus, limit int) ([]domain.ContentBlock, error) {
	return s.queryBlocks(ctx, "list_by_status", `
SELECT `+sqliteBlockColumns+`
FROM content_blocks
WHERE status = ?
ORDER BY priority, updated_at, id
LIMIT ?`, string(status), limit)
}

// ListRetryPending реализует domain.ContentRepo.
func (s *SQLite) ListRetryPending(ctx context.Context, target domain.ContentStatus, limit int) ([]domain.ContentBlock, error) {
	return s.queryBlocks(ctx, "list_retry_pending", `
SELECT `+sqliteBlockColumns+`
FROM content_blocks
WHERE status = 'retry_pending' AND json_extract(parameters, '$.retry_target') = ?
ORDER BY priority, updated_at, id
LIMIT ?`, string(target), limit)
}

// UpdateStatus реализует domain.ContentRepo одной строкой UPDATE с условием на статус.
func (s *SQLite) UpdateStatus(ctx context.Context, u domain.StatusUpdate) (bool, error) {
	params, err := encodeParams(u.Parameters)
	if err != nil {
		return false, fmt.Errorf("encode parameters: %w", err)
	}
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
UPDATE content_blocks SET
    status = ?,
    updated_at = ?,
    script = COALESCE(?, script),
    script_generated_at = COALESCE(?, script_generated_at),
    audio_url = CASE WHEN ? THEN NULL ELSE COALESCE(?, audio_url) END,
    voice = COALESCE(?, voice),
    duration_seconds = COALESCE(?, duration_seconds),
    audio_generated_at = COALESCE(?, audio_generated_at),
    retry_count = CASE ? WHEN 1 THEN retry_count + 1 WHEN 2 THEN 0 ELSE retry_count END,
    parameters = json_patch(parameters, ?)
WHERE id = ? AND status = ?`,
		string(u.To), formatTime(u.At),
		nullString(u.Script), nullTime(u.ScriptGeneratedAt),
		u.ClearAudio, nullString(u.AudioURL),
		nullString(u.Voice), nullInt(u.DurationSeconds), nullTime(u.AudioGeneratedAt),
		int(u.Retry), string(params),
		u.ID, string(u.From))
	metrics.ObserveNetworkRequest("sqlite", "block_update_status", "content_blocks", start, err)
	if err != nil {
		return false, fmt.Errorf("update block %s %s->%s: %w", u.ID, u.From, u.To, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update block %s: rows affected: %w", u.ID, err)
	}
	return n == 1, nil
}

// AppendAudit реализует domain.AuditRepo.
func (s *SQLite) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	metadata, err := encodeParams(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	start := time.Now()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO system_logs (event_type, status, message, metadata, related_block_id, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		entry.EventType, entry.Status, entry.Message, string(metadata), nullString(entry.RelatedBlockID), formatTime(entry.Timestamp))
	metrics.ObserveNetworkRequest("sqlite", "audit_insert", "system_logs", start, err)
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", entry.EventType, err)
	}
	return nil
}

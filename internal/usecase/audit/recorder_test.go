package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alarm-pipeline/internal/domain"
)

type stubAuditRepo struct {
	entries []domain.AuditEntry
	err     error
}

func (s *stubAuditRepo) AppendAudit(_ context.Context, entry domain.AuditEntry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func TestRecordStoresAndLogs(t *testing.T) {
	var buf bytes.Buffer
	repo := &stubAuditRepo{}
	r := NewRecorder(repo, zerolog.New(&buf))
	err := r.Record(context.Background(), BlockEntry(domain.AuditEventStuckReclaimed, domain.AuditStatusWarning, "зависший блок", "b1", map[string]any{"stuck_status": "script_generating"}))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("ожидали одну запись, получили %d", len(repo.entries))
	}
	if repo.entries[0].Timestamp.IsZero() {
		t.Fatalf("время записи должно быть проставлено")
	}
	if !strings.Contains(buf.String(), `"block_id":"b1"`) || !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("неожиданный лог: %s", buf.String())
	}
}

func TestRecordReturnsSinkErrorWithoutPanic(t *testing.T) {
	repo := &stubAuditRepo{err: errors.New("db down")}
	r := NewRecorder(repo, zerolog.Nop())
	err := r.Record(context.Background(), domain.AuditEntry{EventType: domain.AuditEventStuckNoop, Status: domain.AuditStatusInfo})
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("ожидали ошибку журнала, получили %v", err)
	}
}

func TestRecordWithoutRepo(t *testing.T) {
	r := NewRecorder(nil, zerolog.Nop())
	if err := r.Record(context.Background(), domain.AuditEntry{EventType: "x"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
}

func TestRunEntryStatus(t *testing.T) {
	start := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	report := domain.NewRunReport("expiration", start)
	report.Selected, report.Processed = 2, 1
	report.AddError("b2: storage down")
	report.Finish(start.Add(time.Second))

	entry := RunEntry(domain.AuditEventExpirationSweep, report)
	if entry.Status != domain.AuditStatusWarning {
		t.Fatalf("ожидали warning для partial, получили %s", entry.Status)
	}
	if entry.Metadata["failed"] != 1 || entry.Metadata["outcome"] != "partial" {
		t.Fatalf("неожиданные метаданные: %+v", entry.Metadata)
	}
}

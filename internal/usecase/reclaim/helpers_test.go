package reclaim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alarm-pipeline/internal/adapters/repo"
	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/usecase/audit"
	"alarm-pipeline/internal/usecase/lifecycle"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

const cdnPrefix = "https://cdn.test/"

// scriptedRepo добавляет к хранилищу в памяти управляемые сбои.
type scriptedRepo struct {
	*repo.Memory

	mu               sync.Mutex
	listStuckErr     error
	expiredErrs      map[int]error
	expiredCalls     int
	updateErrs       map[string]error
	listStuckBarrier *sync.WaitGroup
}

func newScriptedRepo() *scriptedRepo {
	return &scriptedRepo{Memory: repo.NewMemory(), expiredErrs: map[int]error{}, updateErrs: map[string]error{}}
}

func (r *scriptedRepo) ListStuck(ctx context.Context, statuses []domain.ContentStatus, olderThan time.Time, limit int) ([]domain.ContentBlock, error) {
	if r.listStuckErr != nil {
		return nil, r.listStuckErr
	}
	blocks, err := r.Memory.ListStuck(ctx, statuses, olderThan, limit)
	if r.listStuckBarrier != nil {
		r.listStuckBarrier.Done()
		r.listStuckBarrier.Wait()
	}
	return blocks, err
}

func (r *scriptedRepo) ListExpired(ctx context.Context, before time.Time, after domain.ExpirationCursor, limit int) ([]domain.ContentBlock, error) {
	r.mu.Lock()
	call := r.expiredCalls
	r.expiredCalls++
	err := r.expiredErrs[call]
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Memory.ListExpired(ctx, before, after, limit)
}

func (r *scriptedRepo) UpdateStatus(ctx context.Context, u domain.StatusUpdate) (bool, error) {
	if err := r.updateErrs[u.ID]; err != nil {
		return false, err
	}
	return r.Memory.UpdateStatus(ctx, u)
}

type failingAudit struct{}

func (failingAudit) AppendAudit(context.Context, domain.AuditEntry) error {
	return errors.New("system_logs unavailable")
}

// fakeBlobs хранит объекты в памяти; удаление отсутствующего объекта не ошибка.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string]bool
	failing map[string]error
	deletes []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string]bool{}, failing: map[string]error{}}
}

func (f *fakeBlobs) Upload(_ context.Context, path string, _ []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = true
	return f.PublicURL(path), nil
}

func (f *fakeBlobs) PublicURL(path string) string { return cdnPrefix + path }

func (f *fakeBlobs) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, path)
	if err := f.failing[path]; err != nil {
		return err
	}
	delete(f.objects, path)
	return nil
}

func (f *fakeBlobs) PathFromURL(url string) (string, error) {
	if !strings.HasPrefix(url, cdnPrefix) {
		return "", fmt.Errorf("foreign url %q", url)
	}
	return strings.TrimPrefix(url, cdnPrefix), nil
}

func (f *fakeBlobs) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[path]
}

type blockOpt func(*domain.ContentBlock)

func withUpdatedAt(t time.Time) blockOpt { return func(b *domain.ContentBlock) { b.UpdatedAt = t } }

func withAudio(url string) blockOpt { return func(b *domain.ContentBlock) { b.AudioURL = &url } }

func withExpiration(d time.Time) blockOpt {
	return func(b *domain.ContentBlock) {
		b.Date = d.AddDate(0, 0, -2)
		b.ExpirationDate = d
	}
}

func seed(t *testing.T, store domain.ContentRepo, id string, status domain.ContentStatus, opts ...blockOpt) {
	t.Helper()
	day := domain.DateOf(testNow)
	b := domain.ContentBlock{
		ID:             id,
		Type:           domain.ContentTypeWeather,
		Date:           day,
		Status:         status,
		ExpirationDate: day.AddDate(0, 0, 2),
		RetryCount:     2,
		CreatedAt:      testNow.Add(-3 * time.Hour),
		UpdatedAt:      testNow,
		Parameters:     map[string]any{},
	}
	for _, opt := range opts {
		opt(&b)
	}
	if _, err := store.CreateBlock(context.Background(), b); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func newStuck(store domain.ContentRepo, auditRepo domain.AuditRepo, cfg StuckConfig) *StuckReclaimer {
	tr := lifecycle.NewTransitioner(store, zerolog.Nop())
	s := NewStuckReclaimer(store, tr, audit.NewRecorder(auditRepo, zerolog.Nop()), cfg, zerolog.Nop())
	s.now = func() time.Time { return testNow }
	return s
}

func newExpiration(store domain.ContentRepo, blobs domain.BlobStorage, auditRepo domain.AuditRepo, cfg ExpirationConfig) *ExpirationReclaimer {
	tr := lifecycle.NewTransitioner(store, zerolog.Nop())
	e := NewExpirationReclaimer(store, blobs, tr, audit.NewRecorder(auditRepo, zerolog.Nop()), cfg, zerolog.Nop())
	e.now = func() time.Time { return testNow }
	return e
}

func countEvents(entries []domain.AuditEntry, eventType string) int {
	n := 0
	for _, e := range entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func findEvent(entries []domain.AuditEntry, eventType string) (domain.AuditEntry, bool) {
	for _, e := range entries {
		if e.EventType == eventType {
			return e, true
		}
	}
	return domain.AuditEntry{}, false
}

package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alarm-pipeline/internal/adapters/repo"
	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/usecase/audit"
)

func newTestService(store *repo.Memory, maxRetries int) *Service {
	tr := NewTransitioner(store, zerolog.Nop())
	return NewService(store, tr, audit.NewRecorder(store, zerolog.Nop()), Config{MaxRetries: maxRetries, RetentionDays: 2}, zerolog.Nop())
}

func TestCreateBlockDefaults(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(store, 3)
	svc.now = func() time.Time { return testDay.Add(5 * time.Hour) }

	block, err := svc.CreateBlock(context.Background(), NewBlock{
		Type: domain.ContentTypeHeadlines,
		Date: testDay.Add(7 * time.Hour),
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := uuid.Parse(block.ID); err != nil {
		t.Fatalf("ожидали UUID, получили %q", block.ID)
	}
	if block.Status != domain.StatusPending {
		t.Fatalf("ожидали pending, получили %s", block.Status)
	}
	if !block.ExpirationDate.Equal(testDay.AddDate(0, 0, 2)) {
		t.Fatalf("ожидали срок через два дня, получили %s", block.ExpirationDate)
	}
	if !block.Date.Equal(testDay) {
		t.Fatalf("дата должна быть календарной, получили %s", block.Date)
	}
}

func TestCreateBlockWithRawContentIsReady(t *testing.T) {
	svc := newTestService(repo.NewMemory(), 3)
	block, err := svc.CreateBlock(context.Background(), NewBlock{
		Type:       domain.ContentTypeWeather,
		Date:       testDay,
		RawContent: `{"temp":21}`,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if block.Status != domain.StatusContentReady {
		t.Fatalf("ожидали content_ready, получили %s", block.Status)
	}
}

func TestCreateBlockValidation(t *testing.T) {
	svc := newTestService(repo.NewMemory(), 3)
	yesterday := testDay.AddDate(0, 0, -1)
	cases := []struct {
		name string
		in   NewBlock
		want error
	}{
		{"unknown type", NewBlock{Type: "horoscope", Date: testDay}, domain.ErrInvalidContentType},
		{"late status", NewBlock{Type: domain.ContentTypeWeather, Date: testDay, Status: domain.StatusReady}, domain.ErrInvalidBlock},
		{"ready without content", NewBlock{Type: domain.ContentTypeWeather, Date: testDay, Status: domain.StatusContentReady}, domain.ErrInvalidBlock},
		{"expiration before date", NewBlock{Type: domain.ContentTypeWeather, Date: testDay, ExpirationDate: &yesterday}, domain.ErrInvalidBlock},
		{"missing date", NewBlock{Type: domain.ContentTypeWeather}, domain.ErrInvalidBlock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateBlock(context.Background(), tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("ожидали %v, получили %v", tc.want, err)
			}
		})
	}
}

func TestRequeueBelowLimit(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	svc := newTestService(store, 3)
	id := uuid.NewString()
	seedBlock(t, store, id, domain.StatusScriptFailed, func(b *domain.ContentBlock) { b.RetryCount = 1 })

	res, err := svc.Requeue(ctx, id)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.To != domain.StatusRetryPending || res.Block.Status != domain.StatusRetryPending {
		t.Fatalf("ожидали retry_pending, получили %s", res.Block.Status)
	}
	if res.Block.Parameters[domain.ParamRetryTarget] != string(domain.StatusScriptGenerating) {
		t.Fatalf("ожидали цель script_generating, получили %v", res.Block.Parameters[domain.ParamRetryTarget])
	}
	if res.Block.RetryCount != 1 {
		t.Fatalf("счётчик не должен меняться, получили %d", res.Block.RetryCount)
	}
	if entries := store.AuditEntries(); len(entries) != 1 || entries[0].EventType != domain.AuditEventBlockRequeued {
		t.Fatalf("ожидали одну запись аудита, получили %+v", entries)
	}
}

func TestRequeueAtLimitAbandons(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(store, 3)
	id := uuid.NewString()
	seedBlock(t, store, id, domain.StatusAudioFailed, func(b *domain.ContentBlock) { b.RetryCount = 3 })

	res, err := svc.Requeue(context.Background(), id)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Block.Status != domain.StatusFailed || res.Block.RetryCount != 0 {
		t.Fatalf("ожидали failed со сброшенным счётчиком, получили %s/%d", res.Block.Status, res.Block.RetryCount)
	}
}

func TestRequeueRejectsOtherStatuses(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(store, 3)
	id := uuid.NewString()
	seedBlock(t, store, id, domain.StatusReady)

	if _, err := svc.Requeue(context.Background(), id); !errors.Is(err, domain.ErrNotRequeueable) {
		t.Fatalf("ожидали ErrNotRequeueable, получили %v", err)
	}
	if _, err := svc.Requeue(context.Background(), "not-a-uuid"); !IsNotFound(err) {
		t.Fatalf("ожидали ErrBlockNotFound, получили %v", err)
	}
}

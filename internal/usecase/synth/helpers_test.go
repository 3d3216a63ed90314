package synth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alarm-pipeline/internal/adapters/repo"
	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/retry"
	"alarm-pipeline/internal/usecase/audit"
	"alarm-pipeline/internal/usecase/lifecycle"
)

var testNow = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

type instantTimer struct{ c chan time.Time }

func newInstantTimer() *instantTimer { return &instantTimer{c: make(chan time.Time, 1)} }

func (t *instantTimer) Start(time.Duration) { t.c <- time.Time{} }
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

type statusErr int

func (e statusErr) Error() string       { return "upstream status" }
func (e statusErr) HTTPStatusCode() int { return int(e) }

// stubGenerator возвращает ошибки из errs по очереди, затем успешный сценарий.
type stubGenerator struct {
	mu     sync.Mutex
	calls  int
	errs   []error
	during func()
}

func (g *stubGenerator) GenerateScript(_ context.Context, block domain.ContentBlock) (domain.Script, error) {
	g.mu.Lock()
	call := g.calls
	g.calls++
	g.mu.Unlock()
	if g.during != nil {
		g.during()
	}
	if call < len(g.errs) {
		return domain.Script{}, g.errs[call]
	}
	return domain.Script{Text: "Доброе утро. " + block.RawContent, Model: "gpt-test", PromptTokens: 12, CompletionTokens: 8}, nil
}

type stubSpeech struct {
	voices []string
	err    error
}

func (s *stubSpeech) Synthesize(_ context.Context, text, voice string) (domain.Speech, error) {
	s.voices = append(s.voices, voice)
	if s.err != nil {
		return domain.Speech{}, s.err
	}
	return domain.Speech{Audio: []byte("ID3" + text), ContentType: "audio/mpeg", DurationSeconds: 4.6}, nil
}

const cdnPrefix = "https://cdn.test/"

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	fail    error
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (b *memBlobs) Upload(_ context.Context, path string, data []byte, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return "", b.fail
	}
	b.objects[path] = data
	return b.PublicURL(path), nil
}

func (b *memBlobs) PublicURL(path string) string { return cdnPrefix + path }

func (b *memBlobs) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, path)
	delete(b.objects, path)
	return nil
}

func (b *memBlobs) PathFromURL(url string) (string, error) {
	if !strings.HasPrefix(url, cdnPrefix) {
		return "", errors.New("foreign url")
	}
	return strings.TrimPrefix(url, cdnPrefix), nil
}

type memQueue struct {
	mu   sync.Mutex
	jobs []domain.StageJob
}

func (q *memQueue) Enqueue(_ context.Context, job domain.StageJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Receive(ctx context.Context) (domain.StageJob, domain.AckFunc, error) {
	<-ctx.Done()
	return domain.StageJob{}, nil, ctx.Err()
}

func seed(t *testing.T, store *repo.Memory, id string, status domain.ContentStatus, mutate ...func(*domain.ContentBlock)) {
	t.Helper()
	day := domain.DateOf(testNow)
	b := domain.ContentBlock{
		ID:             id,
		Type:           domain.ContentTypeWeather,
		Date:           day,
		RawContent:     `{"temp":3}`,
		Status:         status,
		ExpirationDate: day.AddDate(0, 0, 2),
		CreatedAt:      testNow.Add(-time.Hour),
		UpdatedAt:      testNow.Add(-time.Minute),
		Parameters:     map[string]any{},
	}
	for _, m := range mutate {
		m(&b)
	}
	if _, err := store.CreateBlock(context.Background(), b); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 4 * time.Second}
}

func newScript(store *repo.Memory, gen domain.ScriptGenerator, queue domain.StageQueue) *ScriptStage {
	logger := zerolog.Nop()
	s := NewScriptStage(store, lifecycle.NewTransitioner(store, logger), gen, audit.NewRecorder(store, logger),
		NewNotifier(queue, nil, time.Minute, logger), ScriptConfig{BatchSize: 10, Retry: testPolicy()}, logger)
	s.now = func() time.Time { return testNow }
	s.timer = newInstantTimer()
	return s
}

func newAudio(store *repo.Memory, speech domain.SpeechSynthesizer, blobs domain.BlobStorage, cfg AudioConfig) *AudioStage {
	logger := zerolog.Nop()
	cfg.Retry = testPolicy()
	a := NewAudioStage(store, lifecycle.NewTransitioner(store, logger), speech, blobs, audit.NewRecorder(store, logger), cfg, logger)
	a.now = func() time.Time { return testNow }
	a.timer = newInstantTimer()
	return a
}

func newTransitionerFor(store domain.ContentRepo) *lifecycle.Transitioner {
	return lifecycle.NewTransitioner(store, zerolog.Nop())
}

package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/config"
	"alarm-pipeline/internal/infra/queue"
	"alarm-pipeline/internal/usecase/lifecycle"
)

type stubSpeech struct{}

func (stubSpeech) Synthesize(_ context.Context, text, _ string) (domain.Speech, error) {
	return domain.Speech{Audio: []byte(text), ContentType: "audio/mpeg", DurationSeconds: 3}, nil
}

type memBlobs struct{ objects map[string]bool }

func (b *memBlobs) Upload(_ context.Context, path string, _ []byte, _ string) (string, error) {
	b.objects[path] = true
	return b.PublicURL(path), nil
}

func (b *memBlobs) PublicURL(path string) string { return "https://cdn.test/" + path }

func (b *memBlobs) Delete(_ context.Context, path string) error {
	delete(b.objects, path)
	return nil
}

func (b *memBlobs) PathFromURL(url string) (string, error) {
	return strings.TrimPrefix(url, "https://cdn.test/"), nil
}

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("QUEUE_DRIVER", "none")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ALERT_TG_BOT_TOKEN", "")
	t.Setenv("RETRY_BASE_DELAY", "1ms")
	t.Setenv("RETRY_MAX_DELAY", "1ms")
	cfg, err := config.Parse()
	require.NoError(t, err)
	return cfg
}

func TestNewRegistersAllJobs(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop(), Options{Blobs: &memBlobs{objects: map[string]bool{}}, Speech: stubSpeech{}})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, []string{"audio", "expiration", "script", "stuck-content"}, a.Runner.Names())
	assert.Nil(t, a.Queue)
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	blobs := &memBlobs{objects: map[string]bool{}}
	a, err := New(ctx, testConfig(t), zerolog.Nop(), Options{Blobs: blobs, Speech: stubSpeech{}})
	require.NoError(t, err)
	defer a.Close()

	block, err := a.Blocks.CreateBlock(ctx, lifecycle.NewBlock{
		Type:       domain.ContentTypeWeather,
		Date:       time.Now().UTC(),
		RawContent: `{"city":"Москва","temp":3}`,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusContentReady, block.Status)

	report, err := a.Runner.Run(ctx, "script")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSucceeded, report.Outcome)
	report, err = a.Runner.Run(ctx, "audio")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSucceeded, report.Outcome)

	got, err := a.Blocks.GetBlock(ctx, block.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, got.Status)
	require.True(t, got.HasAudio())
	assert.Len(t, blobs.objects, 1)

	report, err = a.Runner.Run(ctx, "stuck-content")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, report.Outcome)
	assert.Zero(t, report.Selected)
}

func TestScriptStagePublishesToRedisQueue(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Queues.Driver = "redis"
	cfg.RedisAddr = mr.Addr()

	a, err := New(ctx, cfg, zerolog.Nop(), Options{Blobs: &memBlobs{objects: map[string]bool{}}, Speech: stubSpeech{}})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Blocks.CreateBlock(ctx, lifecycle.NewBlock{Type: domain.ContentTypeHeadlines, Date: time.Now().UTC(), RawContent: "Главные новости"})
	require.NoError(t, err)
	_, err = a.Runner.Run(ctx, "script")
	require.NoError(t, err)

	q, ok := a.Queue.(*queue.RedisStageQueue)
	require.True(t, ok)
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUnknownDrivers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "mongo"
	_, err := New(context.Background(), cfg, zerolog.Nop(), Options{})
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.Queues.Driver = "kafka"
	_, err = New(context.Background(), cfg, zerolog.Nop(), Options{})
	require.Error(t, err)
}

package speech

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"alarm-pipeline/internal/domain"
	openai "alarm-pipeline/internal/infra/openai"
	"alarm-pipeline/internal/textsplit"
)

// chunkLimit — предел длины входа /audio/speech в символах.
const chunkLimit = 4000

// wordsPerMinute используется для оценки длительности озвучки.
const wordsPerMinute = 150

type speechClient interface {
	CreateSpeech(ctx context.Context, req openai.SpeechRequest) ([]byte, string, error)
}

// Options задаёт параметры синтеза.
type Options struct {
	Model        string
	DefaultVoice string
	Timeout      time.Duration
	RPS          float64
}

// OpenAI синтезирует речь через OpenAI TTS. Запросы проходят через общий лимитер.
type OpenAI struct {
	client  speechClient
	opts    Options
	limiter *rate.Limiter
}

// NewOpenAI создаёт синтезатор.
func NewOpenAI(client speechClient, opts Options) *OpenAI {
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini-tts"
	}
	if opts.DefaultVoice == "" {
		opts.DefaultVoice = "alloy"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	return &OpenAI{client: client, opts: opts, limiter: rate.NewLimiter(limit, 1)}
}

// Synthesize реализует domain.SpeechSynthesizer. Длинный текст режется на фрагменты,
// MP3-фрагменты склеиваются последовательно.
func (o *OpenAI) Synthesize(ctx context.Context, text, voice string) (domain.Speech, error) {
	chunks := textsplit.Split(text, chunkLimit)
	if len(chunks) == 0 {
		return domain.Speech{}, fmt.Errorf("%w: script is empty", domain.ErrInvalidBlock)
	}
	if voice == "" {
		voice = o.opts.DefaultVoice
	}
	var (
		buf         bytes.Buffer
		contentType string
	)
	for i, chunk := range chunks {
		if err := o.limiter.Wait(ctx); err != nil {
			return domain.Speech{}, fmt.Errorf("tts chunk %d: %w", i, err)
		}
		audio, ct, err := o.synthesizeChunk(ctx, chunk, voice)
		if err != nil {
			return domain.Speech{}, fmt.Errorf("tts chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if contentType == "" {
			contentType = ct
		}
		buf.Write(audio)
	}
	return domain.Speech{
		Audio:           buf.Bytes(),
		ContentType:     contentType,
		DurationSeconds: EstimateDuration(text),
	}, nil
}

func (o *OpenAI) synthesizeChunk(ctx context.Context, chunk, voice string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	return o.client.CreateSpeech(ctx, openai.SpeechRequest{
		Model:          o.opts.Model,
		Input:          chunk,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
}

// EstimateDuration оценивает длительность озвучки по числу слов.
func EstimateDuration(text string) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return float64(words) * 60 / wordsPerMinute
}

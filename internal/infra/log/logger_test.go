package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "prod", "warn")
	logger.Info().Msg("скрыто")
	logger.Warn().Msg("видно")
	out := buf.String()
	if strings.Contains(out, "скрыто") || !strings.Contains(out, "видно") {
		t.Fatalf("неожиданный вывод: %s", out)
	}

	buf.Reset()
	logger = newLogger(&buf, "dev", "error")
	logger.Debug().Msg("отладка")
	if !strings.Contains(buf.String(), "отладка") {
		t.Fatalf("в dev ожидали debug-уровень")
	}

	buf.Reset()
	logger = newLogger(&buf, "prod", "nonsense")
	logger.Debug().Msg("отладка")
	logger.Info().Msg("инфо")
	if strings.Contains(buf.String(), "отладка") || !strings.Contains(buf.String(), "инфо") {
		t.Fatalf("ожидали info по умолчанию: %s", buf.String())
	}
}

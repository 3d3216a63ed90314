package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestServerHealthz(t *testing.T) {
	s := NewServer(zerolog.Nop(), time.Second)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("неожиданное тело: %s", rec.Body.String())
	}
}

func TestWriteErrorIncludesRequestID(t *testing.T) {
	s := NewServer(zerolog.Nop(), time.Second)
	s.Router.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusBadRequest, errors.New("bad \"input\""))
	})
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `bad \"input\"`) || !strings.Contains(body, "request_id") {
		t.Fatalf("неожиданное тело: %s", body)
	}
}

func TestServerShutdownDuringStart(t *testing.T) {
	s := NewServer(zerolog.Nop(), time.Second)
	done := make(chan error, 1)
	go func() { done <- s.Start("127.0.0.1:0", time.Second) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Start не завершился после Shutdown")
	}
}

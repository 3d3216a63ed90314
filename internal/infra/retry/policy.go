package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy — ограниченная экспоненциальная задержка между попытками.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy: три попытки, задержка удваивается от секунды и не превышает 10 секунд.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 || p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay возвращает паузу после неудачной попытки attempt (нумерация с единицы).
// Ноль означает, что попыток больше не будет.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 || attempt >= p.MaxAttempts {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// BackOff собирает backoff.BackOff с той же последовательностью задержек, что и Delay.
func (p Policy) BackOff() backoff.BackOff {
	p = p.normalized()
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = p.MaxDelay
	exp.MaxElapsedTime = 0
	return backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
}

// Timer совпадает с backoff.Timer; в тестах подменяется мгновенным.
type Timer = backoff.Timer

// Notify вызывается перед каждой паузой.
type Notify func(err error, attempt int, delay time.Duration)

// Do выполняет op, повторяя только временные ошибки. Постоянная ошибка возвращается сразу.
func Do(ctx context.Context, p Policy, timer Timer, op func(ctx context.Context) error, notify Notify) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	var n backoff.Notify
	if notify != nil {
		n = func(err error, d time.Duration) { notify(err, attempt, d) }
	}
	return backoff.RetryNotifyWithTimer(operation, backoff.WithContext(p.BackOff(), ctx), n, timer)
}

// Permanent помечает ошибку как неповторяемую независимо от её вида.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsTransient различает временные ошибки (таймаут, 429, 5xx, сеть) и постоянные.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var coded interface{ HTTPStatusCode() int }
	if errors.As(err, &coded) {
		code := coded.HTTPStatusCode()
		return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}

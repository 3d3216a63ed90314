package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instantTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func newInstantTimer() *instantTimer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c <- time.Time{}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxAttempts: 6, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 0}
	for i, w := range want {
		assert.Equal(t, w, p.Delay(i+1), "attempt %d", i+1)
	}
	assert.Zero(t, p.Delay(0))
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	timer := newInstantTimer()
	p := Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	calls := 0
	var notified []int
	err := Do(context.Background(), p, timer, func(context.Context) error {
		calls++
		if calls < 3 {
			return statusErr(503)
		}
		return nil
	}, func(_ error, attempt int, _ time.Duration) {
		notified = append(notified, attempt)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.waits)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	timer := newInstantTimer()
	p := Policy{MaxAttempts: 3, BaseDelay: 4 * time.Second, MaxDelay: 5 * time.Second}
	calls := 0
	err := Do(context.Background(), p, timer, func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{4 * time.Second, 5 * time.Second}, timer.waits)
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	timer := newInstantTimer()
	calls := 0
	bad := statusErr(400)
	err := Do(context.Background(), DefaultPolicy(), timer, func(context.Context) error {
		calls++
		return bad
	}, nil)
	require.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.waits)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, DefaultPolicy(), newInstantTimer(), func(context.Context) error {
		calls++
		return statusErr(500)
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"rate limited", statusErr(429), true},
		{"server error", statusErr(502), true},
		{"bad request", statusErr(400), false},
		{"plain", errors.New("invalid input"), false},
		{"forced permanent", Permanent(statusErr(503)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

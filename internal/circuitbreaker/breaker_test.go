package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSend = errors.New("send failed")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New("whale_movements", Config{
		FailureThreshold: threshold,
		OpenTimeout:      time.Minute,
		Now:              clock.Now,
	}), clock
}

func fail() error    { return errSend }
func succeed() error { return nil }

func TestBreaker_Defaults(t *testing.T) {
	b := New("k", Config{})
	assert.Equal(t, 5, b.cfg.FailureThreshold)
	assert.Equal(t, 1, b.cfg.SuccessThreshold)
	assert.Equal(t, 30*time.Second, b.cfg.OpenTimeout)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(fail, nil), errSend)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3)

	_ = b.Execute(fail, nil)
	_ = b.Execute(fail, nil)
	require.NoError(t, b.Execute(succeed, nil))
	_ = b.Execute(fail, nil)
	_ = b.Execute(fail, nil)

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_IgnoredErrorsDoNotCount(t *testing.T) {
	b, _ := newTestBreaker(1)
	errConfig := errors.New("missing chat id")

	err := b.Execute(func() error { return errConfig }, func(err error) bool { return !errors.Is(err, errConfig) })
	assert.ErrorIs(t, err, errConfig)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	b, clock := newTestBreaker(1)
	_ = b.Execute(fail, nil)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, b.Execute(succeed, nil), ErrCircuitOpen)

	clock.Advance(31 * time.Second)
	require.NoError(t, b.Execute(succeed, nil))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1)
	_ = b.Execute(fail, nil)

	clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, b.Execute(fail, nil), errSend)
	assert.Equal(t, StateOpen, b.State())

	// The open timeout restarts from the failed probe.
	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, b.Execute(succeed, nil), ErrCircuitOpen)
}

func TestBreaker_SingleProbeInHalfOpen(t *testing.T) {
	b, clock := newTestBreaker(1)
	_ = b.Execute(fail, nil)
	clock.Advance(2 * time.Minute)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		}, nil)
	}()

	<-probeStarted
	assert.ErrorIs(t, b.Execute(succeed, nil), ErrCircuitOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New("critical_whales", Config{
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
		Now:              clock.Now,
		OnStateChange: func(key string, from, to State) {
			transitions = append(transitions, key+":"+from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(fail, nil)
	clock.Advance(2 * time.Second)
	_ = b.Execute(succeed, nil)

	assert.Equal(t, []string{
		"critical_whales:closed->open",
		"critical_whales:open->half_open",
		"critical_whales:half_open->closed",
	}, transitions)
}

func TestGroup_PerKeyIsolation(t *testing.T) {
	g := NewGroup(Config{FailureThreshold: 1, OpenTimeout: time.Hour})

	_ = g.Get("a").Execute(fail, nil)
	assert.Same(t, g.Get("a"), g.Get("a"))
	assert.Equal(t, StateOpen, g.Get("a").State())
	assert.NoError(t, g.Get("b").Execute(succeed, nil))

	states := g.States()
	assert.Equal(t, StateOpen, states["a"])
	assert.Equal(t, StateClosed, states["b"])
}

func TestBreaker_ConcurrentExecute(t *testing.T) {
	b := New("k", Config{FailureThreshold: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = b.Execute(fail, nil)
			} else {
				_ = b.Execute(succeed, nil)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ReadyHasNoSideEffects(t *testing.T) {
	b, clock := newTestBreaker(1)
	assert.True(t, b.Ready())

	_ = b.Execute(func() error { return errSend }, nil)
	assert.False(t, b.Ready())

	clock.Advance(time.Minute)
	assert.True(t, b.Ready())
	assert.Equal(t, StateOpen, b.State(), "Ready must not move the breaker to half-open")
}

package channels

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	name      string
	available bool
	pollErr   error
	panicOn   bool
	polled    atomic.Bool
	block     bool
}

func (s *stubExecutor) SendMessage(ctx context.Context, userID int64, text string, opts SendOptions) (MessageRef, error) {
	return MessageRef{Channel: s.name}, nil
}

func (s *stubExecutor) EditMessage(ctx context.Context, ref MessageRef, text string) error {
	return nil
}

func (s *stubExecutor) DeleteMessage(ctx context.Context, ref MessageRef) error {
	return nil
}

func (s *stubExecutor) StartPolling(ctx context.Context) error {
	s.polled.Store(true)
	if s.panicOn {
		panic("poll loop bug")
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.pollErr
}

func (s *stubExecutor) IsAvailable() bool { return s.available }
func (s *stubExecutor) Type() string      { return s.name }

func TestRegisterSkipsUnavailable(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubExecutor{name: "telegram", available: true})
	r.Register(&stubExecutor{name: "vk", available: false})

	_, ok := r.Get("telegram")
	assert.True(t, ok)
	_, ok = r.Get("vk")
	assert.False(t, ok)
	assert.Equal(t, []string{"telegram"}, r.Names())
}

func TestStartAllMarksRunningAndIsolatesFailures(t *testing.T) {
	r := NewRegistry(nil)
	healthy := &stubExecutor{name: "telegram", available: true, block: true}
	broken := &stubExecutor{name: "vk", available: true, panicOn: true}
	r.Register(healthy)
	r.Register(broken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := r.StartAll(ctx)
	require.Len(t, done, 2)

	// The panicking loop exits; the healthy one keeps running.
	require.Eventually(t, func() bool { return !r.Running("vk") }, time.Second, 10*time.Millisecond)
	assert.True(t, r.Running("telegram"))
	assert.True(t, broken.polled.Load())
	assert.True(t, healthy.polled.Load())

	cancel()
	for _, ch := range done {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("polling loop did not exit after cancellation")
		}
	}
	assert.False(t, r.Running("telegram"))
}

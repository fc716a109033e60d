package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/infrastructure/mail"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []mail.Message
	err  error
	sent chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(chan struct{}, 16)}
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	s.sent <- struct{}{}
	return s.err
}

type countingMetrics struct {
	mu        sync.Mutex
	dropped   int
	delivered map[bool]int
}

func (m *countingMetrics) MailDropped(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func (m *countingMetrics) MailDelivered(_ string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[ok]++
}

func newComposer(t *testing.T) *mail.Composer {
	t.Helper()
	c, err := mail.NewComposer("https://app.test/verify", "https://app.test/reset", 24*time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("composer: %v", err)
	}
	return c
}

func waitSent(t *testing.T, s *recordingSender, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i+1)
		}
	}
}

func TestDispatcher_DeliversInOrderPerUser(t *testing.T) {
	sender := newRecordingSender()
	metrics := &countingMetrics{delivered: map[bool]int{}}
	d := NewDispatcher(3, newComposer(t), sender, metrics, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	user := &domain.PublicUser{ID: "u1", Email: "a@x.com", Name: "A"}
	if err := d.SendVerificationEmail(ctx, user, "first"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := d.SendPasswordResetEmail(ctx, user, "second"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitSent(t, sender, 2)
	cancel()
	d.Wait()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.msgs[0].Kind != mail.KindVerifyEmail || sender.msgs[1].Kind != mail.KindPasswordReset {
		t.Fatalf("messages out of order: %+v", sender.msgs)
	}
	if metrics.delivered[true] != 2 {
		t.Fatalf("expected 2 deliveries, got %d", metrics.delivered[true])
	}
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	metrics := &countingMetrics{delivered: map[bool]int{}}
	d := NewDispatcher(1, newComposer(t), newRecordingSender(), metrics, zerolog.Nop())
	// Workers are not started, so the single queue fills up.
	user := &domain.PublicUser{ID: "u1"}
	for i := 0; i < channelBuffer; i++ {
		if err := d.SendVerificationEmail(context.Background(), user, "t"); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	err := d.SendVerificationEmail(context.Background(), user, "t")
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if metrics.dropped != 1 || d.Pending() != channelBuffer {
		t.Fatalf("dropped=%d pending=%d", metrics.dropped, d.Pending())
	}
}

func TestDispatcher_DeliveryFailureIsCounted(t *testing.T) {
	sender := newRecordingSender()
	sender.err = errors.New("broker down")
	metrics := &countingMetrics{delivered: map[bool]int{}}
	d := NewDispatcher(0, newComposer(t), sender, metrics, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	_ = d.SendVerificationEmail(ctx, &domain.PublicUser{ID: "u2"}, "t")
	waitSent(t, sender, 1)
	cancel()
	d.Wait()

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.delivered[false] != 1 {
		t.Fatalf("expected one failed delivery, got %v", metrics.delivered)
	}
}

func TestShardIndex_IsStable(t *testing.T) {
	d := NewDispatcher(5, nil, nil, nil, zerolog.Nop())
	first := d.shardIndex("user-42")
	for i := 0; i < 10; i++ {
		if d.shardIndex("user-42") != first {
			t.Fatalf("shard index must be deterministic")
		}
	}
	if first < 0 || first >= 5 {
		t.Fatalf("shard index out of range: %d", first)
	}
}

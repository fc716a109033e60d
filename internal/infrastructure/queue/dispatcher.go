package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
	"github.com/devlink/identity/internal/infrastructure/mail"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
)

// ErrQueueFull is returned when a worker queue has no room for a message.
var ErrQueueFull = errors.New("mail queue full")

// Metrics observes dispatcher outcomes.
type Metrics interface {
	MailDropped(kind string)
	MailDelivered(kind string, ok bool)
}

type nopMetrics struct{}

func (nopMetrics) MailDropped(string)         {}
func (nopMetrics) MailDelivered(string, bool) {}

// Dispatcher delivers notifications through a fixed set of workers, sharded
// by user ID so the messages of one user are sent in order. It implements
// ports.Mailer; enqueueing never blocks the request.
type Dispatcher struct {
	workers  []chan mail.Message
	composer *mail.Composer
	sender   mail.Sender
	metrics  Metrics
	log      zerolog.Logger
	wg       sync.WaitGroup
}

var _ ports.Mailer = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, composer *mail.Composer, sender mail.Sender, metrics Metrics, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	d := &Dispatcher{
		workers:  make([]chan mail.Message, numWorkers),
		composer: composer,
		sender:   sender,
		metrics:  metrics,
		log:      log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan mail.Message, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) SendVerificationEmail(_ context.Context, user *domain.PublicUser, rawToken string) error {
	return d.Enqueue(d.composer.Verification(user, rawToken))
}

func (d *Dispatcher) SendPasswordResetEmail(_ context.Context, user *domain.PublicUser, rawToken string) error {
	return d.Enqueue(d.composer.PasswordReset(user, rawToken))
}

// Enqueue hands msg to the worker responsible for its user. A full queue
// drops the message.
func (d *Dispatcher) Enqueue(msg mail.Message) error {
	select {
	case d.workers[d.shardIndex(msg.UserID)] <- msg:
		return nil
	default:
		d.metrics.MailDropped(string(msg.Kind))
		d.log.Error().
			Str("kind", string(msg.Kind)).
			Str("user_id", msg.UserID).
			Msg("mail queue full, notification dropped")
		return fmt.Errorf("%w: %s", ErrQueueFull, msg.Kind)
	}
}

// Pending returns the number of queued messages across all workers.
func (d *Dispatcher) Pending() int {
	n := 0
	for _, ch := range d.workers {
		n += len(ch)
	}
	return n
}

// shardIndex maps a user ID deterministically to a worker index.
func (d *Dispatcher) shardIndex(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan mail.Message) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			err := d.sender.Send(ctx, msg)
			d.metrics.MailDelivered(string(msg.Kind), err == nil)
			if err != nil {
				d.log.Error().Err(err).
					Str("kind", string(msg.Kind)).
					Str("user_id", msg.UserID).
					Int("worker_id", id).
					Msg("notification delivery failed")
			}
		}
	}
}

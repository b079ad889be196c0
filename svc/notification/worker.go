package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/competitorwatch/pkg/email"
	"github.com/dmitrymomot/competitorwatch/pkg/logger"
	"github.com/dmitrymomot/competitorwatch/pkg/metrics"
)

// Worker delivers due queue rows.
type Worker struct {
	store  Store
	sender email.Sender
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithWorkerClock overrides the time source.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewWorker(store Store, sender email.Sender, cfg Config, opts ...WorkerOption) *Worker {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	w := &Worker{
		store:  store,
		sender: sender,
		cfg:    cfg,
		logger: logger.Discard(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(logger.Component("notification_worker"))
	return w
}

// Start begins polling in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return errors.New("worker already started")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx, w.done)

	w.logger.InfoContext(ctx, "notification worker started",
		slog.Duration("poll_interval", w.cfg.PollInterval),
		slog.Int("batch_size", w.cfg.BatchSize))
	return nil
}

// Stop cancels polling and waits for the batch in flight.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return errors.New("worker not started")
	}
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("notification worker stopped")
	return nil
}

// Run returns a function suitable for errgroup: it starts the worker and
// stops it when ctx is done.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessDue(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "failed to process notifications", logger.Error(err))
			}
		}
	}
}

// ProcessDue claims one batch of due messages and attempts each. It returns
// the number of messages sent.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	msgs, err := w.store.ClaimDue(ctx, w.now(), w.cfg.BatchSize, w.cfg.LockTimeout)
	if err != nil {
		return 0, fmt.Errorf("claim due notifications: %w", err)
	}

	var (
		sent int
		errs []error
	)
	for _, msg := range msgs {
		ok, err := w.process(msg)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

// process sends one message. Sends use a context detached from the worker
// lifecycle so shutdown lets an in-flight send finish.
func (w *Worker) process(msg *Message) (sent bool, retErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SendTimeout)
	defer cancel()

	attempt := msg.Attempts + 1
	log := w.logger.With(
		logger.MessageID(msg.ID),
		logger.TenantID(msg.TenantID),
		logger.Template(msg.Template),
		logger.Attempt(attempt),
	)

	defer func() {
		if r := recover(); r != nil {
			retErr = w.fail(ctx, log, msg, attempt, fmt.Errorf("panic while sending: %v", r))
		}
	}()

	if err := deliver(ctx, w.sender, msg, w.cfg.AppURL); err != nil {
		return false, w.fail(ctx, log, msg, attempt, err)
	}

	if err := w.store.MarkSent(ctx, msg.ID, w.now()); err != nil {
		return true, fmt.Errorf("mark notification %s sent: %w", msg.ID, err)
	}
	metrics.Notifications.WithLabelValues(msg.Template, "sent").Inc()
	log.InfoContext(ctx, "notification sent")
	return true, nil
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, msg *Message, attempt int, cause error) error {
	// Unknown templates never render; retrying cannot help.
	if attempt >= w.cfg.MaxAttempts || errors.Is(cause, ErrUnknownTemplate) {
		if err := w.store.MarkDead(ctx, msg.ID, cause.Error(), w.now()); err != nil {
			return fmt.Errorf("dead-letter notification %s: %w", msg.ID, err)
		}
		metrics.Notifications.WithLabelValues(msg.Template, "dead_letter").Inc()
		log.ErrorContext(ctx, "notification moved to dead letters", logger.Error(cause))
		return nil
	}

	next := w.now().Add(nextDelay(w.cfg, attempt))
	if err := w.store.MarkRetry(ctx, msg.ID, cause.Error(), next); err != nil {
		return fmt.Errorf("reschedule notification %s: %w", msg.ID, err)
	}
	metrics.Notifications.WithLabelValues(msg.Template, "retry").Inc()
	log.WarnContext(ctx, "notification send failed, will retry",
		logger.Error(cause), slog.Time("next_attempt", next))
	return nil
}

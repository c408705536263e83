package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"offline-pos/internal/events"
	"offline-pos/internal/models"
	"offline-pos/internal/store"
	"offline-pos/internal/syncclient"
	"offline-pos/internal/util"

	"go.uber.org/zap"
)

var (
	ErrDraining     = errors.New("a drain is already running")
	ErrSyncDisabled = errors.New("sync is disabled by license")

	errNotRecorded = errors.New("delivery outcome not recorded")
)

// Deliverer sends one outbox payload to the receiver.
type Deliverer interface {
	Deliver(ctx context.Context, url, method string, payload []byte) (*models.SyncAck, error)
	Ping(ctx context.Context) error
}

// LicenseGate decides whether this terminal may sync at all.
type LicenseGate interface {
	MaySync(ctx context.Context) (bool, error)
}

type Config struct {
	BatchSize   int
	MaxRetries  int
	Interval    time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// SyncWorker drains the outbox in the background. It never shares a
// transaction with sale operations.
type SyncWorker struct {
	store   *store.Store
	bus     *events.Bus
	client  Deliverer
	gate    LicenseGate
	cfg     Config
	logger  *zap.Logger
	trigger chan struct{}

	draining atomic.Bool
	online   atomic.Bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(store *store.Store, bus *events.Bus, client Deliverer, gate LicenseGate, cfg Config) *SyncWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &SyncWorker{
		store:   store,
		bus:     bus,
		client:  client,
		gate:    gate,
		cfg:     cfg,
		logger:  util.GetLogger(),
		trigger: make(chan struct{}, 1),
	}
}

// Run drains on outbox inserts, on every probe tick while online, on the
// offline to online transition and on TriggerNow. It returns when ctx is done.
func (w *SyncWorker) Run(ctx context.Context) error {
	w.logger.Info("Starting sync worker",
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Duration("interval", w.cfg.Interval))

	if n, err := w.store.RequeueStale(ctx); err != nil {
		w.logger.Error("Failed to requeue stale outbox rows", zap.Error(err))
	} else if n > 0 {
		w.logger.Warn("Requeued outbox rows left in PROCESSING", zap.Int64("count", n))
	}

	changes := w.bus.Subscribe(ctx, "sync-worker")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.probe(ctx)
	w.drainLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping sync worker...")
			return nil

		case ev, ok := <-changes:
			if !ok {
				return nil
			}
			if ev.Table != events.TableSyncQueue || ev.Op != events.OpInsert {
				continue
			}
			if w.Online() {
				w.drainLogged(ctx)
			}

		case <-ticker.C:
			w.probe(ctx)
			if w.Online() {
				w.drainLogged(ctx)
			}

		case <-w.trigger:
			w.drainLogged(ctx)
		}
	}
}

// TriggerNow asks the running worker for an immediate drain.
func (w *SyncWorker) TriggerNow() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Online reports the last known connectivity.
func (w *SyncWorker) Online() bool {
	return w.online.Load()
}

// RetryAllFailed resets FAILED rows and triggers a drain.
func (w *SyncWorker) RetryAllFailed(ctx context.Context) (int64, error) {
	n, err := w.store.RetryAllFailed(ctx)
	if err != nil {
		return 0, err
	}
	w.logger.Info("Failed outbox rows requeued", zap.Int64("count", n))
	w.TriggerNow()
	return n, nil
}

// Drain delivers every due PENDING row at most once and returns how many
// were delivered. Overlapping calls return ErrDraining.
func (w *SyncWorker) Drain(ctx context.Context) (int, error) {
	if !w.draining.CompareAndSwap(false, true) {
		return 0, ErrDraining
	}
	defer w.draining.Store(false)

	ctx, span := util.StartSpan(ctx, "SyncWorker.Drain")
	defer span.End()
	defer w.updateQueueDepth(ctx)

	ok, err := w.gate.MaySync(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrSyncDisabled
	}

	delivered := 0
	var cursor int64
	for {
		items, err := w.store.ClaimBatch(ctx, cursor, w.cfg.BatchSize)
		if err != nil {
			return delivered, err
		}
		if len(items) == 0 {
			return delivered, nil
		}

		for i := range items {
			cursor = items[i].ID
			err := w.deliver(ctx, &items[i])
			if errors.Is(err, errNotRecorded) {
				// Outcome not recorded: this row and the rest of the batch go back to PENDING.
				if err := w.release(context.WithoutCancel(ctx), items[i:]); err != nil {
					w.logger.Error("Failed to release claimed outbox rows", zap.Error(err))
				}
				return delivered, err
			}
			if err == nil {
				delivered++
				continue
			}
			var de *syncclient.DeliveryError
			if errors.As(err, &de) && de.StatusCode == 0 {
				// Unreachable: leave the rest of the queue for the next cycle.
				w.setOnline(false)
				if err := w.release(ctx, items[i+1:]); err != nil {
					return delivered, err
				}
				return delivered, nil
			}
		}
	}
}

// deliver sends one row and records the outcome. A failure to record it is
// reported as errNotRecorded.
func (w *SyncWorker) deliver(ctx context.Context, item *models.SyncQueueItem) error {
	start := time.Now()
	_, err := w.client.Deliver(ctx, item.URL, item.Method, []byte(item.Payload))
	util.SyncDeliveryLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		packet, perr := item.Packet()
		if perr != nil {
			w.logger.Warn("Delivered packet could not be decoded", zap.Int64("queue_id", item.ID), zap.Error(perr))
		}
		if cerr := w.store.CompleteDelivery(ctx, item, packet); cerr != nil {
			w.logger.Error("Failed to complete delivery", zap.Int64("queue_id", item.ID), zap.Error(cerr))
			return fmt.Errorf("%w: %w", errNotRecorded, cerr)
		}
		util.SyncDeliveriesTotal.WithLabelValues("success").Inc()
		w.setOnline(true)
		w.logger.Debug("Packet delivered", zap.Int64("queue_id", item.ID))
		return nil
	}

	next := w.store.Now().Add(w.backoff(item.RetryCount + 1))
	status, ferr := w.store.FailDelivery(ctx, item.ID, err.Error(), w.cfg.MaxRetries, next)
	if ferr != nil {
		w.logger.Error("Failed to record delivery failure", zap.Int64("queue_id", item.ID), zap.Error(ferr))
		return fmt.Errorf("%w: %w", errNotRecorded, ferr)
	}

	result := "retry"
	if status == models.QueueFailed {
		result = "failed"
		w.logger.Error("Packet delivery gave up",
			zap.Int64("queue_id", item.ID),
			zap.Int("attempts", item.RetryCount+1),
			zap.Error(err))
	} else {
		w.logger.Warn("Packet delivery failed",
			zap.Int64("queue_id", item.ID),
			zap.Int("attempt", item.RetryCount+1),
			zap.Time("next_attempt_at", next),
			zap.Error(err))
	}
	util.SyncDeliveriesTotal.WithLabelValues(result).Inc()
	return err
}

// release returns claimed rows that were not attempted. Their retry budget is
// untouched.
func (w *SyncWorker) release(ctx context.Context, items []models.SyncQueueItem) error {
	if len(items) == 0 {
		return nil
	}
	_, err := w.store.RequeueStale(ctx)
	return err
}

// backoff is base × 2^(attempt−1), capped at BackoffMax. A zero base disables it.
func (w *SyncWorker) backoff(attempt int) time.Duration {
	if w.cfg.BackoffBase <= 0 || attempt < 1 {
		return 0
	}
	d := w.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if w.cfg.BackoffMax > 0 && d >= w.cfg.BackoffMax {
			return w.cfg.BackoffMax
		}
	}
	if w.cfg.BackoffMax > 0 && d > w.cfg.BackoffMax {
		return w.cfg.BackoffMax
	}
	return d
}

func (w *SyncWorker) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := w.client.Ping(ctx)
	if err != nil {
		w.logger.Debug("Connectivity probe failed", zap.Error(err))
	}
	w.setOnline(err == nil)
}

func (w *SyncWorker) setOnline(online bool) {
	was := w.online.Swap(online)
	if online {
		util.SyncOnline.Set(1)
	} else {
		util.SyncOnline.Set(0)
	}
	if was == online {
		return
	}
	if online {
		w.logger.Info("Sync receiver reachable")
		w.TriggerNow()
	} else {
		w.logger.Warn("Sync receiver unreachable, working offline")
	}
}

func (w *SyncWorker) drainLogged(ctx context.Context) {
	n, err := w.Drain(ctx)
	switch {
	case err == nil:
		if n > 0 {
			w.logger.Info("Outbox drained", zap.Int("delivered", n))
		}
	case errors.Is(err, ErrDraining), errors.Is(err, context.Canceled):
	case errors.Is(err, ErrSyncDisabled):
		w.logger.Warn("Sync skipped, license revoked")
	default:
		w.logger.Error("Outbox drain failed", zap.Error(err))
	}
}

func (w *SyncWorker) updateQueueDepth(ctx context.Context) {
	stats, err := w.store.QueueStats(ctx)
	if err != nil {
		return
	}
	util.SyncQueueDepth.WithLabelValues(string(models.QueuePending)).Set(float64(stats.Pending))
	util.SyncQueueDepth.WithLabelValues(string(models.QueueProcessing)).Set(float64(stats.Processing))
	util.SyncQueueDepth.WithLabelValues(string(models.QueueFailed)).Set(float64(stats.Failed))
}

// Package scheduler runs the synthetic traffic driver: one loop creates new
// batches, another advances random non-terminal objects through the lifecycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/sirupsen/logrus"

	"paydash/internal/lifecycle"
	"paydash/internal/models"
	"paydash/internal/telemetry"
)

var ErrAlreadyRunning = errors.New("driver already running")

// Source lists recent objects, newest first.
type Source interface {
	List(ctx context.Context, limit int) ([]models.QueueObject, error)
}

// Writer persists creations and transitions.
type Writer interface {
	Create(ctx context.Context, obj models.QueueObject) (models.QueueObject, error)
	Transition(ctx context.Context, obj models.QueueObject, next models.Status) (models.QueueObject, error)
}

// Options tunes timer ranges and batch shapes.
type Options struct {
	InsertMin      time.Duration
	InsertMax      time.Duration
	UpdateMin      time.Duration
	UpdateMax      time.Duration
	PageSize       int
	UpdatesPerTick int
	ItemsMin       int
	ItemsMax       int
	StoreTimeout   time.Duration
	Seed           int64
}

// Driver owns two independently cancellable timer loops.
type Driver struct {
	writer Writer
	source Source
	opts   Options
	log    *logrus.Entry
	faker  *gofakeit.Faker

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(w Writer, src Source, opts Options, log *logrus.Entry) *Driver {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.UpdatesPerTick <= 0 {
		opts.UpdatesPerTick = 1
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 3 * time.Second
	}
	return &Driver{
		writer: w,
		source: src,
		opts:   opts,
		log:    log,
		faker:  gofakeit.New(opts.Seed),
	}
}

// Start launches both loops. They stop when ctx is cancelled or Stop is called.
// Once both loops have exited the driver reports not running and may be
// started again.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running.Store(true)

	var active atomic.Int32
	active.Store(2)
	exit := func() {
		if active.Add(-1) > 0 {
			return
		}
		cancel()
		if d.running.Swap(false) {
			d.log.Info("driver stopped, context done")
		}
	}

	d.wg.Add(2)
	go d.loop(ctx, "insert", d.opts.InsertMin, d.opts.InsertMax, exit, d.InsertOnce)
	go d.loop(ctx, "update", d.opts.UpdateMin, d.opts.UpdateMax, exit, func(ctx context.Context) error {
		_, err := d.UpdateOnce(ctx)
		return err
	})
	d.log.WithFields(logrus.Fields{
		"insert_every": fmt.Sprintf("%s-%s", d.opts.InsertMin, d.opts.InsertMax),
		"update_every": fmt.Sprintf("%s-%s", d.opts.UpdateMin, d.opts.UpdateMax),
	}).Info("driver started")
	return nil
}

// Stop cancels both loops and waits for any in-flight tick. No write is
// issued once Stop returns. Calling Stop on a stopped driver is a no-op.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Swap(false) {
		return
	}
	d.cancel()
	d.wg.Wait()
	d.log.Info("driver stopped")
}

func (d *Driver) Running() bool {
	return d.running.Load()
}

func (d *Driver) loop(ctx context.Context, name string, min, max time.Duration, exit func(), tick func(context.Context) error) {
	defer d.wg.Done()
	defer exit()
	timer := time.NewTimer(d.interval(min, max))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !d.running.Load() {
			return
		}

		tickCtx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
		err := tick(tickCtx)
		cancel()
		if err != nil && ctx.Err() == nil {
			telemetry.DriverErrors.WithLabelValues(name).Inc()
			d.log.WithError(err).WithField("timer", name).Error("driver tick failed")
		}

		// Checked again so a tick that raced with Stop never reschedules.
		if !d.running.Load() {
			return
		}
		timer.Reset(d.interval(min, max))
	}
}

// interval draws uniformly from [min, max].
func (d *Driver) interval(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(d.faker.Rand.Int63n(int64(max-min)+1))
}

// InsertOnce creates one batch in RECEIVED, plus its items when configured.
func (d *Driver) InsertOnce(ctx context.Context) error {
	meta, err := d.batchMetadata()
	if err != nil {
		return err
	}
	batch, err := d.writer.Create(ctx, models.QueueObject{
		ObjectType: models.TypeBatch,
		Status:     models.StatusReceived,
		Metadata:   meta,
		Records:    d.faker.Number(1, 10),
	})
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}

	n := d.opts.ItemsMin
	if d.opts.ItemsMax > d.opts.ItemsMin {
		n = d.faker.Number(d.opts.ItemsMin, d.opts.ItemsMax)
	}
	for i := 0; i < n; i++ {
		itemMeta, err := d.itemMetadata(batch.ObjectID, i)
		if err != nil {
			return err
		}
		if _, err := d.writer.Create(ctx, models.QueueObject{
			ObjectType: models.TypeItem,
			ParentID:   batch.ObjectID,
			Status:     models.StatusReceived,
			Metadata:   itemMeta,
			Records:    1,
		}); err != nil {
			return fmt.Errorf("create item %d of %s: %w", i, batch.ObjectID, err)
		}
	}

	d.log.WithFields(logrus.Fields{
		"object_id": batch.ObjectID,
		"records":   batch.Records,
		"items":     n,
	}).Info("inserted batch")
	return nil
}

// UpdateOnce advances up to UpdatesPerTick random non-terminal objects from the
// most recent page by one step. It returns how many were advanced.
func (d *Driver) UpdateOnce(ctx context.Context) (int, error) {
	page, err := d.source.List(ctx, d.opts.PageSize)
	if err != nil {
		return 0, fmt.Errorf("list recent objects: %w", err)
	}
	candidates := make([]models.QueueObject, 0, len(page))
	for _, o := range page {
		if !lifecycle.IsTerminal(o.Status) && o.Status.Valid() {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	d.faker.ShuffleAnySlice(candidates)
	if len(candidates) > d.opts.UpdatesPerTick {
		candidates = candidates[:d.opts.UpdatesPerTick]
	}

	var errs []error
	advanced := 0
	for _, obj := range candidates {
		next, _, err := lifecycle.Advance(obj.Status, d.faker.Rand.Intn)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		updated, err := d.writer.Transition(ctx, obj, next)
		if err != nil {
			errs = append(errs, fmt.Errorf("advance %s: %w", obj.ObjectID, err))
			continue
		}
		advanced++
		d.log.WithFields(logrus.Fields{
			"object_id": obj.ObjectID,
			"from":      obj.Status,
			"to":        updated.Status,
			"outcome":   updated.Outcome,
		}).Debug("advanced object")
	}
	return advanced, errors.Join(errs...)
}

// Package tracker buffers admin activity records in memory and ships them to the collector in
// batches.
//
// A Tracker is created by its host and bracketed by Initialize and Dispose, normally around a
// logged-in session. Records are flushed every FlushInterval, as soon as the queue reaches
// FlushThreshold, and on login, logout and when the host is hidden. A failed batch is put back at
// the front of the queue and retried on the next flush. Tracking never returns errors to callers.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	"example.com/carwash/activity/internal/device"
	"example.com/carwash/activity/internal/domain"
)

const (
	DefaultFlushInterval  = 8 * time.Second
	DefaultFlushThreshold = 15
	DefaultMinScreenTime  = time.Second
)

// permanent is implemented by Send errors that a retry cannot fix, such as a batch the collector
// refused as invalid.
type permanent interface {
	Permanent() bool
}

// Sender delivers batches to the collector.
type Sender interface {
	// Send transmits one batch and reports whether the collector accepted it.
	Send(ctx context.Context, activities []domain.Activity) error
	// Beacon transmits a batch during teardown. It must not block for long and has no result.
	Beacon(activities []domain.Activity)
}

// Event describes an activity before the tracker stamps it.
type Event struct {
	Type     domain.ActivityType
	Page     *domain.Page
	Action   *domain.Action
	Scroll   *domain.Scroll
	Duration *int64
	Metadata map[string]any
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithEnvironment sets the source of device snapshots.
func WithEnvironment(env device.Environment) Option {
	return func(t *Tracker) { t.env = env }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger.With("component", "tracker") }
}

// WithLifecycle sets the visibility and teardown source subscribed to on Initialize.
func WithLifecycle(l Lifecycle) Option {
	return func(t *Tracker) { t.lifecycle = l }
}

// WithFlushInterval overrides the periodic flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithFlushThreshold overrides the queue length that triggers an immediate flush.
func WithFlushThreshold(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

// WithMaxQueue overrides the cap applied when a failed batch is requeued.
func WithMaxQueue(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxQueue = n
		}
	}
}

// WithMinScreenTime overrides the dwell time below which screen_time is not recorded.
func WithMinScreenTime(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.minScreenTime = d
		}
	}
}

// Tracker is safe for concurrent use.
type Tracker struct {
	sender        Sender
	env           device.Environment
	clock         clock.Clock
	logger        *slog.Logger
	lifecycle     Lifecycle
	interval      time.Duration
	threshold     int
	maxQueue      int
	maxBatch      int
	minScreenTime time.Duration

	mu            sync.Mutex
	initialized   bool
	sessionID     string
	queue         []domain.Activity
	flushing      bool
	ready         []domain.Activity
	currentPath   string
	currentTitle  string
	pageEnteredAt time.Time
	stop          chan struct{}
	unsubscribe   func()

	inflight sync.WaitGroup
}

// New constructs an uninitialized Tracker that delivers through sender.
func New(sender Sender, opts ...Option) *Tracker {
	t := &Tracker{
		sender:        sender,
		clock:         clock.New(),
		logger:        slog.New(slog.DiscardHandler),
		interval:      DefaultFlushInterval,
		threshold:     DefaultFlushThreshold,
		maxQueue:      domain.MaxBatchSize,
		maxBatch:      domain.MaxBatchSize,
		minScreenTime: DefaultMinScreenTime,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Initialize starts a session. Calling it on an initialized Tracker does nothing.
func (t *Tracker) Initialize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialized {
		return
	}

	t.initialized = true
	t.sessionID = newSessionID(t.clock.Now())
	t.stop = make(chan struct{})
	go t.run(t.clock.Ticker(t.interval), t.stop)

	if t.lifecycle != nil {
		t.unsubscribe = t.lifecycle.Subscribe(Listener{
			VisibilityChanged: t.VisibilityChanged,
			BeforeUnload:      t.BeforeUnload,
		})
	}
	t.logger.Info("tracker initialized", "session_id", t.sessionID)
}

// Dispose closes out the open page, starts a last flush and ends the session. It does not wait
// for flushes already in flight; use Wait for that. Calling it on an uninitialized Tracker does
// nothing.
func (t *Tracker) Dispose() {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}
	t.recordScreenTimeLocked()
	t.takeBatchLocked()

	stop, unsubscribe := t.stop, t.unsubscribe
	sessionID := t.sessionID
	t.initialized = false
	t.sessionID = ""
	t.currentPath, t.currentTitle = "", ""
	t.pageEnteredAt = time.Time{}
	t.stop, t.unsubscribe = nil, nil
	t.unlockAndSend()

	close(stop)
	if unsubscribe != nil {
		unsubscribe()
	}
	t.logger.Info("tracker disposed", "session_id", sessionID)
}

// Wait blocks until every flush started so far has finished.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}

// SessionID returns the current session id, or "" when not initialized.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Pending returns the number of queued activities.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Track records ev. It is ignored unless the Tracker is initialized.
func (t *Tracker) Track(ev Event) {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}
	t.appendLocked(ev)
	t.unlockAndSend()
}

// VisibilityChanged applies a host visibility transition.
func (t *Tracker) VisibilityChanged(v Visibility) {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}
	switch v {
	case VisibilityHidden:
		t.recordScreenTimeLocked()
		t.appendLocked(Event{Type: domain.ActivityTabBlur, Page: t.currentPageLocked()})
		t.takeBatchLocked()
	case VisibilityVisible:
		t.pageEnteredAt = t.clock.Now()
		t.appendLocked(Event{Type: domain.ActivityTabFocus, Page: t.currentPageLocked()})
	}
	t.unlockAndSend()
}

// BeforeUnload closes the session for a terminating host and hands the whole queue to the beacon
// transport. It never panics.
func (t *Tracker) BeforeUnload() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("before-unload recovered", "panic", fmt.Sprint(r))
		}
	}()

	batch := t.drainForUnload()
	if len(batch) == 0 {
		return
	}
	beaconCounter.Add(float64(len(batch)))
	for start := 0; start < len(batch); start += t.maxBatch {
		t.sender.Beacon(batch[start:min(start+t.maxBatch, len(batch))])
	}
}

// drainForUnload appends the synthetic logout and empties the queue regardless of any flush in
// flight.
func (t *Tracker) drainForUnload() []domain.Activity {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return nil
	}
	t.recordScreenTimeLocked()
	t.queue = append(t.queue, t.buildLocked(Event{Type: domain.ActivityLogout, Page: t.currentPageLocked()}))
	enqueuedCounter.WithLabelValues(string(domain.ActivityLogout)).Inc()
	batch := t.queue
	if t.ready != nil {
		// The screen_time record reached the threshold; beacon that batch instead of sending it.
		batch = append(t.ready, t.queue...)
		t.ready = nil
		t.flushing = false
		t.inflight.Done()
	}
	t.queue = nil
	queueGauge.Set(0)
	return batch
}

func (t *Tracker) run(ticker *clock.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.flush()
		}
	}
}

// flush starts an asynchronous send of the current queue.
func (t *Tracker) flush() {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}
	t.takeBatchLocked()
	t.unlockAndSend()
}

// appendLocked stamps ev and appends it, taking a batch when the queue reaches the threshold.
// Records the collector would refuse are dropped here so they cannot hold up the queue.
func (t *Tracker) appendLocked(ev Event) {
	record := t.buildLocked(ev)
	if err := record.Validate(); err != nil {
		invalidCounter.WithLabelValues(string(ev.Type)).Inc()
		t.logger.Warn("activity not recorded", "activity_type", string(ev.Type), "error", err)
		return
	}
	t.queue = append(t.queue, record)
	enqueuedCounter.WithLabelValues(string(ev.Type)).Inc()
	if len(t.queue) >= t.threshold {
		t.takeBatchLocked()
	}
}

func (t *Tracker) buildLocked(ev Event) domain.Activity {
	return domain.Activity{
		SessionID:    t.sessionID,
		ActivityType: ev.Type,
		Timestamp:    domain.FormatTimestamp(t.clock.Now()),
		Device:       device.Snapshot(t.env),
		Page:         ev.Page,
		Action:       ev.Action,
		Scroll:       ev.Scroll,
		Duration:     ev.Duration,
		Metadata:     maps.Clone(ev.Metadata),
	}
}

// takeBatchLocked moves up to maxBatch records from the front of the queue into t.ready unless a
// flush is running or the queue is empty.
func (t *Tracker) takeBatchLocked() {
	if t.flushing || len(t.queue) == 0 {
		return
	}
	t.flushing = true
	n := min(len(t.queue), t.maxBatch)
	t.ready = t.queue[:n:n]
	t.queue = t.queue[n:]
	if len(t.queue) == 0 {
		t.queue = nil
	}
	t.inflight.Add(1)
}

// unlockAndSend releases the lock and sends the batch taken while it was held, if any.
func (t *Tracker) unlockAndSend() {
	batch := t.ready
	t.ready = nil
	queueGauge.Set(float64(len(t.queue)))
	t.mu.Unlock()

	if batch != nil {
		go t.send(batch)
	}
}

func (t *Tracker) send(batch []domain.Activity) {
	defer t.inflight.Done()

	err := t.deliver(batch)

	var rejection permanent
	if errors.As(err, &rejection) && rejection.Permanent() {
		t.mu.Lock()
		t.flushing = false
		t.mu.Unlock()
		batchesRejectedCounter.Inc()
		droppedCounter.Add(float64(len(batch)))
		t.logger.Warn("batch rejected by collector, dropped", "error", err, "batch_size", len(batch))
		return
	}

	t.mu.Lock()
	dropped := 0
	if err != nil {
		merged := append(batch, t.queue...)
		if len(merged) > t.maxQueue {
			dropped = len(merged) - t.maxQueue
			merged = merged[:t.maxQueue]
		}
		t.queue = merged
	}
	t.flushing = false
	queued := len(t.queue)
	if err == nil && len(batch) == t.maxBatch {
		// A full batch left a backlog behind it; keep draining.
		t.takeBatchLocked()
	}
	t.unlockAndSend()

	if err != nil {
		batchesFailedCounter.Inc()
		droppedCounter.Add(float64(dropped))
		t.logger.Warn("flush failed, batch requeued", "error", err, "batch_size", len(batch), "queued", queued, "dropped", dropped)
		return
	}
	batchesSentCounter.Inc()
	t.logger.Debug("batch sent", "batch_size", len(batch))
}

func (t *Tracker) deliver(batch []domain.Activity) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return t.sender.Send(context.Background(), batch)
}

// recordScreenTimeLocked emits screen_time for the open page when its dwell time exceeds the
// minimum, and clears the entry time either way.
func (t *Tracker) recordScreenTimeLocked() {
	if t.currentPath == "" || t.pageEnteredAt.IsZero() {
		return
	}
	elapsed := t.clock.Now().Sub(t.pageEnteredAt)
	t.pageEnteredAt = time.Time{}
	if elapsed <= t.minScreenTime {
		return
	}
	duration := elapsed.Milliseconds()
	t.appendLocked(Event{
		Type:     domain.ActivityScreenTime,
		Page:     t.currentPageLocked(),
		Duration: &duration,
	})
}

func (t *Tracker) currentPageLocked() *domain.Page {
	if t.currentPath == "" {
		return nil
	}
	return &domain.Page{Path: t.currentPath, Title: t.currentTitle}
}

func newSessionID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

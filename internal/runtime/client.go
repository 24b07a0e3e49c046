// Package runtime implements the delivery engine behind the apitrail
// client: in-memory buffering, batch draining, retry/backoff, and disk
// fallback with crash recovery.
//
// The engine is deliberately synchronous. A single mutex guards the buffer
// and backoff state; sends happen under it, so a size-triggered flush
// inside Track and a timer-triggered flush can never lose or duplicate an
// event. Every operation after construction is contained: failures are
// reported through the optional error callback and debug logging, never to
// the host application.
package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/apitrail/apitrail-go/internal/consumer"
	"github.com/apitrail/apitrail-go/internal/diskstore"
	"github.com/apitrail/apitrail-go/internal/endpoint"
	"github.com/apitrail/apitrail-go/internal/event"
)

// Version is the SDK version reported to the ingestion endpoint.
const Version = "0.3.0"

const (
	// failureCeiling is the number of consecutive retryable failures
	// after which a batch goes to disk instead of another backoff round.
	defaultFailureCeiling = 5

	// baseBackoff anchors the exponential backoff schedule.
	baseBackoff = time.Second

	// recoveryCheckInterval bounds how often Flush re-checks the
	// persistence path for events written by a sibling process.
	recoveryCheckInterval = 60 * time.Second
)

// Client buffers API telemetry events and ships them to the ingestion
// endpoint in batches, falling back to local disk when the endpoint is
// unreachable. Construct with New; all methods are safe for concurrent
// use. Track, Flush, and Shutdown never return errors to the caller.
type Client struct {
	// Immutable after New.
	apiKey             string
	rawEndpoint        string
	endpoint           string
	instanceID         string
	flushInterval      time.Duration
	batchSize          int
	maxBufferSize      int
	maxStorageBytes    int64
	maxEventBytes      int
	storagePath        string
	debug              bool
	collectQueryString bool
	compress           bool
	sendTimeout        time.Duration
	onError            func(error)
	identify           func(*http.Request) string
	logger             *slog.Logger
	httpClient         *http.Client
	store              *diskstore.Store

	// failureCeiling and jitter are fixed at construction but kept as
	// fields so tests can tighten the schedule.
	failureCeiling int
	jitter         func() float64

	mu                  sync.Mutex
	buffer              []event.Event
	consecutiveFailures int
	backoffUntil        time.Time
	lastRecoveryCheck   time.Time
	closed              bool

	stop chan struct{}
	done chan struct{}
}

// New validates the configuration, recovers any events persisted by a
// previous process instance, and starts the background flush loop.
// Construction is the only point where errors surface; they are always
// *ConfigError.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		rawEndpoint:     DefaultEndpoint,
		flushInterval:   DefaultFlushInterval,
		batchSize:       DefaultBatchSize,
		maxBufferSize:   DefaultMaxBufferSize,
		maxStorageBytes: DefaultMaxStorageBytes,
		maxEventBytes:   DefaultMaxEventBytes,
		sendTimeout:     DefaultSendTimeout,
		failureCeiling:  defaultFailureCeiling,
		logger:          slog.Default(),
		instanceID:      uuid.NewString(),
		jitter: func() float64 {
			return 0.5 + rand.Float64()/2
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, &ConfigError{Reason: "invalid option", Err: err}
		}
	}

	if err := validateAPIKey(c.apiKey); err != nil {
		return nil, &ConfigError{Reason: "invalid api key", Err: err}
	}

	validated, err := endpoint.Validate(c.rawEndpoint)
	if err != nil {
		return nil, &ConfigError{Reason: "invalid endpoint", Err: err}
	}
	c.endpoint = validated

	if c.storagePath == "" {
		c.storagePath = diskstore.DefaultPath(c.endpoint)
	}
	c.store = diskstore.New(c.storagePath, c.maxStorageBytes, c.logger)

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   c.sendTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	c.mu.Lock()
	c.recoverLocked()
	c.mu.Unlock()

	if c.flushInterval > 0 {
		go c.flushLoop()
	} else {
		close(c.done)
	}

	return c, nil
}

// Track sanitizes and buffers one event. It never fails visibly: oversized
// events are dropped (metadata first, then the whole event), a full buffer
// forces a synchronous flush, and any internal panic is contained.
func (c *Client) Track(e event.Event) {
	defer c.contain("track")

	e = event.Sanitize(e)
	e, ok := event.Bound(e, c.maxEventBytes)
	if !ok {
		c.debugLog("event dropped: exceeds max event size",
			slog.Int("limit", c.maxEventBytes))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if len(c.buffer) >= c.maxBufferSize {
		c.flushLocked()
		if len(c.buffer) >= c.maxBufferSize {
			c.debugLog("event dropped: buffer full",
				slog.Int("capacity", c.maxBufferSize))
			return
		}
	}

	c.buffer = append(c.buffer, e)
	if len(c.buffer) >= c.batchSize {
		c.flushLocked()
	}
}

// Flush drains up to one batch from the buffer head and attempts delivery.
// It is a no-op while a backoff window is active or the buffer is empty,
// and may block up to the send timeout.
func (c *Client) Flush() {
	defer c.contain("flush")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

// Shutdown performs one final flush and persists whatever the flush could
// not deliver (for example because a backoff window is active). It is
// idempotent; a second call is a no-op.
func (c *Client) Shutdown() {
	defer c.contain("shutdown")

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushLocked()
	if len(c.buffer) > 0 {
		c.persistLocked(c.buffer)
		c.buffer = nil
	}
}

// BufferCount returns the number of buffered events.
func (c *Client) BufferCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// ConsumerFor derives the consumer identifier for a request, using the
// caller-supplied identify function when one was configured.
func (c *Client) ConsumerFor(r *http.Request) string {
	if c.identify != nil {
		return c.identify(r)
	}
	return consumer.FromHeaders(r.Header)
}

// CollectsQueryString reports whether framework adapters should record the
// request query string.
func (c *Client) CollectsQueryString() bool { return c.collectQueryString }

// StoragePath returns the resolved persistence path.
func (c *Client) StoragePath() string { return c.storagePath }

// flushLoop drives periodic flushing until Shutdown. It shares the buffer
// mutex with Track and Flush, so the two flush paths cannot interleave.
func (c *Client) flushLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Flush()
		}
	}
}

// flushLocked implements one drain cycle. Callers must hold c.mu.
func (c *Client) flushLocked() {
	if time.Since(c.lastRecoveryCheck) >= recoveryCheckInterval {
		c.recoverLocked()
	}

	if len(c.buffer) == 0 || time.Now().Before(c.backoffUntil) {
		return
	}

	n := min(c.batchSize, len(c.buffer))
	batch := make([]event.Event, n)
	copy(batch, c.buffer[:n])
	c.buffer = c.buffer[n:]

	err := c.send(batch)
	if err == nil {
		c.consecutiveFailures = 0
		c.backoffUntil = time.Time{}
		c.store.ClearRecovered()
		c.debugLog("batch delivered", slog.Int("events", n))
		return
	}

	var de *DeliveryError
	if !errors.As(err, &de) || !de.Retryable {
		// Non-retryable: the endpoint rejected the payload, so retrying
		// in-process cannot succeed. Persist and drop from memory.
		c.persistLocked(batch)
		c.report(err)
		return
	}

	c.consecutiveFailures++
	if c.consecutiveFailures >= c.failureCeiling {
		c.consecutiveFailures = 0
		c.persistLocked(batch)
		c.report(err)
		return
	}

	c.requeueLocked(batch)
	delay := time.Duration(float64(baseBackoff) *
		math.Pow(2, float64(c.consecutiveFailures-1)) * c.jitter())
	c.backoffUntil = time.Now().Add(delay)
	c.debugLog("batch requeued",
		slog.Int("failures", c.consecutiveFailures),
		slog.Duration("backoff", delay))
	c.report(err)
}

// requeueLocked reinserts a failed batch at the buffer head, preserving
// order and dropping whatever no longer fits capacity.
func (c *Client) requeueLocked(batch []event.Event) {
	room := c.maxBufferSize - len(c.buffer)
	if room <= 0 {
		return
	}
	if room < len(batch) {
		batch = batch[:room]
	}

	merged := make([]event.Event, 0, len(batch)+len(c.buffer))
	merged = append(merged, batch...)
	merged = append(merged, c.buffer...)
	c.buffer = merged
}

// recoverLocked merges persisted events into the buffer within capacity.
func (c *Client) recoverLocked() {
	c.lastRecoveryCheck = time.Now()

	recovered := c.store.Recover(c.maxBufferSize)
	if len(recovered) == 0 {
		return
	}

	room := c.maxBufferSize - len(c.buffer)
	if room <= 0 {
		return
	}
	if room < len(recovered) {
		recovered = recovered[:room]
	}
	c.buffer = append(c.buffer, recovered...)
	c.debugLog("recovered events from disk", slog.Int("events", len(recovered)))
}

// persistLocked writes a batch to the fallback file. Persistence failures
// are logged and swallowed; once the storage quota is exhausted, losing
// the batch is the accepted last resort.
func (c *Client) persistLocked(batch []event.Event) {
	if err := c.store.Append(batch); err != nil {
		c.debugLog("batch dropped: persistence failed",
			slog.Int("events", len(batch)), slog.Any("error", err))
	}
}

// report routes a contained delivery error to the optional callback. The
// callback runs on its own goroutine with a panic guard so a misbehaving
// handler can neither deadlock nor destabilize delivery.
func (c *Client) report(err error) {
	c.debugLog("delivery failed", slog.Any("error", err))

	if c.onError == nil {
		return
	}
	fn := c.onError
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.debugLog("error callback panicked", slog.Any("panic", r))
			}
		}()
		fn(err)
	}()
}

// contain is the last line of the never-throw contract: any panic escaping
// an operation is logged and swallowed.
func (c *Client) contain(op string) {
	if r := recover(); r != nil {
		c.debugLog("panic contained", slog.String("op", op), slog.Any("panic", r))
	}
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.debug {
		c.logger.Debug(msg, args...)
	}
}

func validateAPIKey(key string) error {
	if key == "" {
		return fmt.Errorf("api key required")
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("api key contains control characters")
		}
	}
	return nil
}

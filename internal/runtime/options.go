package runtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Defaults applied by New when the corresponding option is not given.
const (
	DefaultEndpoint        = "https://ingest.apitrail.io/v1/events"
	DefaultFlushInterval   = 15 * time.Second
	DefaultBatchSize       = 250
	DefaultMaxBufferSize   = 10_000
	DefaultMaxStorageBytes = 5 << 20
	DefaultMaxEventBytes   = 64 << 10
	DefaultSendTimeout     = 5 * time.Second
)

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithAPIKey sets the ingestion API key. Required.
func WithAPIKey(key string) Option {
	return func(c *Client) error {
		c.apiKey = key
		return nil
	}
}

// WithEndpoint overrides the ingestion endpoint. The URL is validated at
// construction; see internal/endpoint for the rules.
func WithEndpoint(url string) Option {
	return func(c *Client) error {
		c.rawEndpoint = url
		return nil
	}
}

// WithFlushInterval sets the period of the background flush loop.
// A zero or negative interval disables the loop entirely; flushing then
// happens only on size triggers and explicit Flush calls.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Client) error {
		c.flushInterval = d
		return nil
	}
}

// WithBatchSize sets the number of events sent per request.
func WithBatchSize(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		c.batchSize = n
		return nil
	}
}

// WithMaxBufferSize caps the in-memory buffer. When the buffer is full a
// synchronous flush is forced before new events are dropped.
func WithMaxBufferSize(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("max buffer size must be positive, got %d", n)
		}
		c.maxBufferSize = n
		return nil
	}
}

// WithMaxStorageBytes caps the on-disk fallback file. Batches that would
// grow the file past the cap are dropped.
func WithMaxStorageBytes(n int64) Option {
	return func(c *Client) error {
		c.maxStorageBytes = n
		return nil
	}
}

// WithMaxEventBytes caps the serialized size of a single event. Oversized
// events lose their metadata field first and are dropped if still too big.
func WithMaxEventBytes(n int) Option {
	return func(c *Client) error {
		c.maxEventBytes = n
		return nil
	}
}

// WithStoragePath overrides the persistence path. The default is derived
// from a hash of the endpoint under the shared temp directory.
func WithStoragePath(path string) Option {
	return func(c *Client) error {
		c.storagePath = path
		return nil
	}
}

// WithDebug enables debug logging of contained operational errors.
func WithDebug(debug bool) Option {
	return func(c *Client) error {
		c.debug = debug
		return nil
	}
}

// WithCollectQueryString controls whether framework adapters record the
// query string as part of the path.
func WithCollectQueryString(collect bool) Option {
	return func(c *Client) error {
		c.collectQueryString = collect
		return nil
	}
}

// WithOnError installs a callback invoked for delivery failures. The
// callback is wrapped so a panicking handler cannot disturb delivery.
func WithOnError(fn func(error)) Option {
	return func(c *Client) error {
		c.onError = fn
		return nil
	}
}

// WithIdentifyConsumer replaces the default consumer identification
// (X-API-Key verbatim, Authorization hashed) entirely.
func WithIdentifyConsumer(fn func(*http.Request) string) Option {
	return func(c *Client) error {
		c.identify = fn
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client for delivery.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithCompression enables gzip compression of request bodies.
func WithCompression(compress bool) Option {
	return func(c *Client) error {
		c.compress = compress
		return nil
	}
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("send timeout must be positive, got %v", d)
		}
		c.sendTimeout = d
		return nil
	}
}

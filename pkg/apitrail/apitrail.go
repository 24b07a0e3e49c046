// Package apitrail is the public API for embedding the apitrail telemetry
// client. It buffers API call events, ships them in batches to the
// ingestion endpoint, and falls back to local disk when the endpoint is
// unreachable. This is the stable surface for external consumers; see
// internal/runtime for full documentation.
package apitrail

import (
	"github.com/apitrail/apitrail-go/internal/event"
	"github.com/apitrail/apitrail-go/internal/instrument"
	"github.com/apitrail/apitrail-go/internal/runtime"
)

// Version is the SDK version reported to the ingestion endpoint.
const Version = runtime.Version

// Client delivers buffered telemetry events to the ingestion endpoint.
// Construct with New; Track, Flush, and Shutdown never fail visibly.
type Client = runtime.Client

// Event is one observed API call.
type Event = event.Event

// Option is a functional option for configuring a Client.
type Option = runtime.Option

// Error kinds. Only *ConfigError ever surfaces to the caller, and only
// from New.
type (
	ConfigError   = runtime.ConfigError
	DeliveryError = runtime.DeliveryError
)

// New creates a client, recovers any events persisted by a previous
// process instance, and starts the background flush loop.
// Example:
//
//	client, err := apitrail.New(
//	    apitrail.WithAPIKey(os.Getenv("APITRAIL_API_KEY")),
//	    apitrail.WithBatchSize(100),
//	)
var New = runtime.New

// Middleware wraps an http.Handler (or chi router) and records one event
// per request through the client.
var Middleware = instrument.Middleware

// Configuration options
var (
	WithAPIKey             = runtime.WithAPIKey
	WithEndpoint           = runtime.WithEndpoint
	WithFlushInterval      = runtime.WithFlushInterval
	WithBatchSize          = runtime.WithBatchSize
	WithMaxBufferSize      = runtime.WithMaxBufferSize
	WithMaxStorageBytes    = runtime.WithMaxStorageBytes
	WithMaxEventBytes      = runtime.WithMaxEventBytes
	WithStoragePath        = runtime.WithStoragePath
	WithDebug              = runtime.WithDebug
	WithCollectQueryString = runtime.WithCollectQueryString
	WithOnError            = runtime.WithOnError
	WithIdentifyConsumer   = runtime.WithIdentifyConsumer
	WithLogger             = runtime.WithLogger
	WithHTTPClient         = runtime.WithHTTPClient
	WithCompression        = runtime.WithCompression
	WithSendTimeout        = runtime.WithSendTimeout
)

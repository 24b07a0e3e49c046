package runtime

import "fmt"

// ConfigError reports invalid construction input: a bad API key or an
// invalid or unsafe endpoint. It is the only error kind that surfaces to
// the caller; everything after construction is contained.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("apitrail: %s: %v", e.Reason, e.Err)
	}
	return "apitrail: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DeliveryError describes a failed batch delivery. Retryable failures
// (transport errors and a small set of HTTP statuses) drive backoff and
// re-buffering; everything else goes straight to disk.
type DeliveryError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("apitrail: ingest returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("apitrail: delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

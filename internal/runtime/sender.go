package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"

	"github.com/apitrail/apitrail-go/internal/event"
)

// retryableStatus reports whether an HTTP status is worth retrying.
// Everything else outside 2xx is treated as a permanent rejection.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// send posts one batch as a JSON array. A nil return means the endpoint
// acknowledged the batch; any failure comes back as *DeliveryError with
// its retryability classified. send never retries within a call — retry is
// expressed through re-buffering and the backoff gate on the next flush.
func (c *Client) send(batch []event.Event) error {
	payload, err := event.MarshalBatch(batch)
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("encode batch: %w", err)}
	}

	body := payload
	if c.compress {
		compressed, err := gzipBytes(payload)
		if err != nil {
			return &DeliveryError{Err: fmt.Errorf("compress batch: %w", err)}
		}
		body = compressed
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Instance-Id", c.instanceID)
	req.Header.Set("User-Agent", "apitrail-go/"+Version)
	if c.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Retryable: true, Err: fmt.Errorf("send batch: %w", err)}
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &DeliveryError{
		StatusCode: resp.StatusCode,
		Retryable:  retryableStatus(resp.StatusCode),
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

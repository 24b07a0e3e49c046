// Package diskstore persists undeliverable event batches as JSON lines and
// recovers them after a crash or restart. Each line of the file is either a
// single event object or a JSON array of events. A file being drained back
// into memory is rotated to a ".recovering" suffix so a concurrent or
// subsequent load does not read it twice.
package diskstore

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/gofrs/flock"

	"github.com/apitrail/apitrail-go/internal/event"
)

// ErrStorageFull is returned by Append when the file has reached the
// configured size limit. The caller drops the batch; unbounded growth is
// worse than losing best-effort telemetry.
var ErrStorageFull = errors.New("diskstore: storage limit reached")

const recoveringSuffix = ".recovering"

// scanner line buffer bounds; a persisted line holds a whole batch.
const (
	scanInitialBuf = 64 << 10
	scanMaxBuf     = 16 << 20
)

// Store is an append-only JSON-lines file with advisory cross-process
// locking. All methods are safe for concurrent use and never panic; I/O
// failures surface as errors for the caller to log.
type Store struct {
	path     string
	maxBytes int64
	logger   *slog.Logger
	flk      *flock.Flock

	mu sync.Mutex
	// absorbed records that this process has already loaded the contents
	// of the ".recovering" file into memory, so periodic recovery passes
	// must not read it again.
	absorbed bool
}

// New creates a store writing to path. A maxBytes of zero disables the
// size limit.
func New(path string, maxBytes int64, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o700)
	return &Store{
		path:     path,
		maxBytes: maxBytes,
		logger:   logger,
		flk:      flock.New(path + ".lock"),
	}
}

// DefaultPath derives a persistence path for an endpoint under the shared
// temp directory. Clients pointed at the same endpoint share a file, which
// is what lets a fresh process recover a crashed sibling's events.
func DefaultPath(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	name := hex.EncodeToString(sum[:])[:16] + ".ndjson"
	return filepath.Join(os.TempDir(), "apitrail", name)
}

// Path returns the primary persistence path.
func (s *Store) Path() string { return s.path }

// Append writes one batch as a single JSON-array line. File permissions are
// restricted to the owner. Returns ErrStorageFull when the file is at or
// over the size limit.
func (s *Store) Append(events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tryLock()
	defer s.unlock()

	if s.maxBytes > 0 {
		if info, err := os.Stat(s.path); err == nil && info.Size() >= s.maxBytes {
			return ErrStorageFull
		}
	}

	line, err := event.MarshalBatch(events)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// Recover loads up to max persisted events. The ".recovering" file left by
// a prior incomplete recovery is checked first, then the primary path; a
// read failure on one candidate does not prevent trying the other.
// Malformed lines are skipped. After a successful read the primary file is
// rotated to the ".recovering" suffix, or deleted if the rename fails, so
// it is not loaded twice.
func (s *Store) Recover(max int) []event.Event {
	if max <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tryLock()
	defer s.unlock()

	recPath := s.path + recoveringSuffix
	var out []event.Event

	if !s.absorbed {
		loaded, found := readEvents(recPath, max)
		if found {
			out = append(out, loaded...)
			s.absorbed = true
		}
	}

	if len(out) < max {
		loaded, found := readEvents(s.path, max-len(out))
		if found {
			out = append(out, loaded...)
			if err := os.Rename(s.path, recPath); err != nil {
				s.logger.Debug("recovery rotation failed, removing source",
					slog.String("path", s.path), slog.Any("error", err))
				_ = os.Remove(s.path)
			}
			s.absorbed = true
		}
	}

	return out
}

// ClearRecovered deletes the ".recovering" file once its contents have been
// delivered or re-absorbed into a live buffer.
func (s *Store) ClearRecovered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tryLock()
	defer s.unlock()

	_ = os.Remove(s.path + recoveringSuffix)
	s.absorbed = false
}

// tryLock takes the advisory cross-process lock without blocking. Losing
// the race is tolerated: appends are O_APPEND whole-line writes, so the
// lock only narrows the window for interleaved recovery passes.
func (s *Store) tryLock() {
	if _, err := s.flk.TryLock(); err != nil {
		s.logger.Debug("advisory lock unavailable", slog.Any("error", err))
	}
}

func (s *Store) unlock() {
	if s.flk.Locked() {
		_ = s.flk.Unlock()
	}
}

// readEvents decodes up to max events from the JSON-lines file at path.
// found is false when the file does not exist or cannot be opened.
func readEvents(path string, max int) (events []event.Event, found bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, scanInitialBuf), scanMaxBuf)

	for sc.Scan() && len(events) < max {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		if line[0] == '[' {
			var batch []event.Event
			if err := json.Unmarshal(line, &batch); err == nil {
				events = append(events, batch...)
			}
			continue
		}

		var ev event.Event
		if err := json.Unmarshal(line, &ev); err == nil {
			events = append(events, ev)
		}
	}

	if len(events) > max {
		events = events[:max]
	}
	return events, true
}

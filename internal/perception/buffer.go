// Package perception implements the sliding-window perception buffer (C1):
// the handoff point between platform input sources and the pipeline.
// Grounded on the teacher's mutex-guarded in-memory buffering idiom seen in
// agentic_memory.go, generalized from a conversation-memory ring to a
// time-windowed record buffer.
package perception

import (
	"sync"
	"time"
)

// RecordKind distinguishes the three raw inputs the buffer accepts.
type RecordKind string

const (
	KindScreenshot RecordKind = "screenshot"
	KindKeyboard   RecordKind = "keyboard"
	KindMouse      RecordKind = "mouse"
)

// RawRecord is a single timestamped observation fed in by the host
// process's platform hooks (spec.md §3).
type RawRecord struct {
	Kind      RecordKind
	Timestamp time.Time
	// ImageBytes holds the raw screenshot payload when Kind == KindScreenshot.
	ImageBytes []byte
	// Hash is the perceptual hash C2 computed for a screenshot record, used
	// by the rate-limiter to drop near-duplicate frames before they enter
	// the buffer.
	Hash string
	// Text carries a human-readable summary for keyboard/mouse records
	// (e.g. "typed 42 chars in Terminal", "3 clicks in VSCode").
	Text string
}

// Filter narrows Get results. A nil field means "no constraint on this
// dimension".
type Filter struct {
	Kind  *RecordKind
	Since *time.Time
}

func (f Filter) matches(r RawRecord) bool {
	if f.Kind != nil && r.Kind != *f.Kind {
		return false
	}
	if f.Since != nil && r.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

const (
	defaultWindow    = 20 * time.Second
	defaultSweepGap  = 5 * time.Second
)

// Buffer is the ordered double-ended collection of RawRecord described in
// spec.md §4.1. All mutations are serialized by mu; Get/GetLatest return
// snapshot copies so callers never observe a slice the writer is still
// appending to.
type Buffer struct {
	mu          sync.Mutex
	records     []RawRecord
	window      time.Duration
	sweepGap    time.Duration
	lastSweep   time.Time
	lastShotHash string
	dedupeFn    func(hashA, hashB string) (distance int, ok bool)
	dedupeThreshold int
}

// Option configures a Buffer at construction.
type Option func(*Buffer)

// WithWindow overrides the default 20s retention window.
func WithWindow(d time.Duration) Option {
	return func(b *Buffer) { b.window = d }
}

// WithSweepGap overrides the default 5s minimum gap between sweeps.
func WithSweepGap(d time.Duration) Option {
	return func(b *Buffer) { b.sweepGap = d }
}

// WithScreenshotDedupe installs the perceptual-hash distance function and
// threshold used to rate-limit near-duplicate screenshots (spec.md §4.1,
// grounded on C2's pHash in internal/imageopt). distance returns (hamming
// distance, true) when both hashes are comparable.
func WithScreenshotDedupe(threshold int, distance func(a, b string) (int, bool)) Option {
	return func(b *Buffer) {
		b.dedupeThreshold = threshold
		b.dedupeFn = distance
	}
}

// New constructs an empty Buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		window:   defaultWindow,
		sweepGap: defaultSweepGap,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add appends record, first rate-limiting near-duplicate screenshots via
// the configured pHash distance function, then sweeping expired records if
// at least sweepGap has elapsed since the last sweep.
func (b *Buffer) Add(record RawRecord) (accepted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if record.Kind == KindScreenshot && b.dedupeFn != nil && b.lastShotHash != "" {
		if dist, ok := b.dedupeFn(record.Hash, b.lastShotHash); ok && dist < b.dedupeThreshold {
			return false
		}
	}

	b.records = append(b.records, record)
	if record.Kind == KindScreenshot {
		b.lastShotHash = record.Hash
	}

	now := time.Now()
	if b.lastSweep.IsZero() || now.Sub(b.lastSweep) >= b.sweepGap {
		b.sweepLocked(now)
		b.lastSweep = now
	}
	return true
}

// sweepLocked drops records older than window. Callers must hold mu.
func (b *Buffer) sweepLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	keepFrom := 0
	for keepFrom < len(b.records) && b.records[keepFrom].Timestamp.Before(cutoff) {
		keepFrom++
	}
	if keepFrom > 0 {
		remaining := make([]RawRecord, len(b.records)-keepFrom)
		copy(remaining, b.records[keepFrom:])
		b.records = remaining
	}
}

// Get returns a snapshot copy of every buffered record matching filter.
func (b *Buffer) Get(filter Filter) []RawRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]RawRecord, 0, len(b.records))
	for _, r := range b.records {
		if filter.matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// GetLatest returns a snapshot copy of the n most recently added records
// matching kind (or all kinds if kind is nil), oldest first.
func (b *Buffer) GetLatest(n int, kind *RecordKind) []RawRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []RawRecord
	for _, r := range b.records {
		if kind == nil || r.Kind == *kind {
			matched = append(matched, r)
		}
	}
	if len(matched) <= n {
		return matched
	}
	return append([]RawRecord(nil), matched[len(matched)-n:]...)
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
	b.lastShotHash = ""
}

// Len reports the current record count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

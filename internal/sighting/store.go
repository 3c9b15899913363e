package sighting

import (
	"sync"
	"time"

	"github.com/OpenISDM/lbeacon/internal/lberr"
	"github.com/OpenISDM/lbeacon/internal/list"
	"github.com/OpenISDM/lbeacon/internal/slab"
)

// DropReason names why a sighting or queue entry was discarded, for
// the metrics counters spec.md §4.7/§7 require without naming where
// they're surfaced (internal/metrics reads these).
type DropReason string

const (
	DropStoreFull       DropReason = "store_full"
	DropQueueOverflow    DropReason = "queue_overflow"
)

// Store is the sighting store of spec.md §4.7: one mutex guarding the
// recent-sightings set, the tracked-object queue, and the slab they
// share.
type Store struct {
	mu sync.Mutex

	pool    *slab.Pool[Record]
	recent  *list.List[slab.Handle]
	tracked *list.List[slab.Handle]
	index   map[string]slab.Handle // address -> handle, recent-set only

	maxTrackedQueue  int
	silenceTimeoutMs int64
	usageThreshold   float64

	now func() int64

	onDrop func(DropReason)
}

// Option configures a Store at construction.
type Option func(*Store)

// WithClock overrides the monotonic-millisecond clock; used by tests
// to drive scenarios S1–S3 deterministically.
func WithClock(fn func() int64) Option {
	return func(s *Store) { s.now = fn }
}

// WithUsageThreshold overrides mempool_usage_threshold (default 0.70).
func WithUsageThreshold(ratio float64) Option {
	return func(s *Store) { s.usageThreshold = ratio }
}

// WithDropHook registers a callback invoked whenever a sighting or
// queue entry is dropped, naming the reason.
func WithDropHook(fn func(DropReason)) Option {
	return func(s *Store) { s.onDrop = fn }
}

// NewStore builds a store backed by a slab of slabCapacity records.
// maxTrackedQueue bounds the tracked-object queue (spec.md §4.7's
// overflow eviction); silenceTimeoutMs is the cleanup window of §4.7.
func NewStore(slabCapacity, maxTrackedQueue int, silenceTimeoutMs int64, opts ...Option) *Store {
	s := &Store{
		pool:             slab.New[Record](slabCapacity),
		recent:           list.New[slab.Handle](),
		tracked:          list.New[slab.Handle](),
		index:            make(map[string]slab.Handle),
		maxTrackedQueue:  maxTrackedQueue,
		silenceTimeoutMs: silenceTimeoutMs,
		usageThreshold:   0.70,
		now:              func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) drop(reason DropReason) {
	if s.onDrop != nil {
		s.onDrop(reason)
	}
}

// ObserveBR admits or refreshes a BR/EDR sighting (spec.md §4.5's
// observe_br).
func (s *Store) ObserveBR(addr string, rssi int8) error {
	return s.observe(addr, KindBREDR, rssi, false, false, 0, nil)
}

// ObserveBLE admits or refreshes a BLE sighting (spec.md §4.6's
// observe_ble).
func (s *Store) ObserveBLE(addr string, rssi int8, buttonPressed bool, hasBattery bool, batteryVoltage uint8, payload []byte) error {
	return s.observe(addr, KindBLE, rssi, buttonPressed, hasBattery, batteryVoltage, payload)
}

func (s *Store) observe(addr string, kind Kind, rssi int8, buttonPressed, hasBattery bool, batteryVoltage uint8, payload []byte) error {
	addr = NormalizeAddress(addr)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.index[addr]; ok {
		r := s.pool.At(h)
		if r == nil {
			// Inconsistent bookkeeping should never happen; treat as
			// absent rather than panic.
			delete(s.index, addr)
		} else {
			r.LastSeenMs = now
			r.RSSI = rssi
			if kind == KindBLE {
				r.ButtonPressed = buttonPressed
				r.HasBattery = hasBattery
				r.BatteryVoltage = batteryVoltage
				r.PayloadLen = copy(r.Payload[:], payload)
			}
			if !s.tracked.IsLinked(h) {
				s.enqueueTracked(h)
			}
			return nil
		}
	}

	// New address: admit it. Run an inline cleanup if the slab is
	// under memory pressure before trying to acquire (spec.md §4.7).
	if s.pool.UsageRatio() >= s.usageThreshold {
		s.cleanupLocked(now)
	}

	h, r := s.pool.Acquire()
	if r == nil {
		s.drop(DropStoreFull)
		return lberr.New(lberr.StoreFull, "sighting.observe", nil)
	}
	*r = Record{
		Address:     addr,
		Kind:        kind,
		FirstSeenMs: now,
		LastSeenMs:  now,
		RSSI:        rssi,
	}
	if kind == KindBLE {
		r.ButtonPressed = buttonPressed
		r.HasBattery = hasBattery
		r.BatteryVoltage = batteryVoltage
		r.PayloadLen = copy(r.Payload[:], payload)
	}
	s.index[addr] = h
	s.recent.InsertTail(h)
	s.enqueueTracked(h)
	return nil
}

// enqueueTracked pushes h onto the tracked-object queue, evicting the
// oldest entry first if the queue is already at its configured bound
// (spec.md §4.7: "On overflow of the tracked-object queue the oldest
// entry is evicted and counted as a dropped sighting.") Caller holds
// s.mu.
func (s *Store) enqueueTracked(h slab.Handle) {
	if s.maxTrackedQueue > 0 {
		for s.tracked.Length() >= s.maxTrackedQueue {
			oldest, ok := s.tracked.PopHead()
			if !ok {
				break
			}
			s.drop(DropQueueOverflow)
			s.releaseIfUnused(oldest)
		}
	}
	s.tracked.InsertTail(h)
}

// releaseIfUnused frees a slot back to the slab once it belongs to
// neither list (spec.md §3's allocator invariant). Caller holds s.mu.
func (s *Store) releaseIfUnused(h slab.Handle) {
	if !s.recent.IsLinked(h) && !s.tracked.IsLinked(h) {
		s.pool.Release(h)
	}
}

// DrainForUpload pops up to maxN records from the head of the
// tracked-object queue and returns a stable snapshot of each,
// unlinking them from the queue. Records remain in the recent-
// sightings set until the cleaner evicts them (spec.md §4.7).
func (s *Store) DrainForUpload(maxN int) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, 0, maxN)
	for len(out) < maxN {
		h, ok := s.tracked.PopHead()
		if !ok {
			break
		}
		r := s.pool.At(h)
		if r == nil {
			continue
		}
		out = append(out, r.snapshot())
		s.releaseIfUnused(h)
	}
	return out
}

// Cleanup traverses the recent-sightings set, removing records whose
// silence window has elapsed (spec.md §4.7). It returns the number of
// records removed.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(s.now())
}

func (s *Store) cleanupLocked(now int64) int {
	var stale []slab.Handle
	s.recent.ForEach(func(h slab.Handle) {
		r := s.pool.At(h)
		if r == nil {
			stale = append(stale, h)
			return
		}
		if now-r.LastSeenMs > s.silenceTimeoutMs {
			stale = append(stale, h)
		}
	})
	for _, h := range stale {
		addr := ""
		if r := s.pool.At(h); r != nil {
			addr = r.Address
		}
		s.recent.Remove(h)
		if addr != "" {
			delete(s.index, addr)
		}
		s.releaseIfUnused(h)
	}
	return len(stale)
}

// RecentLen returns the number of addresses currently in the
// recent-sightings set.
func (s *Store) RecentLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent.Length()
}

// TrackedLen returns the number of records waiting in the
// tracked-object queue.
func (s *Store) TrackedLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracked.Length()
}

// Lookup returns a snapshot of the record for addr in the
// recent-sightings set, if any. Used by tests.
func (s *Store) Lookup(addr string) (Snapshot, bool) {
	addr = NormalizeAddress(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.index[addr]
	if !ok {
		return Snapshot{}, false
	}
	r := s.pool.At(h)
	if r == nil {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

// SlabUsage returns the fraction of slab slots currently in use.
func (s *Store) SlabUsage() float64 {
	return s.pool.UsageRatio()
}

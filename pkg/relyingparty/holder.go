package relyingparty

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openrpki/rov-validator/pkg/logme"
)

// DefaultSnapshotMaxAge bounds how long a cached snapshot is served before
// a refresh is attempted.
const DefaultSnapshotMaxAge = 10 * time.Minute

// SnapshotSource produces VRP snapshots.
type SnapshotSource interface {
	FetchVRPSnapshot(ctx context.Context) (*Snapshot, error)
}

// SnapshotHolder caches the latest snapshot behind an atomic pointer.
// Readers always observe one coherent snapshot: refreshes swap the pointer
// as a unit and never touch a published snapshot.
type SnapshotHolder struct {
	source SnapshotSource
	maxAge time.Duration
	now    func() time.Time

	current   atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
}

// NewSnapshotHolder wraps source. A non-positive maxAge selects
// DefaultSnapshotMaxAge.
func NewSnapshotHolder(source SnapshotSource, maxAge time.Duration) *SnapshotHolder {
	if maxAge <= 0 {
		maxAge = DefaultSnapshotMaxAge
	}
	return &SnapshotHolder{source: source, maxAge: maxAge, now: time.Now}
}

// Current returns a usable snapshot, refreshing first when the cached one
// is missing or older than maxAge. A failed refresh falls back to the
// stale snapshot when one exists, so a flapping relying party degrades to
// stale data rather than an outage; the error surfaces only when there is
// nothing to serve at all.
func (h *SnapshotHolder) Current(ctx context.Context) (*Snapshot, error) {
	if snap := h.current.Load(); snap != nil && h.fresh(snap) {
		return snap, nil
	}

	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()
	if snap := h.current.Load(); snap != nil && h.fresh(snap) {
		return snap, nil
	}

	snap, err := h.source.FetchVRPSnapshot(ctx)
	if err != nil {
		if stale := h.current.Load(); stale != nil {
			logme.DebugFln("relyingparty: refresh failed, serving stale snapshot: %v", err)
			return stale, nil
		}
		return nil, err
	}
	h.current.Store(snap)
	return snap, nil
}

// Invalidate drops the cached snapshot so the next Current call fetches.
func (h *SnapshotHolder) Invalidate() {
	h.current.Store(nil)
}

func (h *SnapshotHolder) fresh(s *Snapshot) bool {
	return h.now().Sub(s.FetchedAt) <= h.maxAge
}

package metacache

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/stratodb/strato/authority"
	"github.com/stratodb/strato/pkg/models/locality"
	"github.com/stratodb/strato/pkg/models/stratoerror"
	"github.com/stratodb/strato/pkg/models/tablet"
	"github.com/stratodb/strato/pkg/models/tserver"
	"github.com/stratodb/strato/pkg/selector"
	"github.com/stratodb/strato/pkg/stratolog"
)

// tabletHandle is the published slot of one tablet record. Readers load
// the record pointer without locking; a refresh stores a whole new
// record, so a concurrent reader sees either the old or the new replica
// list in full, never a mixture.
type tabletHandle struct {
	rec   *atomic.Pointer[tablet.Tablet]
	epoch *atomic.Uint64
	stale *atomic.Bool
}

func newTabletHandle() *tabletHandle {
	return &tabletHandle{
		rec:   atomic.NewPointer[tablet.Tablet](nil),
		epoch: atomic.NewUint64(0),
		stale: atomic.NewBool(false),
	}
}

type rangeEntry struct {
	startKey []byte
	endKey   []byte
	tabletID string
}

// tableIndex maps keys to tablet ids through the table's partition
// ranges. It has its own lock, separate from individual record swaps.
type tableIndex struct {
	mu      sync.RWMutex
	entries []rangeEntry
}

func (ti *tableIndex) lookup(key []byte) (string, bool) {
	ti.mu.RLock()
	defer ti.mu.RUnlock()

	// entries are sorted by start key; find the last range starting at
	// or before key.
	i := sort.Search(len(ti.entries), func(i int) bool {
		return bytes.Compare(ti.entries[i].startKey, key) > 0
	}) - 1
	if i < 0 {
		return "", false
	}
	e := ti.entries[i]
	if len(e.endKey) != 0 && bytes.Compare(key, e.endKey) >= 0 {
		return "", false
	}
	return e.tabletID, true
}

func (ti *tableIndex) replace(entries []rangeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].startKey, entries[j].startKey) < 0
	})
	ti.mu.Lock()
	ti.entries = entries
	ti.mu.Unlock()
}

// LocationCache is the client-side view of tablet-to-server mappings.
// It owns the server directory, the per-tablet records and the
// per-table key-range indexes, and routes requests through the replica
// selector, refreshing through the lookup coordinator on miss or
// staleness.
type LocationCache struct {
	freshnessBound time.Duration
	evictionGrace  time.Duration

	coord *Coordinator

	mu      sync.RWMutex
	tablets map[string]*tabletHandle
	tables  map[string]*tableIndex

	dirMu     sync.RWMutex
	directory map[string]*tserver.TServer
}

type CacheOption func(*LocationCache)

func WithFreshnessBound(d time.Duration) CacheOption {
	return func(c *LocationCache) { c.freshnessBound = d }
}

func WithEvictionGrace(d time.Duration) CacheOption {
	return func(c *LocationCache) { c.evictionGrace = d }
}

func WithLookupBackoff(base time.Duration, maxRetries uint64) CacheOption {
	return func(c *LocationCache) {
		c.coord.backoffBase = base
		c.coord.maxRetries = maxRetries
	}
}

const (
	defaultFreshnessBound = 5 * time.Minute
	defaultEvictionGrace  = 15 * time.Minute
)

func NewLocationCache(auth authority.Authority, opts ...CacheOption) *LocationCache {
	c := &LocationCache{
		freshnessBound: defaultFreshnessBound,
		evictionGrace:  defaultEvictionGrace,
		tablets:        map[string]*tabletHandle{},
		tables:         map[string]*tableIndex{},
		directory:      map[string]*tserver.TServer{},
	}
	c.coord = newCoordinator(auth, c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RouteRequest addresses a tablet either directly by id or by the key
// of the row the data path is about to touch.
type RouteRequest struct {
	TableID  string
	Key      []byte
	TabletID string

	Locality locality.ClientLocality
	Policy   selector.Policy
	Excluded map[string]struct{}

	// Cursor carries the rotation state of the AnyAvailable policy.
	Cursor *selector.RotationCursor
}

// RouteTarget is a ready-to-dial destination for an outbound call.
type RouteTarget struct {
	TabletID string
	Epoch    uint64

	ServerID string
	Addr     string

	Fallbacks []tablet.ResolvedReplica
}

// Route resolves the request to a tablet record and picks a replica.
// A miss or a stale record drives the lookup coordinator internally
// before routing; the caller never sees a separate refresh round trip.
func (c *LocationCache) Route(ctx context.Context, req RouteRequest) (*RouteTarget, error) {
	rec, err := c.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	sel, err := selector.Select(c.resolveReplicas(rec), req.Locality, req.Policy, req.Excluded, req.Cursor)
	if err != nil {
		return nil, err
	}

	target := &RouteTarget{
		TabletID:  rec.ID,
		Epoch:     rec.Epoch,
		ServerID:  sel.Target.ServerID,
		Fallbacks: sel.Fallbacks,
	}
	if sel.Target.Server != nil {
		target.Addr = sel.Target.Server.Addr()
	}
	return target, nil
}

// resolve finds a sufficiently fresh record for the request, refreshing
// through the coordinator when needed. A stale record is still returned
// when the refresh itself fails transiently: routing on old placement
// beats failing the data path outright.
func (c *LocationCache) resolve(ctx context.Context, req RouteRequest) (*tablet.Tablet, error) {
	if rec := c.lookupRecord(req); rec != nil && c.isFresh(rec) {
		return rec, nil
	}

	refreshErr := c.coord.ensureFresh(ctx, req)

	rec := c.lookupRecord(req)
	if rec == nil {
		if refreshErr != nil {
			return nil, refreshErr
		}
		if req.TabletID != "" {
			return nil, stratoerror.Newf(stratoerror.STRT_TABLET_NOT_FOUND, "tablet \"%s\"", req.TabletID)
		}
		return nil, stratoerror.Newf(stratoerror.STRT_TABLET_NOT_FOUND,
			"no tablet covers key %q of table \"%s\"", req.Key, req.TableID)
	}
	if refreshErr != nil {
		if stratoerror.ErrorCode(refreshErr) == stratoerror.STRT_TABLE_NOT_FOUND {
			return nil, refreshErr
		}
		stratolog.Zero.Warn().
			Err(refreshErr).
			Str("tablet", rec.ID).
			Uint64("epoch", rec.Epoch).
			Msg("metacache: refresh failed, routing on stale record")
	}
	return rec, nil
}

func (c *LocationCache) lookupRecord(req RouteRequest) *tablet.Tablet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if req.TabletID != "" {
		if h, ok := c.tablets[req.TabletID]; ok {
			return h.rec.Load()
		}
		return nil
	}
	ti, ok := c.tables[req.TableID]
	if !ok {
		return nil
	}
	id, ok := ti.lookup(req.Key)
	if !ok {
		return nil
	}
	if h, ok := c.tablets[id]; ok {
		return h.rec.Load()
	}
	return nil
}

func (c *LocationCache) isFresh(rec *tablet.Tablet) bool {
	c.mu.RLock()
	h, ok := c.tablets[rec.ID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	if h.stale.Load() {
		return false
	}
	return time.Since(rec.RefreshedAt) < c.freshnessBound
}

// resolveReplicas pairs a record's replicas with copies of their
// directory entries, taken under the directory lock so a concurrent
// in-place update is never observed half-applied. An identity missing
// from the directory resolves to nil and is ranked at no-match affinity
// rather than rejected.
func (c *LocationCache) resolveReplicas(rec *tablet.Tablet) []tablet.ResolvedReplica {
	c.dirMu.RLock()
	defer c.dirMu.RUnlock()

	ret := make([]tablet.ResolvedReplica, 0, len(rec.Replicas))
	for _, r := range rec.Replicas {
		var srv *tserver.TServer
		if ts, ok := c.directory[r.ServerID]; ok {
			cp := *ts
			srv = &cp
		}
		ret = append(ret, tablet.ResolvedReplica{
			Replica: r,
			Server:  srv,
		})
	}
	return ret
}

// RefreshTable installs an authoritative placement of a whole table:
// every tablet record is rebuilt and swapped in, and the key-range
// index is replaced. The payload must cover the keyspace exactly.
func (c *LocationCache) RefreshTable(tableID string, locs []*authority.TabletLocations) error {
	parts := make([]tablet.Partition, 0, len(locs))
	for _, loc := range locs {
		parts = append(parts, tablet.Partition{StartKey: loc.Partition.StartKey, EndKey: loc.Partition.EndKey})
	}
	if err := tablet.VerifyCoverage(parts); err != nil {
		return err
	}

	entries := make([]rangeEntry, 0, len(locs))
	for _, loc := range locs {
		rec := c.RefreshTablet(loc)
		entries = append(entries, rangeEntry{
			startKey: rec.Partition.StartKey,
			endKey:   rec.Partition.EndKey,
			tabletID: rec.ID,
		})
	}

	c.mu.Lock()
	ti, ok := c.tables[tableID]
	if !ok {
		ti = &tableIndex{}
		c.tables[tableID] = ti
	}
	c.mu.Unlock()
	ti.replace(entries)

	pruned := c.pruneVanished(tableID, locs)

	stratolog.Zero.Debug().
		Str("table", tableID).
		Int("tablets", len(locs)).
		Int("pruned", pruned).
		Msg("metacache: refreshed table locations")
	return nil
}

// pruneVanished drops records of the table's tablets that are absent
// from the new authoritative placement, e.g. after a re-split. Routing
// by such an id must report not-found instead of serving the obsolete
// replica set indefinitely.
func (c *LocationCache) pruneVanished(tableID string, locs []*authority.TabletLocations) int {
	kept := make(map[string]struct{}, len(locs))
	for _, loc := range locs {
		kept[loc.TabletID] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	pruned := 0
	for id, h := range c.tablets {
		rec := h.rec.Load()
		if rec == nil || rec.TableID != tableID {
			continue
		}
		if _, ok := kept[id]; !ok {
			delete(c.tablets, id)
			pruned++
		}
	}
	return pruned
}

// RefreshTablet builds a brand-new record for one tablet from an
// authority payload and atomically swaps it in. Directory entries are
// created for unseen identities and updated in place for known ones.
func (c *LocationCache) RefreshTablet(loc *authority.TabletLocations) *tablet.Tablet {
	c.updateDirectory(loc.Replicas)

	replicas := make([]tablet.Replica, 0, len(loc.Replicas))
	for _, r := range loc.Replicas {
		role := tablet.RoleFollower
		if r.Role == authority.RoleLeader {
			role = tablet.RoleLeader
		}
		replicas = append(replicas, tablet.Replica{ServerID: r.ID, Role: role})
	}

	c.mu.Lock()
	h, ok := c.tablets[loc.TabletID]
	if !ok {
		h = newTabletHandle()
		c.tablets[loc.TabletID] = h
	}
	c.mu.Unlock()

	rec := &tablet.Tablet{
		ID:      loc.TabletID,
		TableID: loc.TableID,
		Partition: tablet.Partition{
			StartKey: loc.Partition.StartKey,
			EndKey:   loc.Partition.EndKey,
		},
		Replicas:    replicas,
		Epoch:       h.epoch.Inc(),
		RefreshedAt: time.Now(),
	}
	h.rec.Store(rec)
	h.stale.Store(false)
	return rec
}

func (c *LocationCache) updateDirectory(replicas []authority.ReplicaLocation) {
	c.dirMu.Lock()
	defer c.dirMu.Unlock()

	now := time.Now()
	for _, r := range replicas {
		loc := locality.Locality{Cloud: r.Cloud, Region: r.Region, Zone: r.Zone}
		ts, ok := c.directory[r.ID]
		if !ok {
			ts = tserver.NewTServer(r.ID, []string{r.Addr()}, loc)
			c.directory[r.ID] = ts
		} else {
			ts.Endpoints = []string{r.Addr()}
			ts.Locality = loc
		}
		ts.Health = tserver.HealthAlive
		ts.SeenAt = now
	}
}

// Invalidate expires a record's freshness without deleting it. The next
// Route touching the tablet refreshes first; the old record remains a
// usable fallback if that refresh fails.
func (c *LocationCache) Invalidate(tabletID string) {
	c.mu.RLock()
	h, ok := c.tablets[tabletID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	h.stale.Store(true)

	stratolog.Zero.Debug().
		Str("tablet", tabletID).
		Msg("metacache: invalidated tablet record")
}

// ReportStaleRouting is the data-path signal that a completed RPC hit a
// moved tablet or a non-leader replica.
func (c *LocationCache) ReportStaleRouting(tabletID string) {
	c.Invalidate(tabletID)
}

// MarkServerHealth records a liveness observation for a directory entry.
func (c *LocationCache) MarkServerHealth(serverID string, health tserver.Health) {
	c.dirMu.Lock()
	defer c.dirMu.Unlock()
	if ts, ok := c.directory[serverID]; ok {
		ts.Health = health
		ts.SeenAt = time.Now()
	}
}

// EvictStale drops directory entries that no current record references
// and that have not been mentioned by a refresh within the eviction
// grace period. Returns the number of evicted entries.
func (c *LocationCache) EvictStale() int {
	referenced := map[string]struct{}{}
	c.mu.RLock()
	for _, h := range c.tablets {
		rec := h.rec.Load()
		if rec == nil {
			continue
		}
		for _, r := range rec.Replicas {
			referenced[r.ServerID] = struct{}{}
		}
	}
	c.mu.RUnlock()

	cutoff := time.Now().Add(-c.evictionGrace)

	c.dirMu.Lock()
	defer c.dirMu.Unlock()
	evicted := 0
	for id, ts := range c.directory {
		if _, ok := referenced[id]; ok {
			continue
		}
		if ts.SeenAt.After(cutoff) {
			continue
		}
		delete(c.directory, id)
		evicted++
	}
	if evicted > 0 {
		stratolog.Zero.Info().
			Int("evicted", evicted).
			Msg("metacache: evicted unreferenced directory entries")
	}
	return evicted
}

// Snapshot returns the current records of every cached tablet, for
// introspection surfaces.
func (c *LocationCache) Snapshot() []*tablet.Tablet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ret := make([]*tablet.Tablet, 0, len(c.tablets))
	for _, h := range c.tablets {
		if rec := h.rec.Load(); rec != nil {
			ret = append(ret, rec)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

// Directory returns a copy of the server directory.
func (c *LocationCache) Directory() []*tserver.TServer {
	c.dirMu.RLock()
	defer c.dirMu.RUnlock()

	ret := make([]*tserver.TServer, 0, len(c.directory))
	for _, ts := range c.directory {
		cp := *ts
		ret = append(ret, &cp)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

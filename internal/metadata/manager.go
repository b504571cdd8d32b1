package metadata

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dbcontext-go/dbcontext/internal/database"
	"github.com/dbcontext-go/dbcontext/internal/errs"
	"github.com/dbcontext-go/dbcontext/internal/logger"
)

// batchConcurrency bounds the fan-out of one batch request so a single
// caller asking for hundreds of uncached tables cannot monopolise the
// connection pool.
const batchConcurrency = 8

// generation bundles one consistent view of the cache. Every operation
// loads the pointer once and works against that view end to end, so a
// rebuild mid-operation never produces half-old, half-new results.
//
// The fetch coordinator lives inside the generation: callers arriving
// after a rebuild never attach to a fetch that populates the previous
// generation.
type generation struct {
	index   *TableIndex
	details *DetailCache
	rels    *RelationshipIndex
	stats   *StatsRecorder
	fetches *Coordinator[*TableDetail]
}

func newGeneration(gen uint64) *generation {
	return &generation{
		index:   NewTableIndex(gen),
		details: NewDetailCache(),
		rels:    NewRelationshipIndex(),
		stats:   &StatsRecorder{},
		fetches: NewCoordinator[*TableDetail](),
	}
}

// Options configures a Manager.
type Options struct {
	Executor database.Executor
	Store    SnapshotStore // nil disables persistence
	Logger   *logger.Logger

	Policy       TTLPolicy
	SaveInterval time.Duration // min interval between opportunistic saves
	LoadSnapshot bool          // attempt snapshot load before cold build

	// Now overrides the clock; tests only.
	Now func() time.Time
}

// Manager is the schema cache facade. Construct one instance per process
// and pass it by reference into every handler; there are no package-level
// globals.
type Manager struct {
	exec   database.Executor
	store  SnapshotStore
	log    *logger.Logger
	policy TTLPolicy
	now    func() time.Time

	state    atomic.Pointer[generation]
	genSeq   atomic.Uint64
	rebuilds *Coordinator[CacheStats]

	saveInterval time.Duration
	saveMu       sync.Mutex
	lastSave     atomic.Int64 // unix nanos of the last completed save
}

// TableResult is one entry of a batch response: either a detail or the
// per-name error (NotFound never aborts the batch).
type TableResult struct {
	Detail *TableDetail
	Err    error
}

// RelatedTables holds both directions of the foreign-key graph around
// one table.
type RelatedTables struct {
	Table        string             `json:"table"`
	References   []RelationshipEdge `json:"references"`    // fan-out
	ReferencedBy []RelationshipEdge `json:"referenced_by"` // fan-in
}

// NewManager builds the cache: it loads a persisted snapshot when allowed
// and usable, and otherwise performs a cold build of the table index.
// Startup fails only when there is no usable snapshot and the initial
// table listing itself fails — then there is nothing to serve.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Executor == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "metadata: Options.Executor is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.New(nil)
	}
	if opts.Policy == (TTLPolicy{}) {
		opts.Policy = DefaultTTLPolicy()
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		exec:         opts.Executor,
		store:        opts.Store,
		log:          opts.Logger,
		policy:       opts.Policy,
		now:          opts.Now,
		rebuilds:     NewCoordinator[CacheStats](),
		saveInterval: opts.SaveInterval,
	}

	if opts.LoadSnapshot && m.store != nil {
		if snap, err := m.store.Load(ctx); err == nil {
			m.restore(snap)
			m.log.Infof("schema cache restored from snapshot: generation %d, %d tables, %d resolved",
				snap.Generation, len(snap.Tables), len(snap.Details))
			return m, nil
		} else if !errs.IsNotFound(err) {
			m.log.Warnf("snapshot unusable, falling back to cold build: %v", err)
		}
	}

	if _, err := m.coldBuild(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// restore installs a generation rebuilt from a snapshot. Stale entries
// are kept: expiry is evaluated lazily on access, so they simply miss.
func (m *Manager) restore(snap *Snapshot) {
	g := newGeneration(snap.Generation)
	for _, meta := range snap.Tables {
		g.index.Add(meta)
	}
	for _, d := range snap.Details {
		g.details.Put(d)
	}
	for _, e := range snap.Edges {
		g.rels.Insert(e)
	}
	m.genSeq.Store(snap.Generation)
	m.state.Store(g)
}

// coldBuild lists all tables and installs a fresh generation. The
// previous generation, if any, stays live until the swap.
func (m *Manager) coldBuild(ctx context.Context) (*generation, error) {
	tables, err := m.exec.ListTables(ctx)
	if err != nil {
		// Executor errors carry their own kind; add context only.
		m.log.Errorf("cold build: table listing failed: %v", err)
		return nil, err
	}

	g := newGeneration(m.genSeq.Add(1))
	for _, t := range tables {
		g.index.Add(TableMeta{Name: t.Name, Owner: t.Owner, Type: t.Type})
	}
	m.state.Store(g)
	m.log.Infof("schema index built: generation %d, %d tables", g.index.Generation(), g.index.Len())

	m.saveAsync(g)
	return g, nil
}

// GetTable returns the detail for one table, resolving it through the
// coordinator on miss or expiry. Pure cache hits never block.
func (m *Manager) GetTable(ctx context.Context, name string) (*TableDetail, error) {
	norm := Normalize(name)
	if norm == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "table name must not be empty")
	}

	g := m.state.Load()
	d, state := g.details.Get(norm, m.policy, m.now())
	switch state {
	case EntryFresh:
		g.stats.Hit()
		return d, nil
	case EntryExpired:
		g.stats.Eviction()
		g.stats.Miss()
	case EntryMissing:
		g.stats.Miss()
	}

	return m.resolve(ctx, g, norm)
}

// resolve fetches detail for norm through the generation's coordinator.
// Unknown names still get one gated attempt: a table created after the
// index was built is discovered here and appended (the index only grows
// within a generation).
func (m *Manager) resolve(ctx context.Context, g *generation, norm string) (*TableDetail, error) {
	return g.fetches.Do(ctx, norm, func(fctx context.Context) (*TableDetail, error) {
		native := norm
		if meta, ok := g.index.Meta(norm); ok {
			native = meta.Name
		}

		raw, err := m.exec.DescribeTable(fctx, native)
		if err != nil {
			if errs.IsNotFound(err) {
				return nil, errs.Newf(errs.ErrKindNotFound, "table %s not found", norm)
			}
			return nil, errs.FetchFailed(norm, err)
		}

		d := detailFromRaw(raw, m.now())
		if !g.index.Has(norm) {
			g.index.Add(TableMeta{Name: raw.Name})
		}
		g.details.Put(d)
		g.rels.AddDetail(d)
		m.saveAsync(g)
		return d, nil
	})
}

// GetTables resolves a batch of names concurrently. Duplicate names are
// deduplicated before fanning out, and per-name misses for the same table
// collapse into one fetch through the shared coordinator, so a batch
// never issues duplicate backend calls. Per-name failures (NotFound
// included) are reported in the result map and never abort the batch.
func (m *Manager) GetTables(ctx context.Context, names []string) map[string]TableResult {
	unique := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		norm := Normalize(name)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		unique = append(unique, norm)
	}

	results := make(map[string]TableResult, len(unique))
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(batchConcurrency)
	for _, name := range unique {
		eg.Go(func() error {
			d, err := m.GetTable(egCtx, name)
			mu.Lock()
			results[name] = TableResult{Detail: d, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait() // workers never return errors; failures are per-name

	return results
}

// SearchTables matches pattern against the table index and resolves each
// match through the normal cache path, so search benefits from existing
// hits. Results follow the index's alphabetical order. Tables that
// vanished between indexing and resolution are skipped.
func (m *Manager) SearchTables(ctx context.Context, pattern string, limit int) ([]*TableDetail, error) {
	if Normalize(pattern) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "search pattern must not be empty")
	}

	g := m.state.Load()
	matches := g.index.Search(pattern, limit)

	details := make([]*TableDetail, 0, len(matches))
	for _, name := range matches {
		d, err := m.GetTable(ctx, name)
		if err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		details = append(details, d)
	}
	return details, nil
}

// SearchColumns matches pattern against the columns of every currently
// resolved table. Uncached tables are not consulted: results are
// deterministic and never trigger backend fetches.
func (m *Manager) SearchColumns(ctx context.Context, pattern string, limit int) (map[string][]ColumnSpec, error) {
	norm := Normalize(pattern)
	if norm == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "search pattern must not be empty")
	}
	match := func(col string) bool { return strings.Contains(strings.ToUpper(col), norm) }

	g := m.state.Load()
	details := g.details.All()
	sort.Slice(details, func(i, j int) bool { return details[i].Name < details[j].Name })

	out := make(map[string][]ColumnSpec)
	for _, d := range details {
		if limit > 0 && len(out) >= limit {
			break
		}
		var cols []ColumnSpec
		for _, c := range d.Columns {
			if match(c.Name) {
				cols = append(cols, c)
			}
		}
		if len(cols) > 0 {
			out[d.Name] = cols
		}
	}
	return out, nil
}

// Related resolves table (populating its edges) and returns both
// directions of its foreign-key graph.
func (m *Manager) Related(ctx context.Context, table string) (*RelatedTables, error) {
	d, err := m.GetTable(ctx, table)
	if err != nil {
		return nil, err
	}

	g := m.state.Load()
	return &RelatedTables{
		Table:        d.Name,
		References:   g.rels.References(d.Name),
		ReferencedBy: g.rels.ReferencedBy(d.Name),
	}, nil
}

// Rebuild advances to a new generation: a cold table listing replaces the
// index, and all detail, relationship, and counter state is dropped.
// Concurrent rebuild calls attach to the same in-flight build. If the
// cold build fails, the previous generation stays live and the failure is
// reported to every rebuild caller.
func (m *Manager) Rebuild(ctx context.Context) (CacheStats, error) {
	return m.rebuilds.Do(ctx, "rebuild", func(fctx context.Context) (CacheStats, error) {
		g, err := m.coldBuild(fctx)
		if err != nil {
			return CacheStats{}, err
		}
		// The new generation must reach the durable snapshot immediately;
		// the save throttle applies only to opportunistic saves.
		if m.store != nil {
			if err := m.save(fctx, g); err != nil {
				m.log.Warnf("snapshot save after rebuild failed: %v", err)
			}
		}
		return m.statsOf(g), nil
	})
}

// Stats returns a point-in-time counter snapshot for the current
// generation.
func (m *Manager) Stats() CacheStats {
	return m.statsOf(m.state.Load())
}

func (m *Manager) statsOf(g *generation) CacheStats {
	return g.stats.Snapshot(
		g.details.FreshCount(m.policy, m.now()),
		g.index.Len(),
		g.index.Generation(),
	)
}

// VendorInfo is a pure passthrough to the executor; never cached.
func (m *Manager) VendorInfo(ctx context.Context) (*database.VendorInfo, error) {
	return m.exec.VendorInfo(ctx)
}

// Ping proxies a liveness check to the executor.
func (m *Manager) Ping(ctx context.Context) error {
	return m.exec.Ping(ctx)
}

// Close forces a final snapshot save.
func (m *Manager) Close(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	return m.save(ctx, m.state.Load())
}

// saveAsync persists the generation in the background when enough time
// has passed since the last save. The original system rewrote its cache
// file after every single lazy load; at tens of thousands of tables that
// turns warm-up into an I/O storm, so saves are throttled here.
func (m *Manager) saveAsync(g *generation) {
	if m.store == nil || m.state.Load() != g {
		return
	}
	last := m.lastSave.Load()
	if time.Duration(m.now().UnixNano()-last) < m.saveInterval {
		return
	}
	go func() {
		if err := m.save(context.Background(), g); err != nil {
			m.log.Warnf("snapshot save failed: %v", err)
		}
	}()
}

// save serializes the generation and hands it to the store. One writer
// at a time; a generation superseded while waiting for the writer lock
// is skipped, so a late save never overwrites a newer snapshot with
// old-generation data.
func (m *Manager) save(ctx context.Context, g *generation) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if m.state.Load() != g {
		return nil
	}

	snap := &Snapshot{
		Generation:  g.index.Generation(),
		GeneratedAt: m.now(),
		Tables:      g.index.All(),
		Details:     g.details.All(),
		Edges:       g.rels.Edges(),
	}
	if err := m.store.Save(ctx, snap); err != nil {
		return err
	}
	m.lastSave.Store(m.now().UnixNano())
	return nil
}

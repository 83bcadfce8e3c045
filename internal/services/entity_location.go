package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxhome/voxhome-backend/internal/domain"
	"github.com/voxhome/voxhome-backend/internal/match"
	"github.com/voxhome/voxhome-backend/internal/observability"
	"github.com/voxhome/voxhome-backend/internal/platform/logger"
)

// DirectoryProvider is the external registry source (the home hub).
type DirectoryProvider interface {
	ListFloors(ctx context.Context) ([]domain.FloorInfo, error)
	ListAreas(ctx context.Context) ([]domain.AreaInfo, error)
	ListEntities(ctx context.Context) ([]domain.EntityLocationInfo, error)
	AreaMemberships(ctx context.Context) (map[string][]string, error)
}

// LocationCache is the distributed snapshot cache shared by all
// instances. Implementations report failures as misses, never as fatal
// errors on the read path.
type LocationCache interface {
	Save(ctx context.Context, data domain.LocationData) error
	Load(ctx context.Context) (*domain.LocationData, bool)
	Clear(ctx context.Context) error
	Version(ctx context.Context) (int64, error)
	BumpVersion(ctx context.Context) (int64, error)
}

// Embedder narrows the embedding client to the single-text call the
// location engine needs. May be nil: the embedding search tier and the
// optimizer then degrade to string-only behavior.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// EntityLocationService owns the current location snapshot and resolves
// spoken location names to entities through the cascade search.
type EntityLocationService interface {
	Initialize(ctx context.Context) error
	InvalidateAndReload(ctx context.Context) error
	Floors(ctx context.Context) []domain.FloorInfo
	Areas(ctx context.Context) []domain.AreaInfo
	Entities(ctx context.Context) []domain.EntityLocationInfo
	FindEntitiesByLocation(ctx context.Context, name string, domains []string) ([]domain.EntityLocationInfo, error)
	AreaForEntity(ctx context.Context, entityID string) *domain.AreaInfo
	FloorForArea(ctx context.Context, areaID string) *domain.FloorInfo
	LastLoadedAt() time.Time
	Matchables(ctx context.Context) []domain.MatchableEntity
}

type EntityLocationConfig struct {
	// EmbedMatchThreshold is the tier-6 cosine cutoff. Domain-tuned,
	// deliberately configuration rather than a constant.
	EmbedMatchThreshold float64
	// FreshnessInterval throttles the remote-version check on read
	// paths. Zero checks on every read (useful in tests).
	FreshnessInterval time.Duration
}

func DefaultEntityLocationConfig() EntityLocationConfig {
	return EntityLocationConfig{
		EmbedMatchThreshold: 0.90,
		FreshnessInterval:   30 * time.Second,
	}
}

type entityLocationService struct {
	log     *logger.Logger
	dir     DirectoryProvider
	cache   LocationCache
	embed   Embedder
	metrics *observability.Metrics
	cfg     EntityLocationConfig

	snapshot   atomic.Pointer[domain.LocationSnapshot]
	matchables atomic.Pointer[[]domain.MatchableEntity]

	// loadMu serializes the directory load; loadGen implements the
	// try-then-wait semantics (a caller that blocked behind an in-flight
	// load returns without issuing a duplicate fetch).
	loadMu  sync.Mutex
	loadGen atomic.Int64

	localVersion  atomic.Int64
	lastFreshness atomic.Int64 // unix nanos of the last version check
}

func NewEntityLocationService(
	log *logger.Logger,
	dir DirectoryProvider,
	cache LocationCache,
	embed Embedder,
	metrics *observability.Metrics,
	cfg EntityLocationConfig,
) EntityLocationService {
	s := &entityLocationService{
		log:     log.With("service", "EntityLocationService"),
		dir:     dir,
		cache:   cache,
		embed:   embed,
		metrics: metrics,
		cfg:     cfg,
	}
	s.snapshot.Store(domain.EmptySnapshot)
	empty := make([]domain.MatchableEntity, 0)
	s.matchables.Store(&empty)
	return s
}

// Initialize hydrates the snapshot from the distributed cache and falls
// back to a full directory load when the cache has nothing usable.
func (s *entityLocationService) Initialize(ctx context.Context) error {
	if s.cache != nil {
		if data, ok := s.cache.Load(ctx); ok {
			s.metrics.ObserveCacheHit()
			s.publish(data)
			if v, err := s.cache.Version(ctx); err == nil {
				s.localVersion.Store(v)
			}
			s.log.Info("snapshot hydrated from cache",
				"floors", len(data.Floors),
				"areas", len(data.Areas),
				"entities", len(data.Entities),
			)
			return nil
		}
		s.metrics.ObserveCacheMiss()
	}
	return s.loadFromDirectory(ctx)
}

// InvalidateAndReload clears the distributed cache, reloads from the
// directory, and bumps the remote version counter so peers converge.
func (s *entityLocationService) InvalidateAndReload(ctx context.Context) error {
	if s.cache != nil {
		if err := s.cache.Clear(ctx); err != nil {
			s.log.Warn("cache clear failed, reloading anyway", "error", err)
		}
	}
	if err := s.loadFromDirectory(ctx); err != nil {
		return err
	}
	if s.cache != nil {
		v, err := s.cache.BumpVersion(ctx)
		if err != nil {
			s.log.Warn("version bump failed, peers will stay stale until TTL", "error", err)
			return nil
		}
		s.localVersion.Store(v)
	}
	return nil
}

// loadFromDirectory is the single-flight full load. A second caller
// blocks on loadMu; when it wakes and sees the generation moved, the
// first caller's snapshot is already published and it returns without a
// duplicate fetch.
func (s *entityLocationService) loadFromDirectory(ctx context.Context) error {
	gen := s.loadGen.Load()
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.loadGen.Load() != gen {
		return nil
	}

	data, err := s.fetchDirectory(ctx)
	if err != nil {
		return err
	}
	s.publish(data)
	s.loadGen.Add(1)
	s.metrics.ObserveDirectoryLoad()
	s.log.Info("snapshot loaded from directory",
		"floors", len(data.Floors),
		"areas", len(data.Areas),
		"entities", len(data.Entities),
		"embeddings", len(data.Embeddings),
	)

	if s.cache != nil {
		if err := s.cache.Save(ctx, *data); err != nil {
			s.log.Warn("cache persist failed, continuing with local snapshot", "error", err)
		}
	}
	return nil
}

func (s *entityLocationService) fetchDirectory(ctx context.Context) (*domain.LocationData, error) {
	var (
		floors      []domain.FloorInfo
		areas       []domain.AreaInfo
		entities    []domain.EntityLocationInfo
		memberships map[string][]string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		floors, err = s.dir.ListFloors(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		areas, err = s.dir.ListAreas(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		entities, err = s.dir.ListEntities(gctx)
		return err
	})
	g.Go(func() error {
		m, err := s.dir.AreaMemberships(gctx)
		if err != nil {
			// Degrade to the raw per-entity area assignments.
			s.log.Warn("area memberships unavailable, using raw entity assignments", "error", err)
			return nil
		}
		memberships = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("directory fetch: %w", err)
	}

	floors, areas, entities = reconcile(floors, areas, entities, memberships)
	embeddings := s.generateEmbeddings(ctx, floors, areas)

	return &domain.LocationData{
		Floors:     floors,
		Areas:      areas,
		Entities:   entities,
		Embeddings: embeddings,
		LoadedAt:   time.Now().UTC(),
	}, nil
}

// reconcile applies the authoritative membership mapping (it wins over a
// raw entity area assignment, since devices inherit placement from parent
// devices) and clears dangling references so a snapshot never points at
// an area or floor it does not contain.
func reconcile(
	floors []domain.FloorInfo,
	areas []domain.AreaInfo,
	entities []domain.EntityLocationInfo,
	memberships map[string][]string,
) ([]domain.FloorInfo, []domain.AreaInfo, []domain.EntityLocationInfo) {
	floorIDs := make(map[string]struct{}, len(floors))
	for _, f := range floors {
		floorIDs[strings.ToLower(f.FloorID)] = struct{}{}
	}
	areaIDs := make(map[string]struct{}, len(areas))
	for _, a := range areas {
		areaIDs[strings.ToLower(a.AreaID)] = struct{}{}
	}

	members := make(map[string][]string, len(memberships))
	entityArea := make(map[string]string)
	for areaID, entityIDs := range memberships {
		key := strings.ToLower(areaID)
		if _, ok := areaIDs[key]; !ok {
			continue
		}
		members[key] = entityIDs
		for _, eid := range entityIDs {
			entityArea[strings.ToLower(eid)] = areaID
		}
	}

	for i := range areas {
		if areas[i].FloorID != "" {
			if _, ok := floorIDs[strings.ToLower(areas[i].FloorID)]; !ok {
				areas[i].FloorID = ""
			}
		}
		if ids, ok := members[strings.ToLower(areas[i].AreaID)]; ok {
			areas[i].EntityIDs = ids
		}
	}

	for i := range entities {
		if aid, ok := entityArea[strings.ToLower(entities[i].EntityID)]; ok {
			entities[i].AreaID = aid
			continue
		}
		if entities[i].AreaID != "" {
			if _, ok := areaIDs[strings.ToLower(entities[i].AreaID)]; !ok {
				entities[i].AreaID = ""
			}
		}
	}
	return floors, areas, entities
}

// generateEmbeddings builds the name→vector map for every unique floor
// and area display name and alias. A failed generation skips that name
// with a warning; it never fails the load.
func (s *entityLocationService) generateEmbeddings(
	ctx context.Context,
	floors []domain.FloorInfo,
	areas []domain.AreaInfo,
) map[string][]float32 {
	embeddings := map[string][]float32{}
	if s.embed == nil {
		return embeddings
	}

	seen := map[string]struct{}{}
	var names []string
	add := func(name string) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		names = append(names, key)
	}
	for _, f := range floors {
		add(f.Name)
		for _, al := range f.Aliases {
			add(al)
		}
	}
	for _, a := range areas {
		add(a.Name)
		for _, al := range a.Aliases {
			add(al)
		}
	}

	for _, name := range names {
		if ctx.Err() != nil {
			return embeddings
		}
		vec, err := s.embed.GenerateEmbedding(ctx, name)
		if err != nil {
			s.log.Warn("embedding generation failed, skipping name",
				"name", name,
				"error", err,
			)
			continue
		}
		embeddings[name] = vec
	}
	return embeddings
}

// publish swaps in a freshly built snapshot with a single atomic store
// and rebuilds the pre-computed matchable wrappers for it.
func (s *entityLocationService) publish(data *domain.LocationData) {
	snap := domain.NewLocationSnapshot(data.Floors, data.Areas, data.Entities, data.Embeddings, data.LoadedAt)
	s.snapshot.Store(snap)
	m := buildMatchables(snap)
	s.matchables.Store(&m)
}

// maybeRefresh is the throttled freshness gate: at most once per
// interval, compare the remote version counter and reload the snapshot
// from the cache when a peer has published a newer one. The local check
// timestamp is claimed optimistically so concurrent readers skip rather
// than pile up on redis.
func (s *entityLocationService) maybeRefresh(ctx context.Context) {
	if s.cache == nil {
		return
	}
	now := time.Now().UnixNano()
	last := s.lastFreshness.Load()
	if now-last < int64(s.cfg.FreshnessInterval) {
		return
	}
	if !s.lastFreshness.CompareAndSwap(last, now) {
		return
	}

	remote, err := s.cache.Version(ctx)
	if err != nil {
		s.log.Debug("freshness check failed", "error", err)
		return
	}
	if remote <= s.localVersion.Load() {
		return
	}

	data, ok := s.cache.Load(ctx)
	if !ok {
		s.metrics.ObserveCacheMiss()
		return
	}
	s.publish(data)
	s.localVersion.Store(remote)
	s.metrics.ObserveCacheReload()
	s.log.Info("snapshot refreshed from peer update", "remote_version", remote)
}

func (s *entityLocationService) current(ctx context.Context) *domain.LocationSnapshot {
	s.maybeRefresh(ctx)
	return s.snapshot.Load()
}

func (s *entityLocationService) Floors(ctx context.Context) []domain.FloorInfo {
	return s.current(ctx).Floors
}

func (s *entityLocationService) Areas(ctx context.Context) []domain.AreaInfo {
	return s.current(ctx).Areas
}

func (s *entityLocationService) Entities(ctx context.Context) []domain.EntityLocationInfo {
	return s.current(ctx).Entities
}

func (s *entityLocationService) LastLoadedAt() time.Time {
	return s.snapshot.Load().LoadedAt
}

// Matchables returns the pre-computed matchable wrappers for the current
// snapshot's entities (phonetic keys built once at publish time).
func (s *entityLocationService) Matchables(ctx context.Context) []domain.MatchableEntity {
	s.maybeRefresh(ctx)
	return *s.matchables.Load()
}

func (s *entityLocationService) AreaForEntity(ctx context.Context, entityID string) *domain.AreaInfo {
	snap := s.current(ctx)
	e, ok := snap.Entity(entityID)
	if !ok || e.AreaID == "" {
		return nil
	}
	a, ok := snap.Area(e.AreaID)
	if !ok {
		return nil
	}
	return &a
}

func (s *entityLocationService) FloorForArea(ctx context.Context, areaID string) *domain.FloorInfo {
	snap := s.current(ctx)
	a, ok := snap.Area(areaID)
	if !ok || a.FloorID == "" {
		return nil
	}
	f, ok := snap.Floor(a.FloorID)
	if !ok {
		return nil
	}
	return &f
}

// FindEntitiesByLocation resolves a spoken location name through the
// six-tier cascade, all tiers reading one captured snapshot. An empty
// result means no tier matched; it is not an error.
func (s *entityLocationService) FindEntitiesByLocation(ctx context.Context, name string, domains []string) ([]domain.EntityLocationInfo, error) {
	snap := s.current(ctx)
	query := strings.TrimSpace(name)
	if query == "" {
		return nil, nil
	}

	areaIDs, tier, err := s.cascade(ctx, snap, query)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveCascadeTier(tier)
	if len(areaIDs) == 0 {
		s.log.Debug("no location matched", "name", query)
		return nil, nil
	}
	s.log.Debug("location matched",
		"name", query,
		"tier", tier,
		"areas", len(areaIDs),
	)

	domainSet := map[string]struct{}{}
	for _, d := range domains {
		domainSet[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}

	var out []domain.EntityLocationInfo
	for _, e := range snap.Entities {
		if e.AreaID == "" {
			continue
		}
		if _, ok := areaIDs[strings.ToLower(e.AreaID)]; !ok {
			continue
		}
		if len(domainSet) > 0 {
			if _, ok := domainSet[strings.ToLower(e.Domain())]; !ok {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// cascade returns the matched area-ID set (lowercased) and the tier that
// produced it. Tier 0 means nothing matched.
func (s *entityLocationService) cascade(ctx context.Context, snap *domain.LocationSnapshot, query string) (map[string]struct{}, int, error) {
	q := strings.ToLower(query)

	// Tier 1: exact area name.
	ids := map[string]struct{}{}
	for _, a := range snap.Areas {
		if strings.ToLower(a.Name) == q {
			ids[strings.ToLower(a.AreaID)] = struct{}{}
		}
	}
	if len(ids) > 0 {
		return ids, 1, nil
	}

	// Tier 2: exact area alias.
	for _, a := range snap.Areas {
		for _, al := range a.Aliases {
			if strings.ToLower(al) == q {
				ids[strings.ToLower(a.AreaID)] = struct{}{}
			}
		}
	}
	if len(ids) > 0 {
		return ids, 2, nil
	}

	// Tier 3: exact floor name, expanded to the floor's areas.
	for _, f := range snap.Floors {
		if strings.ToLower(f.Name) == q {
			addFloorAreas(snap, f.FloorID, ids)
		}
	}
	if len(ids) > 0 {
		return ids, 3, nil
	}

	// Tier 4: exact floor alias.
	for _, f := range snap.Floors {
		for _, al := range f.Aliases {
			if strings.ToLower(al) == q {
				addFloorAreas(snap, f.FloorID, ids)
			}
		}
	}
	if len(ids) > 0 {
		return ids, 4, nil
	}

	// Tier 5: substring on area name/alias, else floor name/alias.
	for _, a := range snap.Areas {
		if containsFold(a.Name, q) || anyContainsFold(a.Aliases, q) {
			ids[strings.ToLower(a.AreaID)] = struct{}{}
		}
	}
	if len(ids) == 0 {
		for _, f := range snap.Floors {
			if containsFold(f.Name, q) || anyContainsFold(f.Aliases, q) {
				addFloorAreas(snap, f.FloorID, ids)
			}
		}
	}
	if len(ids) > 0 {
		return ids, 5, nil
	}

	// Tier 6: embedding similarity against cached floor/area names.
	if s.embed == nil || len(snap.Embeddings) == 0 {
		return nil, 0, nil
	}
	queryVec, err := s.embed.GenerateEmbedding(ctx, q)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, err
		}
		s.log.Warn("query embedding failed, skipping semantic tier", "error", err)
		return nil, 0, nil
	}

	matchesName := func(names ...string) bool {
		for _, name := range names {
			vec, ok := snap.Embedding(name)
			if !ok {
				continue
			}
			if match.CosineSimilarity(queryVec, vec) >= s.cfg.EmbedMatchThreshold {
				return true
			}
		}
		return false
	}
	for _, a := range snap.Areas {
		if matchesName(append([]string{a.Name}, a.Aliases...)...) {
			ids[strings.ToLower(a.AreaID)] = struct{}{}
		}
	}
	for _, f := range snap.Floors {
		if matchesName(append([]string{f.Name}, f.Aliases...)...) {
			addFloorAreas(snap, f.FloorID, ids)
		}
	}
	if len(ids) > 0 {
		return ids, 6, nil
	}
	return nil, 0, nil
}

func addFloorAreas(snap *domain.LocationSnapshot, floorID string, ids map[string]struct{}) {
	fid := strings.ToLower(floorID)
	for _, a := range snap.Areas {
		if strings.ToLower(a.FloorID) == fid {
			ids[strings.ToLower(a.AreaID)] = struct{}{}
		}
	}
}

func containsFold(haystack, needleLower string) bool {
	return strings.Contains(strings.ToLower(haystack), needleLower)
}

func anyContainsFold(haystacks []string, needleLower string) bool {
	for _, h := range haystacks {
		if containsFold(h, needleLower) {
			return true
		}
	}
	return false
}

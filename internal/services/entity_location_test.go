package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/voxhome/voxhome-backend/internal/domain"
	"github.com/voxhome/voxhome-backend/internal/platform/logger"
)

type fakeDirectory struct {
	mu            sync.Mutex
	floors        []domain.FloorInfo
	areas         []domain.AreaInfo
	entities      []domain.EntityLocationInfo
	memberships   map[string][]string
	membershipErr error
	listErr       error
	listCalls     int

	// floorsEntered/floorsGate let a test hold a directory fetch open to
	// overlap it with a second caller.
	floorsEntered chan struct{}
	floorsGate    chan struct{}
}

func (d *fakeDirectory) ListFloors(ctx context.Context) ([]domain.FloorInfo, error) {
	d.mu.Lock()
	d.listCalls++
	floors, err := d.floors, d.listErr
	entered, gate := d.floorsEntered, d.floorsGate
	d.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return floors, nil
}

func (d *fakeDirectory) ListAreas(ctx context.Context) ([]domain.AreaInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	return d.areas, nil
}

func (d *fakeDirectory) ListEntities(ctx context.Context) ([]domain.EntityLocationInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	return d.entities, nil
}

func (d *fakeDirectory) AreaMemberships(ctx context.Context) (map[string][]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.membershipErr != nil {
		return nil, d.membershipErr
	}
	return d.memberships, nil
}

type fakeCache struct {
	mu           sync.Mutex
	data         *domain.LocationData
	version      int64
	saveCalls    int
	versionCalls int
	failLoad     bool
}

func (c *fakeCache) Save(ctx context.Context, data domain.LocationData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveCalls++
	clone := data
	c.data = &clone
	return nil
}

func (c *fakeCache) Load(ctx context.Context) (*domain.LocationData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failLoad || c.data == nil {
		return nil, false
	}
	return c.data, true
}

func (c *fakeCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	return nil
}

func (c *fakeCache) Version(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versionCalls++
	return c.version, nil
}

func (c *fakeCache) BumpVersion(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	return c.version, nil
}

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
	err     error
}

func (e *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 1}, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger init: %v", err)
	}
	return log
}

func testConfig() EntityLocationConfig {
	return EntityLocationConfig{
		EmbedMatchThreshold: 0.90,
		FreshnessInterval:   0, // check freshness on every read in tests
	}
}

func homeDirectory() *fakeDirectory {
	return &fakeDirectory{
		floors: []domain.FloorInfo{
			{FloorID: "ground", Name: "Ground Floor", Aliases: []string{"downstairs"}, Level: 0},
			{FloorID: "upper", Name: "Upstairs", Level: 1},
		},
		areas: []domain.AreaInfo{
			{AreaID: "kitchen", Name: "Kitchen", FloorID: "ground"},
			{AreaID: "office", Name: "Office", FloorID: "upper", Aliases: []string{"study"}},
			{AreaID: "pantry", Name: "Pantry", FloorID: "ground"},
		},
		entities: []domain.EntityLocationInfo{
			{EntityID: "light.kitchen_1", FriendlyName: "Kitchen Lights", AreaID: "kitchen", Platform: "hue"},
			{EntityID: "switch.kettle", FriendlyName: "Kettle", AreaID: "kitchen", Platform: "tasmota"},
			{EntityID: "light.office_1", FriendlyName: "Office Lamp", AreaID: "office", Platform: "hue"},
			{EntityID: "light.pantry_1", FriendlyName: "Pantry Light", AreaID: "pantry", Platform: "hue"},
		},
		memberships: map[string][]string{
			"kitchen": {"light.kitchen_1", "switch.kettle"},
			"office":  {"light.office_1"},
			"pantry":  {"light.pantry_1"},
		},
	}
}

func newTestService(t *testing.T, dir *fakeDirectory, cache LocationCache, embed Embedder) EntityLocationService {
	t.Helper()
	return NewEntityLocationService(testLogger(t), dir, cache, embed, nil, testConfig())
}

func TestInitializeFallsBackToDirectory(t *testing.T) {
	ctx := context.Background()
	dir := homeDirectory()
	cache := &fakeCache{}
	svc := newTestService(t, dir, cache, nil)

	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if dir.listCalls != 1 {
		t.Fatalf("expected one directory load, got %d", dir.listCalls)
	}
	if cache.saveCalls != 1 {
		t.Fatalf("expected snapshot persisted once, got %d saves", cache.saveCalls)
	}
	if got := len(svc.Entities(ctx)); got != 4 {
		t.Fatalf("expected 4 entities, got %d", got)
	}
	if svc.LastLoadedAt().IsZero() {
		t.Fatal("LastLoadedAt should be set after load")
	}
}

func TestInitializeHydratesFromCache(t *testing.T) {
	ctx := context.Background()
	dir := homeDirectory()
	cache := &fakeCache{
		data: &domain.LocationData{
			Areas:    []domain.AreaInfo{{AreaID: "kitchen", Name: "Kitchen"}},
			Entities: []domain.EntityLocationInfo{{EntityID: "light.kitchen_1", FriendlyName: "Kitchen Lights", AreaID: "kitchen"}},
			LoadedAt: time.Now().UTC(),
		},
		version: 7,
	}
	svc := newTestService(t, dir, cache, nil)

	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if dir.listCalls != 0 {
		t.Fatalf("directory should not be hit on cache hit, got %d calls", dir.listCalls)
	}
	if got := len(svc.Entities(ctx)); got != 1 {
		t.Fatalf("expected cached entity set, got %d", got)
	}
}

func TestMembershipWinsOverRawAssignment(t *testing.T) {
	ctx := context.Background()
	dir := homeDirectory()
	// Raw registry claims the kettle lives in the office; the membership
	// mapping (device inheritance) says kitchen and must win.
	dir.entities[1].AreaID = "office"
	svc := newTestService(t, dir, &fakeCache{}, nil)

	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	area := svc.AreaForEntity(ctx, "switch.kettle")
	if area == nil || area.AreaID != "kitchen" {
		t.Fatalf("membership mapping should win, got %+v", area)
	}
}

func TestConcurrentInitializeSharesOneDirectoryLoad(t *testing.T) {
	ctx := context.Background()
	dir := homeDirectory()
	dir.floorsEntered = make(chan struct{}, 2)
	dir.floorsGate = make(chan struct{})
	svc := newTestService(t, dir, &fakeCache{}, nil)

	errs := make(chan error, 2)
	go func() { errs <- svc.Initialize(ctx) }()
	// First caller is now inside the directory fetch and holds the load.
	<-dir.floorsEntered

	go func() { errs <- svc.Initialize(ctx) }()
	// Let the second caller block behind the in-flight load before the
	// fetch is allowed to complete.
	time.Sleep(20 * time.Millisecond)
	close(dir.floorsGate)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("initialize: %v", err)
		}
	}
	dir.mu.Lock()
	calls := dir.listCalls
	dir.mu.Unlock()
	if calls != 1 {
		t.Fatalf("overlapping callers must share one directory load, got %d", calls)
	}
	if got := len(svc.Entities(ctx)); got != 4 {
		t.Fatalf("expected 4 entities after shared load, got %d", got)
	}
}

func TestFreshnessCheckThrottledWithinInterval(t *testing.T) {
	ctx := context.Background()
	cache := &fakeCache{}
	cfg := EntityLocationConfig{EmbedMatchThreshold: 0.90, FreshnessInterval: time.Hour}
	svc := NewEntityLocationService(testLogger(t), homeDirectory(), cache, nil, nil, cfg)
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Entities(ctx)
		}()
	}
	wg.Wait()
	svc.Areas(ctx)
	svc.Floors(ctx)

	cache.mu.Lock()
	calls := cache.versionCalls
	cache.mu.Unlock()
	if calls > 1 {
		t.Fatalf("reads within the interval must share one version check, got %d", calls)
	}
}

func TestMembershipFailureDegradesToRawAssignment(t *testing.T) {
	ctx := context.Background()
	dir := homeDirectory()
	dir.membershipErr = fmt.Errorf("hub timeout")
	svc := newTestService(t, dir, &fakeCache{}, nil)

	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("membership failure must not fail the load: %v", err)
	}
	area := svc.AreaForEntity(ctx, "light.office_1")
	if area == nil || area.AreaID != "office" {
		t.Fatalf("expected raw assignment fallback, got %+v", area)
	}
}

func TestMembershipKeysMatchedCaseInsensitively(t *testing.T) {
	ctx := context.Background()
	dir := homeDirectory()
	// A hub may report membership keys in a different case than the area
	// registry; both the entity assignments and the area entity lists must
	// still line up.
	dir.memberships = map[string][]string{
		"KITCHEN": {"light.kitchen_1", "switch.kettle"},
		"Office":  {"light.office_1"},
		"pantry":  {"light.pantry_1"},
	}
	svc := newTestService(t, dir, &fakeCache{}, nil)

	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	area := svc.AreaForEntity(ctx, "switch.kettle")
	if area == nil || area.AreaID != "kitchen" {
		t.Fatalf("mixed-case membership key should still assign, got %+v", area)
	}
	for _, a := range svc.Areas(ctx) {
		if a.AreaID == "kitchen" && len(a.EntityIDs) != 2 {
			t.Fatalf("area entity list not applied for mixed-case key: %+v", a)
		}
	}
	entities, err := svc.FindEntitiesByLocation(ctx, "kitchen", nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 kitchen entities, got %d", len(entities))
	}
}

func TestDanglingAreaTreatedAsUnassigned(t *testing.T) {
	ctx := context.Background()
	dir := homeDirectory()
	dir.entities = append(dir.entities, domain.EntityLocationInfo{
		EntityID: "light.garage_1", FriendlyName: "Garage Light", AreaID: "garage",
	})
	svc := newTestService(t, dir, &fakeCache{}, nil)

	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if area := svc.AreaForEntity(ctx, "light.garage_1"); area != nil {
		t.Fatalf("dangling area reference should resolve to none, got %+v", area)
	}
}

func TestCascadeExactAreaBeatsFloor(t *testing.T) {
	ctx := context.Background()
	dir := homeDirectory()
	// A floor also named "Kitchen" with its own area must lose to the
	// exact area-name tier.
	dir.floors = append(dir.floors, domain.FloorInfo{FloorID: "kitchen_floor", Name: "Kitchen"})
	dir.areas = append(dir.areas, domain.AreaInfo{AreaID: "scullery", Name: "Scullery", FloorID: "kitchen_floor"})
	dir.entities = append(dir.entities, domain.EntityLocationInfo{
		EntityID: "light.scullery_1", FriendlyName: "Scullery Light", AreaID: "scullery",
	})
	dir.memberships["scullery"] = []string{"light.scullery_1"}
	svc := newTestService(t, dir, &fakeCache{}, nil)

	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	entities, err := svc.FindEntitiesByLocation(ctx, "Kitchen", nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, e := range entities {
		if e.AreaID != "kitchen" {
			t.Fatalf("floor expansion leaked into exact-area match: %+v", e)
		}
	}
	if len(entities) != 2 {
		t.Fatalf("expected the 2 kitchen entities, got %d", len(entities))
	}
}

func TestCascadeFloorExpandsToAreas(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, homeDirectory(), &fakeCache{}, nil)
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	entities, err := svc.FindEntitiesByLocation(ctx, "ground floor", nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	// Kitchen + pantry are on the ground floor.
	if len(entities) != 3 {
		t.Fatalf("expected 3 ground-floor entities, got %d", len(entities))
	}

	entities, err = svc.FindEntitiesByLocation(ctx, "downstairs", nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entities) != 3 {
		t.Fatalf("floor alias should expand the same way, got %d", len(entities))
	}
}

func TestCascadeSubstringTier(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, homeDirectory(), &fakeCache{}, nil)
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	entities, err := svc.FindEntitiesByLocation(ctx, "kitch", nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("substring tier should find the kitchen, got %d entities", len(entities))
	}
}

func TestCascadeTypoNoEmbedderReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, homeDirectory(), &fakeCache{}, nil)
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	entities, err := svc.FindEntitiesByLocation(ctx, "kichen", nil)
	if err != nil {
		t.Fatalf("no match must not be an error: %v", err)
	}
	if len(entities) != 0 {
		t.Fatalf("expected empty result for unmatched typo, got %d", len(entities))
	}
}

func TestCascadeEmbeddingTier(t *testing.T) {
	ctx := context.Background()
	sim := 0.93
	embed := &fakeEmbedder{vectors: map[string][]float32{
		"kitchen":          {float32(sim), float32(math.Sqrt(1 - sim*sim))},
		"the cooking room": {1, 0},
	}}
	svc := newTestService(t, homeDirectory(), &fakeCache{}, embed)
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	entities, err := svc.FindEntitiesByLocation(ctx, "the cooking room", []string{"light"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entities) != 1 || entities[0].EntityID != "light.kitchen_1" {
		t.Fatalf("expected semantic match on kitchen light, got %+v", entities)
	}
}

func TestDomainFilter(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, homeDirectory(), &fakeCache{}, nil)
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	entities, err := svc.FindEntitiesByLocation(ctx, "kitchen", []string{"light"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entities) != 1 || entities[0].EntityID != "light.kitchen_1" {
		t.Fatalf("domain filter failed: %+v", entities)
	}
}

func TestRelationshipAccessors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, homeDirectory(), &fakeCache{}, nil)
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	floor := svc.FloorForArea(ctx, "kitchen")
	if floor == nil || floor.FloorID != "ground" {
		t.Fatalf("FloorForArea(kitchen) = %+v", floor)
	}
	if svc.FloorForArea(ctx, "nope") != nil {
		t.Fatal("unknown area should yield no floor")
	}
	if svc.AreaForEntity(ctx, "light.unknown") != nil {
		t.Fatal("unknown entity should yield no area")
	}
}

func TestSnapshotImmutableAcrossReload(t *testing.T) {
	ctx := context.Background()
	dir := homeDirectory()
	svc := newTestService(t, dir, &fakeCache{}, nil)
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	before := svc.Entities(ctx)
	beforeFirst := before[0]

	dir.mu.Lock()
	dir.entities = []domain.EntityLocationInfo{
		{EntityID: "light.new_1", FriendlyName: "New Light", AreaID: "kitchen"},
	}
	dir.memberships = map[string][]string{"kitchen": {"light.new_1"}}
	dir.mu.Unlock()

	if err := svc.InvalidateAndReload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}

	after := svc.Entities(ctx)
	if len(after) != 1 || after[0].EntityID != "light.new_1" {
		t.Fatalf("reload did not publish new snapshot: %+v", after)
	}
	if len(before) != 4 || before[0].EntityID != beforeFirst.EntityID {
		t.Fatal("previously captured snapshot was mutated by reload")
	}
}

func TestInvalidateAndReloadPropagatesToPeer(t *testing.T) {
	ctx := context.Background()
	cache := &fakeCache{}

	dirA := homeDirectory()
	svcA := newTestService(t, dirA, cache, nil)
	if err := svcA.Initialize(ctx); err != nil {
		t.Fatalf("instance A initialize: %v", err)
	}

	dirB := homeDirectory()
	svcB := newTestService(t, dirB, cache, nil)
	if err := svcB.Initialize(ctx); err != nil {
		t.Fatalf("instance B initialize: %v", err)
	}
	if dirB.listCalls != 0 {
		t.Fatalf("instance B should hydrate from cache, got %d directory calls", dirB.listCalls)
	}

	dirA.mu.Lock()
	dirA.entities = append(dirA.entities, domain.EntityLocationInfo{
		EntityID: "light.attic_1", FriendlyName: "Attic Light", AreaID: "office",
	})
	dirA.memberships["office"] = append(dirA.memberships["office"], "light.attic_1")
	dirA.mu.Unlock()

	if err := svcA.InvalidateAndReload(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	// Instance B's next read passes the freshness gate, sees the bumped
	// version, and reloads from the cache without touching the hub.
	entities := svcB.Entities(ctx)
	if len(entities) != 5 {
		t.Fatalf("peer did not converge, got %d entities", len(entities))
	}
	if dirB.listCalls != 0 {
		t.Fatalf("peer refresh must come from cache, got %d directory calls", dirB.listCalls)
	}
}

func TestEmbeddingGenerationFailureSkipsName(t *testing.T) {
	ctx := context.Background()
	embed := &fakeEmbedder{err: fmt.Errorf("quota exceeded")}
	svc := newTestService(t, homeDirectory(), &fakeCache{}, embed)

	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("embedding failures must not fail the load: %v", err)
	}
	if got := len(svc.Entities(ctx)); got != 4 {
		t.Fatalf("load should complete without embeddings, got %d entities", got)
	}
}

func TestMatchablesPrebuilt(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, homeDirectory(), &fakeCache{}, nil)
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	matchables := svc.Matchables(ctx)
	if len(matchables) != 4 {
		t.Fatalf("expected 4 matchables, got %d", len(matchables))
	}
	for _, m := range matchables {
		if m.MatchableName() == "" {
			t.Fatalf("matchable %s missing name", m.EntityID())
		}
		if m.EntityID() == "light.kitchen_1" && len(m.PhoneticKeys()) == 0 {
			t.Fatal("phonetic keys should be pre-built for named entities")
		}
	}
}

package domain

import (
	"strings"
	"time"
)

// FloorInfo mirrors one floor registry entry from the hub. Immutable once
// constructed.
type FloorInfo struct {
	FloorID string   `json:"floor_id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Level   int      `json:"level"`
	Icon    string   `json:"icon,omitempty"`
}

// AreaInfo mirrors one area registry entry. EntityIDs is the authoritative
// membership list derived from the hub's device-inheritance rules and wins
// over a raw per-entity area assignment.
type AreaInfo struct {
	AreaID    string   `json:"area_id"`
	Name      string   `json:"name"`
	FloorID   string   `json:"floor_id,omitempty"`
	Aliases   []string `json:"aliases,omitempty"`
	EntityIDs []string `json:"entity_ids,omitempty"`
	Icon      string   `json:"icon,omitempty"`
	Labels    []string `json:"labels,omitempty"`
}

// EntityLocationInfo mirrors one entity registry entry.
type EntityLocationInfo struct {
	EntityID     string   `json:"entity_id"`
	FriendlyName string   `json:"friendly_name"`
	Aliases      []string `json:"aliases,omitempty"`
	AreaID       string   `json:"area_id,omitempty"`
	Platform     string   `json:"platform,omitempty"`
}

// Domain returns the entity-ID prefix before the first dot, e.g. "light"
// for "light.kitchen_ceiling".
func (e EntityLocationInfo) Domain() string {
	id := e.EntityID
	if i := strings.IndexByte(id, '.'); i >= 0 {
		return id[:i]
	}
	return id
}

// LocationSnapshot is one immutable, fully indexed copy of the hub's
// location data. It is replaced wholesale on reload via a single atomic
// pointer swap; nothing mutates a snapshot after NewLocationSnapshot
// returns it.
type LocationSnapshot struct {
	Floors   []FloorInfo
	Areas    []AreaInfo
	Entities []EntityLocationInfo

	// Embeddings maps a lowercased floor/area display name or alias to
	// its embedding vector.
	Embeddings map[string][]float32

	FloorByID  map[string]FloorInfo
	AreaByID   map[string]AreaInfo
	EntityByID map[string]EntityLocationInfo

	LoadedAt time.Time
}

// EmptySnapshot is the pre-initialization sentinel. Readers that race
// Initialize see zero floors/areas/entities rather than a nil pointer.
var EmptySnapshot = NewLocationSnapshot(nil, nil, nil, nil, time.Time{})

// NewLocationSnapshot is the only constructor; it builds the three
// case-insensitive ID indices from the flat lists.
func NewLocationSnapshot(
	floors []FloorInfo,
	areas []AreaInfo,
	entities []EntityLocationInfo,
	embeddings map[string][]float32,
	loadedAt time.Time,
) *LocationSnapshot {
	s := &LocationSnapshot{
		Floors:     floors,
		Areas:      areas,
		Entities:   entities,
		Embeddings: embeddings,
		FloorByID:  make(map[string]FloorInfo, len(floors)),
		AreaByID:   make(map[string]AreaInfo, len(areas)),
		EntityByID: make(map[string]EntityLocationInfo, len(entities)),
		LoadedAt:   loadedAt,
	}
	if s.Embeddings == nil {
		s.Embeddings = map[string][]float32{}
	}
	for _, f := range floors {
		s.FloorByID[strings.ToLower(f.FloorID)] = f
	}
	for _, a := range areas {
		s.AreaByID[strings.ToLower(a.AreaID)] = a
	}
	for _, e := range entities {
		s.EntityByID[strings.ToLower(e.EntityID)] = e
	}
	return s
}

// Floor resolves a floor ID, case-insensitively. Second return is false
// when the floor does not exist in this snapshot.
func (s *LocationSnapshot) Floor(floorID string) (FloorInfo, bool) {
	f, ok := s.FloorByID[strings.ToLower(floorID)]
	return f, ok
}

func (s *LocationSnapshot) Area(areaID string) (AreaInfo, bool) {
	a, ok := s.AreaByID[strings.ToLower(areaID)]
	return a, ok
}

func (s *LocationSnapshot) Entity(entityID string) (EntityLocationInfo, bool) {
	e, ok := s.EntityByID[strings.ToLower(entityID)]
	return e, ok
}

// Embedding returns the cached vector for a floor/area display name or
// alias, case-insensitively.
func (s *LocationSnapshot) Embedding(name string) ([]float32, bool) {
	v, ok := s.Embeddings[strings.ToLower(name)]
	return v, ok
}

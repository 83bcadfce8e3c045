package services

import (
	"github.com/voxhome/voxhome-backend/internal/domain"
	"github.com/voxhome/voxhome-backend/internal/match"
)

// locationMatchable wraps a snapshot entity as a matchable candidate.
// Phonetic keys are built once at snapshot publish time; the embedding is
// whatever the snapshot has cached for the friendly name (usually nil,
// since the load only embeds floor and area names).
type locationMatchable struct {
	entityID  string
	name      string
	embedding []float32
	keys      []string
}

func (m locationMatchable) EntityID() string         { return m.entityID }
func (m locationMatchable) MatchableName() string    { return m.name }
func (m locationMatchable) NameEmbedding() []float32 { return m.embedding }
func (m locationMatchable) PhoneticKeys() []string   { return m.keys }

func buildMatchables(snap *domain.LocationSnapshot) []domain.MatchableEntity {
	out := make([]domain.MatchableEntity, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		name := e.FriendlyName
		if name == "" {
			name = e.EntityID
		}
		emb, _ := snap.Embedding(name)
		out = append(out, locationMatchable{
			entityID:  e.EntityID,
			name:      name,
			embedding: emb,
			keys:      match.BuildPhoneticKeys(name),
		})
	}
	return out
}

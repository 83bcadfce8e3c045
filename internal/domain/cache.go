package domain

import "time"

// LocationData is the persisted form of one snapshot: the five pieces
// written to the distributed cache as independent keys.
type LocationData struct {
	Floors     []FloorInfo          `json:"floors"`
	Areas      []AreaInfo           `json:"areas"`
	Entities   []EntityLocationInfo `json:"entities"`
	Embeddings map[string][]float32 `json:"embeddings"`
	LoadedAt   time.Time            `json:"loaded_at"`
}

package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"cargostat/internal/store"
)

// ChangeMessage announces a committed store mutation. It carries only the
// versions; consumers read the state they need from the store itself.
// Versions restart when the publishing process restarts, so Source
// identifies the process that produced them.
type ChangeMessage struct {
	Source          string    `json:"source"`
	Kind            string    `json:"kind"`
	Op              string    `json:"op"`
	TaxonomyVersion uint64    `json:"taxonomyVersion"`
	DataVersion     uint64    `json:"dataVersion"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewChangeMessage(source string, ev store.ChangeEvent) *ChangeMessage {
	return &ChangeMessage{
		Source:          source,
		Kind:            ev.Kind,
		Op:              ev.Op,
		TaxonomyVersion: ev.Versions.Taxonomy,
		DataVersion:     ev.Versions.Data,
		Timestamp:       time.Now().UTC(),
	}
}

// Versions returns the store versions the change produced.
func (m *ChangeMessage) Versions() store.Versions {
	return store.Versions{Taxonomy: m.TaxonomyVersion, Data: m.DataVersion}
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case store.ChangeTaxonomy, store.ChangeData, store.ChangeRestore:
	default:
		return nil, fmt.Errorf("unknown change kind %q", msg.Kind)
	}
	return &msg, nil
}

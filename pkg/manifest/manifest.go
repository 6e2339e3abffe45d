// Package manifest persists the acquisition status of the images of a dataset together with its
// category vocabulary, so that a later run only fetches what is still missing.
package manifest

import (
	"encoding/json"
	"sort"
	"sync"
)

// Status of an image.
type Status string

const (
	StatusPending Status = "pending"
	StatusFetched Status = "fetched"
	StatusFailed  Status = "failed"
)

// Entry is the acquisition state of one image.
type Entry struct {
	ImageID   string `json:"image_id"`
	SourceURL string `json:"source_url"`
	LocalPath string `json:"local_path"`
	Status    Status `json:"status"`
	Attempts  int    `json:"attempts,omitempty"`
	LastError string `json:"last_error,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Vocabulary is the persisted form of the dataset vocabularies, names ordered by id.
type Vocabulary struct {
	Objects    []string `json:"objects"`
	Predicates []string `json:"predicates"`
}

// Manifest is the persisted state of a dataset.
type Manifest struct {
	Dataset    string
	Vocabulary Vocabulary

	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty manifest for dataset.
func New(dataset string) *Manifest {
	return &Manifest{
		Dataset: dataset,
		entries: make(map[string]Entry),
	}
}

// Entry returns the entry of imageID.
func (m *Manifest) Entry(imageID string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[imageID]

	return e, ok
}

// Put inserts or replaces the entry of e.ImageID.
func (m *Manifest) Put(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[e.ImageID] = e
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

// Entries returns every entry sorted by image id.
func (m *Manifest) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageID < out[j].ImageID })

	return out
}

// Counts returns the number of entries per status.
func (m *Manifest) Counts() map[Status]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[Status]int, 3)
	for _, e := range m.entries {
		counts[e.Status]++
	}

	return counts
}

type manifestJSON struct {
	Dataset    string     `json:"dataset"`
	Vocabulary Vocabulary `json:"vocabulary"`
	Images     []Entry    `json:"images"`
}

func (m *Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(manifestJSON{
		Dataset:    m.Dataset,
		Vocabulary: m.Vocabulary,
		Images:     m.Entries(),
	})
}

func (m *Manifest) UnmarshalJSON(data []byte) error {
	var raw manifestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Dataset = raw.Dataset
	m.Vocabulary = raw.Vocabulary
	m.entries = make(map[string]Entry, len(raw.Images))
	for _, e := range raw.Images {
		m.entries[e.ImageID] = e
	}

	return nil
}

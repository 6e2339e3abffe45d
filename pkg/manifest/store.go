package manifest

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/askiada/vrdprep/internal/fileutil"
)

// FileName is the name of the manifest file in a dataset directory.
const FileName = "manifest.json"

// Store loads and saves manifests.
type Store interface {
	// Load returns the manifest of dataset, or an empty one when none was saved yet.
	Load(ctx context.Context, dataset string) (*Manifest, error)
	// Save replaces the stored manifest as a whole.
	Save(ctx context.Context, m *Manifest) error
}

// FileStore keeps one JSON manifest per dataset under Root/<dataset>/manifest.json.
type FileStore struct {
	Root string
}

// NewFileStore returns a FileStore rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

// Path returns the manifest file of dataset.
func (s *FileStore) Path(dataset string) string {
	return filepath.Join(s.Root, dataset, FileName)
}

func (s *FileStore) Load(_ context.Context, dataset string) (*Manifest, error) {
	data, err := os.ReadFile(s.Path(dataset))
	if errors.Is(err, os.ErrNotExist) {
		return New(dataset), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to read manifest")
	}

	m := New(dataset)
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.Wrapf(err, "unable to decode manifest %s", s.Path(dataset))
	}
	m.Dataset = dataset

	return m, nil
}

func (s *FileStore) Save(_ context.Context, m *Manifest) error {
	err := fileutil.WriteAtomic(s.Path(m.Dataset), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(m)
	})

	return errors.Wrap(err, "unable to save manifest")
}

var _ Store = (*FileStore)(nil)

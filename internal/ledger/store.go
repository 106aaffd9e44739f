package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Store is the durable side of the ledger. Load reports false when the
// client has no record.
type Store interface {
	Load(id uuid.UUID) (Entry, bool, error)
	Save(id uuid.UUID, e Entry) error
	Delete(id uuid.UUID) error
	List() ([]uuid.UUID, error)
}

// FileStore keeps one JSON document per client: <dir>/<uuid>.json.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("empty ledger dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

// Path is the record file for id, whether or not it exists.
func (s *FileStore) Path(id uuid.UUID) string { return s.path(id) }

func (s *FileStore) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".json")
}

func (s *FileStore) Load(id uuid.UUID) (Entry, bool, error) {
	b, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e, err := DecodeRecord(b)
	if err != nil {
		return Entry{}, false, fmt.Errorf("%s: %w", s.path(id), err)
	}
	return e, true, nil
}

func (s *FileStore) Save(id uuid.UUID, e Entry) error {
	b, err := EncodeRecord(e)
	if err != nil {
		return err
	}
	path := s.path(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Delete(id uuid.UUID) error {
	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) List() ([]uuid.UUID, error) {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, ent := range ents {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

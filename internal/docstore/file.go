package docstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

type fileSnapshot struct {
	Collections map[string][]fileDocument `json:"collections"`
}

type fileDocument struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// FileStore is a MemoryStore that rewrites a JSON snapshot after every
// mutation. It suits local single-process deployments.
type FileStore struct {
	*MemoryStore
	Path string
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	mem := NewMemoryStore()
	if err := loadFileSnapshot(path, mem); err != nil {
		return nil, err
	}
	store := &FileStore{MemoryStore: mem, Path: path}
	mem.persist = store.save
	return store, nil
}

func loadFileSnapshot(path string, mem *MemoryStore) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	for name, docs := range snapshot.Collections {
		coll := &memoryCollection{docs: map[string]map[string]any{}}
		for _, doc := range docs {
			if doc.ID == "" || coll.docs[doc.ID] != nil {
				continue
			}
			if doc.Data == nil {
				doc.Data = map[string]any{}
			}
			coll.order = append(coll.order, doc.ID)
			coll.docs[doc.ID] = doc.Data
		}
		mem.collections[name] = coll
	}
	return nil
}

func (s *FileStore) save(collections map[string]*memoryCollection) error {
	snapshot := fileSnapshot{Collections: map[string][]fileDocument{}}
	for name, coll := range collections {
		docs := make([]fileDocument, 0, len(coll.order))
		for _, id := range coll.order {
			docs = append(docs, fileDocument{ID: id, Data: coll.docs[id]})
		}
		snapshot.Collections[name] = docs
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

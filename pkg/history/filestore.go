package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/solvr-ai/solvr/pkg/models"
)

// FileStore keeps one JSON file per session under a directory. Writes go
// through a temp file and rename so a crashed write never leaves a
// half-written record behind.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) Save(ctx context.Context, record *models.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.SessionID, err)
	}

	tmp, err := os.CreateTemp(s.dir, record.SessionID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write record %s: %w", record.SessionID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(record.SessionID)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename record %s: %w", record.SessionID, err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read record %s: %w", id, err)
	}
	var rec models.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *FileStore) List(ctx context.Context, limit, offset int) ([]*models.SessionRecord, error) {
	ids, err := s.idsByModTime(ctx)
	if err != nil {
		return nil, err
	}
	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	records := make([]*models.SessionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			// Records can vanish between listing and reading.
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *FileStore) Search(ctx context.Context, text string) ([]*models.SessionRecord, error) {
	ids, err := s.idsByModTime(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(text)
	var matches []*models.SessionRecord
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		if recordMatches(rec, needle) {
			matches = append(matches, rec)
		}
	}
	return matches, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(s.dir)
	return err
}

func (s *FileStore) Close(context.Context) error { return nil }

// idsByModTime lists stored session ids, most recently written first.
func (s *FileStore) idsByModTime(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list history dir: %w", err)
	}

	type fileInfo struct {
		id  string
		mod int64
	}
	var files []fileInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			id:  strings.TrimSuffix(name, ".json"),
			mod: info.ModTime().UnixNano(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mod == files[j].mod {
			return files[i].id > files[j].id
		}
		return files[i].mod > files[j].mod
	})

	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.id
	}
	return ids, nil
}

// recordMatches does the case-insensitive substring search over query,
// final answer and every event content.
func recordMatches(rec *models.SessionRecord, needle string) bool {
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(rec.Query), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(rec.FinalAnswer), needle) {
		return true
	}
	for _, ev := range rec.Events {
		if strings.Contains(strings.ToLower(ev.Content), needle) {
			return true
		}
	}
	return false
}

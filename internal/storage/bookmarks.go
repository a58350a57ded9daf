package storage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/neuromance/neuromance/internal/core"
)

// bookmarkFile is the on-disk shape of bookmarks.json.
type bookmarkFile struct {
	Map map[string]string `json:"map"`
}

func (s *Store) readBookmarks() (map[string]string, error) {
	data, err := os.ReadFile(bookmarksPath(s.dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, core.Wrap(core.CodeStorage, err, "reading bookmarks")
	}
	var file bookmarkFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, core.Wrap(core.CodeSerialization, err, "decoding bookmarks")
	}
	if file.Map == nil {
		file.Map = map[string]string{}
	}
	return file.Map, nil
}

func (s *Store) writeBookmarks(m map[string]string) error {
	data, err := json.MarshalIndent(bookmarkFile{Map: m}, "", "  ")
	if err != nil {
		return core.Wrap(core.CodeSerialization, err, "encoding bookmarks")
	}
	if err := writeAtomic(bookmarksPath(s.dir), data, 0o600); err != nil {
		return core.Wrap(core.CodeStorage, err, "saving bookmarks")
	}
	return nil
}

// SetBookmark maps a name to a conversation id. Names are unique; an
// existing name fails with BookmarkExists.
func (s *Store) SetBookmark(name, conversationID string) error {
	s.bookmarkMu.Lock()
	defer s.bookmarkMu.Unlock()

	m, err := s.readBookmarks()
	if err != nil {
		return err
	}
	if _, exists := m[name]; exists {
		return core.E(core.CodeBookmarkExists, "bookmark %q already exists", name)
	}
	m[name] = conversationID
	return s.writeBookmarks(m)
}

// RemoveBookmark deletes a bookmark by name.
func (s *Store) RemoveBookmark(name string) error {
	s.bookmarkMu.Lock()
	defer s.bookmarkMu.Unlock()

	m, err := s.readBookmarks()
	if err != nil {
		return err
	}
	if _, exists := m[name]; !exists {
		return core.E(core.CodeBookmarkNotFound, "bookmark %q not found", name)
	}
	delete(m, name)
	return s.writeBookmarks(m)
}

// Bookmarks returns a copy of the bookmark map.
func (s *Store) Bookmarks() (map[string]string, error) {
	s.bookmarkMu.Lock()
	defer s.bookmarkMu.Unlock()
	return s.readBookmarks()
}

// purgeBookmarksFor drops every bookmark pointing at a conversation.
func (s *Store) purgeBookmarksFor(conversationID string) error {
	s.bookmarkMu.Lock()
	defer s.bookmarkMu.Unlock()

	m, err := s.readBookmarks()
	if err != nil {
		return err
	}
	changed := false
	for name, id := range m {
		if id == conversationID {
			delete(m, name)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.writeBookmarks(m)
}

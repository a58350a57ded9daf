package storage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/neuromance/neuromance/internal/core"
)

// Store owns the on-disk conversation layout. All writes are atomic:
// content lands in a .tmp sibling and is renamed into place. The bookmark
// map is guarded by a mutex to serialize read-modify-write cycles.
type Store struct {
	dir        string
	bookmarkMu sync.Mutex
	logger     *slog.Logger
}

// NewStore creates a store rooted at dataDir.
func NewStore(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(conversationsDir(dataDir), 0o700); err != nil {
		return nil, core.Wrap(core.CodeStorage, err, "creating conversations directory")
	}
	return &Store{dir: dataDir, logger: logger}, nil
}

// Dir returns the store's data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) conversationPath(id string) string {
	return filepath.Join(conversationsDir(s.dir), id+".json")
}

// writeAtomic writes data to path via a .tmp sibling and rename.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// SaveConversation serializes the conversation as pretty JSON.
func (s *Store) SaveConversation(conv *core.Conversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return core.Wrap(core.CodeSerialization, err, "encoding conversation %s", conv.ID)
	}
	if err := writeAtomic(s.conversationPath(conv.ID), data, 0o600); err != nil {
		return core.Wrap(core.CodeStorage, err, "saving conversation %s", conv.ID)
	}
	return nil
}

// LoadConversation reads one conversation by full id.
func (s *Store) LoadConversation(id string) (*core.Conversation, error) {
	data, err := os.ReadFile(s.conversationPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.E(core.CodeConversationNotFound, "conversation %s not found", id)
		}
		return nil, core.Wrap(core.CodeStorage, err, "reading conversation %s", id)
	}
	var conv core.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, core.Wrap(core.CodeSerialization, err, "decoding conversation %s", id)
	}
	return &conv, nil
}

// ConversationSummary is the listing view of a stored conversation.
type ConversationSummary struct {
	ID           string                  `json:"id"`
	Title        string                  `json:"title,omitempty"`
	Status       core.ConversationStatus `json:"status"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
	MessageCount int                     `json:"message_count"`
}

// ListConversations returns summaries of all stored conversations, most
// recently updated first. Unreadable files are skipped with a warning.
func (s *Store) ListConversations() ([]ConversationSummary, error) {
	entries, err := os.ReadDir(conversationsDir(s.dir))
	if err != nil {
		return nil, core.Wrap(core.CodeStorage, err, "listing conversations")
	}

	var summaries []ConversationSummary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		conv, err := s.LoadConversation(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.Warn("skipping unreadable conversation file", "file", name, "error", err)
			continue
		}
		summaries = append(summaries, ConversationSummary{
			ID:           conv.ID,
			Title:        conv.Title,
			Status:       conv.Status,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Messages),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// conversationIDs returns the ids of all stored conversations.
func (s *Store) conversationIDs() ([]string, error) {
	entries, err := os.ReadDir(conversationsDir(s.dir))
	if err != nil {
		return nil, core.Wrap(core.CodeStorage, err, "listing conversations")
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// DeleteConversation removes the conversation file, purges bookmarks
// pointing at it and clears the active pointer if it matched.
func (s *Store) DeleteConversation(id string) error {
	if err := os.Remove(s.conversationPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.E(core.CodeConversationNotFound, "conversation %s not found", id)
		}
		return core.Wrap(core.CodeStorage, err, "deleting conversation %s", id)
	}

	if err := s.purgeBookmarksFor(id); err != nil {
		s.logger.Warn("purging bookmarks after delete", "conversation", id, "error", err)
	}

	if current, err := s.Current(); err == nil && current == id {
		if err := s.ClearCurrent(); err != nil {
			s.logger.Warn("clearing active pointer after delete", "conversation", id, "error", err)
		}
	}
	return nil
}

// SetCurrent records the active conversation id.
func (s *Store) SetCurrent(id string) error {
	if err := writeAtomic(currentPath(s.dir), []byte(id), 0o600); err != nil {
		return core.Wrap(core.CodeStorage, err, "writing active pointer")
	}
	return nil
}

// Current returns the active conversation id. An absent pointer reports
// NoActiveConversation.
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(currentPath(s.dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", core.E(core.CodeNoActiveConversation, "no active conversation")
		}
		return "", core.Wrap(core.CodeStorage, err, "reading active pointer")
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", core.E(core.CodeNoActiveConversation, "no active conversation")
	}
	return id, nil
}

// ClearCurrent removes the active pointer.
func (s *Store) ClearCurrent() error {
	if err := os.Remove(currentPath(s.dir)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return core.Wrap(core.CodeStorage, err, "clearing active pointer")
	}
	return nil
}

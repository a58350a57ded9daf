package storage

import (
	"strings"

	"github.com/google/uuid"

	"github.com/neuromance/neuromance/internal/core"
)

const minPrefixLen = 7

// Resolve maps a user-supplied reference to a full conversation id. A
// reference is a full uuid, a bookmark name, or a hex prefix of at least
// seven characters; a prefix matching more than one conversation fails
// with AmbiguousShortHash.
func (s *Store) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", core.E(core.CodeInvalidConversationID, "empty conversation reference")
	}

	if _, err := uuid.Parse(ref); err == nil {
		if _, err := s.LoadConversation(ref); err != nil {
			return "", err
		}
		return ref, nil
	}

	bookmarks, err := s.Bookmarks()
	if err != nil {
		return "", err
	}
	if id, ok := bookmarks[ref]; ok {
		return id, nil
	}

	if len(ref) >= minPrefixLen && isHex(ref) {
		return s.resolvePrefix(ref)
	}

	return "", core.E(core.CodeInvalidConversationID,
		"invalid conversation reference %q (expected uuid, bookmark, or >=%d hex chars)", ref, minPrefixLen)
}

func (s *Store) resolvePrefix(prefix string) (string, error) {
	ids, err := s.conversationIDs()
	if err != nil {
		return "", err
	}

	normalized := strings.ToLower(prefix)
	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(strings.ReplaceAll(id, "-", ""), normalized) ||
			strings.HasPrefix(id, normalized) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", core.E(core.CodeConversationNotFound, "no conversation matches prefix %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", core.E(core.CodeAmbiguousShortHash, "prefix %q matches %d conversations", prefix, len(matches))
	}
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		case r == '-':
		default:
			return false
		}
	}
	return true
}

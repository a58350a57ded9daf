package storage

import (
	"strings"
	"testing"

	"github.com/neuromance/neuromance/internal/core"
)

func TestResolveFullUUID(t *testing.T) {
	s := newTestStore(t)
	conv := storedConversation(t, s, "hi")

	id, err := s.Resolve(conv.ID)
	if err != nil || id != conv.ID {
		t.Errorf("Resolve() = (%q, %v)", id, err)
	}

	_, err = s.Resolve("3b1f8a6e-0000-4000-8000-000000000000")
	if !core.IsCode(err, core.CodeConversationNotFound) {
		t.Errorf("CodeOf(err) = %v, want conversation_not_found", core.CodeOf(err))
	}
}

func TestResolveBookmark(t *testing.T) {
	s := newTestStore(t)
	conv := storedConversation(t, s, "hi")
	if err := s.SetBookmark("work", conv.ID); err != nil {
		t.Fatal(err)
	}

	id, err := s.Resolve("work")
	if err != nil || id != conv.ID {
		t.Errorf("Resolve(work) = (%q, %v)", id, err)
	}
}

func TestResolvePrefix(t *testing.T) {
	s := newTestStore(t)
	conv := storedConversation(t, s, "hi")

	prefix := strings.ReplaceAll(conv.ID, "-", "")[:8]
	id, err := s.Resolve(prefix)
	if err != nil || id != conv.ID {
		t.Errorf("Resolve(%q) = (%q, %v)", prefix, id, err)
	}
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{
		"3b1f8a6e-0000-4000-8000-000000000001",
		"3b1f8a6e-0000-4000-8000-000000000002",
	} {
		conv := core.NewConversation()
		conv.ID = id
		if err := s.SaveConversation(conv); err != nil {
			t.Fatalf("SaveConversation() error = %v", err)
		}
	}

	_, err := s.Resolve("3b1f8a6")
	if !core.IsCode(err, core.CodeAmbiguousShortHash) {
		t.Errorf("CodeOf(err) = %v, want ambiguous_short_hash", core.CodeOf(err))
	}
}

func TestResolvePrefixTooShort(t *testing.T) {
	s := newTestStore(t)
	storedConversation(t, s, "hi")

	_, err := s.Resolve("abc12")
	if !core.IsCode(err, core.CodeInvalidConversationID) {
		t.Errorf("CodeOf(err) = %v, want invalid_conversation_id", core.CodeOf(err))
	}
}

func TestResolveUnknownPrefix(t *testing.T) {
	s := newTestStore(t)
	storedConversation(t, s, "hi")

	_, err := s.Resolve("fffffff0")
	if !core.IsCode(err, core.CodeConversationNotFound) {
		t.Errorf("CodeOf(err) = %v, want conversation_not_found", core.CodeOf(err))
	}
}

func TestResolveEmpty(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Resolve("  ")
	if !core.IsCode(err, core.CodeInvalidConversationID) {
		t.Errorf("CodeOf(err) = %v, want invalid_conversation_id", core.CodeOf(err))
	}
}

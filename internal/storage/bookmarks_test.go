package storage

import (
	"testing"

	"github.com/neuromance/neuromance/internal/core"
)

func TestBookmarkLifecycle(t *testing.T) {
	s := newTestStore(t)
	conv := storedConversation(t, s, "hi")

	if err := s.SetBookmark("work", conv.ID); err != nil {
		t.Fatalf("SetBookmark() error = %v", err)
	}

	// Names are unique.
	if err := s.SetBookmark("work", conv.ID); !core.IsCode(err, core.CodeBookmarkExists) {
		t.Errorf("duplicate: CodeOf(err) = %v, want bookmark_exists", core.CodeOf(err))
	}

	bookmarks, err := s.Bookmarks()
	if err != nil {
		t.Fatal(err)
	}
	if bookmarks["work"] != conv.ID {
		t.Errorf("bookmarks = %v", bookmarks)
	}

	if err := s.RemoveBookmark("work"); err != nil {
		t.Fatalf("RemoveBookmark() error = %v", err)
	}
	if err := s.RemoveBookmark("work"); !core.IsCode(err, core.CodeBookmarkNotFound) {
		t.Errorf("missing: CodeOf(err) = %v, want bookmark_not_found", core.CodeOf(err))
	}
}

func TestBookmarksConcurrentWrites(t *testing.T) {
	s := newTestStore(t)
	conv := storedConversation(t, s, "hi")

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			name := string(rune('a' + n))
			if err := s.SetBookmark(name, conv.ID); err != nil {
				t.Errorf("SetBookmark(%s) error = %v", name, err)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	bookmarks, err := s.Bookmarks()
	if err != nil {
		t.Fatal(err)
	}
	if len(bookmarks) != 8 {
		t.Errorf("got %d bookmarks, want 8", len(bookmarks))
	}
}

package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNoteToString(t *testing.T) {
	note := Note{
		Id:        uuid.New(),
		CreatedBy: "alice",
		Message:   "hello fediverse",
		CreatedAt: time.Now(),
	}

	s := note.ToString()
	for _, want := range []string{"alice", "hello fediverse", note.Id.String()} {
		if !strings.Contains(s, want) {
			t.Errorf("ToString missing %q: %s", want, s)
		}
	}
}

func TestSaveNoteCarriesAuthor(t *testing.T) {
	userId := uuid.New()
	save := SaveNote{UserId: userId, Message: "draft"}

	if save.UserId != userId {
		t.Errorf("Expected user id %s, got %s", userId, save.UserId)
	}
	if save.Message != "draft" {
		t.Errorf("Expected message draft, got %s", save.Message)
	}
}

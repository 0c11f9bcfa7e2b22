package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewPrefixesUUID(t *testing.T) {
	id := New("audit")
	if !strings.HasPrefix(id, "audit-") {
		t.Fatalf("expected audit- prefix, got %s", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "audit-")); err != nil {
		t.Fatalf("expected uuid suffix: %v", err)
	}
	if New("audit") == id {
		t.Fatalf("expected distinct ids")
	}
}

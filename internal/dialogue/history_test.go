package dialogue

import (
	"testing"
	"time"

	"github.com/voxloop/voxloop/pkg/provider/llm"
)

func TestHistory_AppendAndCommit(t *testing.T) {
	var h history
	now := time.Now()

	h.appendUser("hello")
	h.commitAssistant("hi there", now)

	msgs := h.messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleAssistant || msgs[1].Content != "hi there" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
}

func TestHistory_RollbackWithinWindow(t *testing.T) {
	var h history
	base := time.Now()

	h.appendUser("hello")
	h.commitAssistant("hi", base)

	if !h.rollback(base.Add(200*time.Millisecond), 2*time.Second) {
		t.Fatal("expected rollback")
	}
	msgs := h.messages()
	if len(msgs) != 1 || msgs[0].Role != llm.RoleUser {
		t.Errorf("messages after rollback = %+v", msgs)
	}
}

func TestHistory_RollbackExpiredWindow(t *testing.T) {
	var h history
	base := time.Now()

	h.appendUser("hello")
	h.commitAssistant("hi", base)

	if h.rollback(base.Add(3*time.Second), 2*time.Second) {
		t.Error("rollback outside window should be a no-op")
	}
	if len(h.messages()) != 2 {
		t.Errorf("len = %d, want 2", len(h.messages()))
	}
}

func TestHistory_RollbackRequiresAssistantTail(t *testing.T) {
	var h history
	base := time.Now()

	h.appendUser("first")
	h.commitAssistant("reply", base)
	h.appendUser("second")

	if h.rollback(base.Add(time.Millisecond), 2*time.Second) {
		t.Error("rollback with user tail should be a no-op")
	}
}

func TestHistory_RollbackOnlyOnce(t *testing.T) {
	var h history
	base := time.Now()

	h.appendUser("hello")
	h.commitAssistant("hi", base)

	if !h.rollback(base, 2*time.Second) {
		t.Fatal("expected first rollback")
	}
	if h.rollback(base, 2*time.Second) {
		t.Error("second rollback should be a no-op")
	}
}

func TestHistory_ClearSavedAtBlocksRollback(t *testing.T) {
	var h history
	base := time.Now()

	h.commitAssistant("hi", base)
	h.clearSavedAt()

	if h.rollback(base, 2*time.Second) {
		t.Error("rollback after clearSavedAt should be a no-op")
	}
}

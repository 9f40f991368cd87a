package client

import (
	"slices"
	"sync"

	"github.com/npezzotti/teetime-chat/internal/types"
)

// Timeline is the local view of one room's messages. Messages are unique by
// id and kept ordered by CreatedAt, ties broken by id.
type Timeline struct {
	mu       sync.Mutex
	roomId   string
	seen     map[string]struct{}
	messages []types.ChatMessage
}

func NewTimeline(roomId string) *Timeline {
	return &Timeline{
		roomId: roomId,
		seen:   make(map[string]struct{}),
	}
}

// Add inserts msg in order and reports whether it was new. Messages for other
// rooms and repeated ids are ignored.
func (t *Timeline) Add(msg types.ChatMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.add(msg)
}

func (t *Timeline) add(msg types.ChatMessage) bool {
	if msg.RoomId != t.roomId {
		return false
	}
	if _, ok := t.seen[msg.Id]; ok {
		return false
	}
	t.seen[msg.Id] = struct{}{}

	i, _ := slices.BinarySearchFunc(t.messages, msg, compareMessages)
	t.messages = slices.Insert(t.messages, i, msg)

	return true
}

// ReplayHistory merges a page of history fetched in any order, returning the
// messages that were not already present, oldest first.
func (t *Timeline) ReplayHistory(page []types.ChatMessage) []types.ChatMessage {
	sorted := slices.Clone(page)
	slices.SortFunc(sorted, compareMessages)

	t.mu.Lock()
	defer t.mu.Unlock()

	var added []types.ChatMessage
	for _, m := range sorted {
		if t.add(m) {
			added = append(added, m)
		}
	}

	return added
}

// MarkRead flags every message up to and including messageId as read.
func (t *Timeline) MarkRead(messageId string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := slices.IndexFunc(t.messages, func(m types.ChatMessage) bool { return m.Id == messageId })
	for i := 0; i <= idx; i++ {
		t.messages[i].IsRead = true
	}
}

// Messages returns a copy of the timeline, oldest first.
func (t *Timeline) Messages() []types.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	return slices.Clone(t.messages)
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.messages)
}

// Oldest is the cursor for fetching the previous page of history.
func (t *Timeline) Oldest() (types.ChatMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.messages) == 0 {
		return types.ChatMessage{}, false
	}
	return t.messages[0], true
}

func compareMessages(a, b types.ChatMessage) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.Id < b.Id:
		return -1
	case a.Id > b.Id:
		return 1
	}
	return 0
}

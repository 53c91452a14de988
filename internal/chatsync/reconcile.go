package chatsync

import (
	"time"

	"github.com/google/uuid"

	"marketchat/internal/domain/entity"
)

const tempIDPrefix = "tmp-"

// NewTempID returns an id in the temporary namespace. It never parses as a
// server id.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

type MatchKind int

const (
	MatchNone MatchKind = iota
	// MatchID: the incoming message is one already in the thread.
	MatchID
	// MatchTempID: the broker echoed the temporary id of an optimistic message.
	MatchTempID
	// MatchContent: same text and sender as an optimistic message, created
	// within the matching window.
	MatchContent
)

func (k MatchKind) String() string {
	switch k {
	case MatchID:
		return "id"
	case MatchTempID:
		return "temp_id"
	case MatchContent:
		return "content"
	default:
		return "none"
	}
}

// Matcher decides which existing thread entry, if any, an authoritative
// message stands for.
type Matcher struct {
	Window time.Duration
}

// Find returns the index in thread that incoming duplicates or confirms.
// Rules are tried in order over the whole thread: server id, echoed temporary
// id, then content+sender+window against temporary messages, earliest first.
// Content matching only applies to messages that carry no temporary id.
func (m Matcher) Find(thread []entity.Message, incoming *entity.Message) (int, MatchKind) {
	if incoming.ID > 0 {
		for i := range thread {
			if thread[i].ID == incoming.ID {
				return i, MatchID
			}
		}
	}

	if incoming.TempID != "" {
		for i := range thread {
			if thread[i].IsTemporary() && thread[i].TempID == incoming.TempID {
				return i, MatchTempID
			}
		}
		// An echoed temporary id belongs to exactly one send; an unknown one
		// came from another client and must not claim ours by content.
		return -1, MatchNone
	}

	for i := range thread {
		if MatchesTemporary(&thread[i], incoming, m.Window) {
			return i, MatchContent
		}
	}
	return -1, MatchNone
}

// MatchesTemporary reports whether incoming is the authoritative copy of the
// optimistic candidate: same text, same sender role, created within window.
func MatchesTemporary(candidate, incoming *entity.Message, window time.Duration) bool {
	if !candidate.IsTemporary() {
		return false
	}
	if candidate.Text != incoming.Text || candidate.Sender != incoming.Sender {
		return false
	}
	delta := incoming.CreatedAt.Sub(candidate.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= window
}

// insertFromTail places msg after the last entry not newer than it. Live and
// optimistic messages almost always land at the very end.
func insertFromTail(thread []entity.Message, msg entity.Message) []entity.Message {
	i := len(thread)
	for i > 0 && thread[i-1].CreatedAt.After(msg.CreatedAt) {
		i--
	}
	return insertAt(thread, i, msg)
}

// insertFromHead places msg before the first entry not older than it. History
// pages almost always land at the very start.
func insertFromHead(thread []entity.Message, msg entity.Message) []entity.Message {
	i := 0
	for i < len(thread) && thread[i].CreatedAt.Before(msg.CreatedAt) {
		i++
	}
	return insertAt(thread, i, msg)
}

func insertAt(thread []entity.Message, i int, msg entity.Message) []entity.Message {
	thread = append(thread, entity.Message{})
	copy(thread[i+1:], thread[i:])
	thread[i] = msg
	return thread
}

func removeAt(thread []entity.Message, i int) []entity.Message {
	return append(thread[:i], thread[i+1:]...)
}

// replaceAt swaps thread[i] for msg, moving it only when msg's timestamp no
// longer fits between its neighbours.
func replaceAt(thread []entity.Message, i int, msg entity.Message) []entity.Message {
	fitsBefore := i == 0 || !thread[i-1].CreatedAt.After(msg.CreatedAt)
	fitsAfter := i == len(thread)-1 || !thread[i+1].CreatedAt.Before(msg.CreatedAt)
	if fitsBefore && fitsAfter {
		thread[i] = msg
		return thread
	}
	return insertFromTail(removeAt(thread, i), msg)
}

// prependPage merges an ascending history page into the head of thread,
// skipping ids already present.
func prependPage(thread []entity.Message, page []entity.Message) ([]entity.Message, int) {
	known := make(map[int64]struct{}, len(thread))
	for i := range thread {
		if thread[i].ID > 0 {
			known[thread[i].ID] = struct{}{}
		}
	}

	added := 0
	for i := len(page) - 1; i >= 0; i-- {
		if _, ok := known[page[i].ID]; ok {
			continue
		}
		known[page[i].ID] = struct{}{}
		thread = insertFromHead(thread, page[i])
		added++
	}
	return thread, added
}

func indexByTempID(thread []entity.Message, tempID string) int {
	for i := range thread {
		if thread[i].IsTemporary() && thread[i].TempID == tempID {
			return i
		}
	}
	return -1
}

func indexByID(thread []entity.Message, id int64) int {
	for i := range thread {
		if thread[i].ID == id {
			return i
		}
	}
	return -1
}

// oldestServerID is the pagination cursor: the smallest server id present.
func oldestServerID(thread []entity.Message) int64 {
	var oldest int64
	for i := range thread {
		if thread[i].ID > 0 && (oldest == 0 || thread[i].ID < oldest) {
			oldest = thread[i].ID
		}
	}
	return oldest
}

package chatsync

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"marketchat/internal/domain/entity"
)

func temp(tempID, text string, sender entity.Role, at time.Time) entity.Message {
	return entity.Message{TempID: tempID, BuyerID: 7, SellerID: 3, Text: text, Sender: sender, CreatedAt: at}
}

func confirmed(id int64, text string, sender entity.Role, at time.Time) *entity.Message {
	return &entity.Message{ID: id, BuyerID: 7, SellerID: 3, Text: text, Sender: sender, CreatedAt: at}
}

func TestNewTempIDNamespace(t *testing.T) {
	a, b := NewTempID(), NewTempID()
	assert.True(t, strings.HasPrefix(a, "tmp-"))
	assert.NotEqual(t, a, b)
}

func TestMatcherFind(t *testing.T) {
	m := Matcher{Window: 2 * time.Second}
	thread := []entity.Message{
		*confirmed(10, "hi", entity.RoleSeller, baseTime),
		temp("tmp-a", "Hello", entity.RoleBuyer, baseTime.Add(time.Minute)),
		temp("tmp-b", "Hello", entity.RoleBuyer, baseTime.Add(time.Minute+time.Second)),
	}

	tests := []struct {
		name     string
		incoming *entity.Message
		idx      int
		kind     MatchKind
	}{
		{"server id", confirmed(10, "edited", entity.RoleSeller, baseTime), 0, MatchID},
		{"echoed temp id wins over content", func() *entity.Message {
			msg := confirmed(11, "Hello", entity.RoleBuyer, baseTime.Add(time.Minute))
			msg.TempID = "tmp-b"
			return msg
		}(), 2, MatchTempID},
		{"unknown temp id skips content", func() *entity.Message {
			msg := confirmed(12, "Hello", entity.RoleBuyer, baseTime.Add(time.Minute))
			msg.TempID = "tmp-other-device"
			return msg
		}(), -1, MatchNone},
		{"content picks earliest temporary", confirmed(11, "Hello", entity.RoleBuyer, baseTime.Add(time.Minute+500*time.Millisecond)), 1, MatchContent},
		{"other role", confirmed(11, "Hello", entity.RoleSeller, baseTime.Add(time.Minute)), -1, MatchNone},
		{"outside window", confirmed(11, "Hello", entity.RoleBuyer, baseTime.Add(time.Minute+4*time.Second)), -1, MatchNone},
		{"different text", confirmed(11, "Hello!", entity.RoleBuyer, baseTime.Add(time.Minute)), -1, MatchNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, kind := m.Find(thread, tt.incoming)
			assert.Equal(t, tt.idx, idx)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestMatchesTemporaryNeverMatchesConfirmed(t *testing.T) {
	candidate := confirmed(5, "ok", entity.RoleBuyer, baseTime)
	assert.False(t, MatchesTemporary(candidate, confirmed(6, "ok", entity.RoleBuyer, baseTime), time.Second))

	pending := temp("tmp-1", "ok", entity.RoleBuyer, baseTime)
	assert.True(t, MatchesTemporary(&pending, confirmed(6, "ok", entity.RoleBuyer, baseTime.Add(-time.Second)), time.Second))
}

func TestInsertKeepsTimestampOrder(t *testing.T) {
	var thread []entity.Message
	for _, minute := range []int{5, 1, 9, 3, 3, 7, 0} {
		thread = insertFromTail(thread, entity.Message{ID: int64(minute + 1), CreatedAt: baseTime.Add(time.Duration(minute) * time.Minute)})
	}
	assertOrdered(t, thread)

	thread = insertFromHead(thread, entity.Message{ID: 50, CreatedAt: baseTime.Add(4 * time.Minute)})
	assertOrdered(t, thread)
	assert.Len(t, thread, 8)
}

func TestReplaceAtMovesWhenTimestampShifts(t *testing.T) {
	thread := []entity.Message{
		temp("tmp-1", "a", entity.RoleBuyer, baseTime),
		*confirmed(2, "b", entity.RoleSeller, baseTime.Add(time.Second)),
	}
	thread = replaceAt(thread, 0, *confirmed(3, "a", entity.RoleBuyer, baseTime.Add(2*time.Second)))

	assert.Equal(t, []int64{2, 3}, ids(thread))
	assertOrdered(t, thread)
}

func TestPrependPageSkipsKnownIDs(t *testing.T) {
	thread := page(testKey, 100, 3)
	merged, added := prependPage(thread, page(testKey, 98, 4))

	assert.Equal(t, 2, added)
	assert.Equal(t, []int64{98, 99, 100, 101, 102}, ids(merged))
}

func TestOldestServerIDIgnoresTemporary(t *testing.T) {
	thread := append(page(testKey, 40, 2), temp("tmp-x", "new", entity.RoleBuyer, baseTime.Add(time.Hour)))
	assert.Equal(t, int64(40), oldestServerID(thread))
	assert.Zero(t, oldestServerID([]entity.Message{temp("tmp-x", "new", entity.RoleBuyer, baseTime)}))
}

func assertOrdered(t *testing.T, thread []entity.Message) {
	t.Helper()
	for i := 1; i < len(thread); i++ {
		assert.False(t, thread[i].CreatedAt.Before(thread[i-1].CreatedAt),
			"message %d at %s is older than its predecessor", i, thread[i].CreatedAt)
	}
}

func ids(thread []entity.Message) []int64 {
	out := make([]int64, 0, len(thread))
	for _, m := range thread {
		out = append(out, m.ID)
	}
	return out
}

package timeline

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/halden/converse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id uuid.UUID, content string, at time.Time) domain.Message {
	return domain.Message{
		ID:        id,
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: at,
	}
}

func TestMerge(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	id1, id2, id3 := uuid.New(), uuid.New(), uuid.New()

	t.Run("remote wins on conflict, local-only kept", func(t *testing.T) {
		local := []domain.Message{
			msg(id1, "local one", base),
			msg(id2, "not yet flushed", base.Add(2*time.Second)),
		}
		remote := []domain.Message{
			msg(id1, "remote one", base),
			msg(id3, "remote three", base.Add(time.Second)),
		}

		got := Merge(local, remote)
		require.Len(t, got, 3)
		assert.Equal(t, "remote one", got[0].Content)
		assert.Equal(t, id3, got[1].ID)
		assert.Equal(t, id2, got[2].ID)
	})

	t.Run("idempotent", func(t *testing.T) {
		a := []domain.Message{
			msg(id1, "a", base),
			msg(id2, "b", base.Add(time.Second)),
		}
		b := []domain.Message{
			msg(id2, "b'", base.Add(time.Second)),
			msg(id3, "c", base.Add(3*time.Second)),
		}

		once := Merge(a, b)
		twice := Merge(once, b)
		assert.Equal(t, once, twice)
	})

	t.Run("empty remote yields local unchanged", func(t *testing.T) {
		a := []domain.Message{
			msg(id1, "a", base),
			msg(id2, "b", base.Add(time.Second)),
		}
		assert.Equal(t, a, Merge(a, nil))
	})

	t.Run("ties broken by insertion order", func(t *testing.T) {
		a := []domain.Message{msg(id1, "first", base)}
		b := []domain.Message{msg(id2, "second", base)}

		got := Merge(a, b)
		require.Len(t, got, 2)
		assert.Equal(t, id1, got[0].ID)
		assert.Equal(t, id2, got[1].ID)
	})
}

func TestTimeline_AppendDelta(t *testing.T) {
	id := uuid.New()
	tl := New(uuid.New(), []domain.Message{msg(id, "Hel", time.Now())})

	assert.True(t, tl.AppendDelta(id, "lo"))
	got, ok := tl.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Hello", got.Content)

	assert.False(t, tl.AppendDelta(uuid.New(), "nope"))
}

func TestTimeline_InsertBefore(t *testing.T) {
	base := time.Now()
	a, b, side := uuid.New(), uuid.New(), uuid.New()
	tl := New(uuid.New(), []domain.Message{
		msg(a, "user", base),
		msg(b, "placeholder", base.Add(time.Millisecond)),
	})

	require.True(t, tl.InsertBefore(b, msg(side, "proactive", base)))

	msgs := tl.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, a, msgs[0].ID)
	assert.Equal(t, side, msgs[1].ID)
	assert.Equal(t, b, msgs[2].ID)
}

func TestTimeline_Truncate(t *testing.T) {
	base := time.Now()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	seed := make([]domain.Message, 0, len(ids))
	for i, id := range ids {
		seed = append(seed, msg(id, "m", base.Add(time.Duration(i)*time.Second)))
	}

	t.Run("from removes the target and its suffix", func(t *testing.T) {
		tl := New(uuid.New(), seed)
		removed, ok := tl.TruncateFrom(ids[1])
		require.True(t, ok)
		assert.Len(t, removed, 3)
		assert.Equal(t, ids[1], removed[0].ID)
		assert.Equal(t, 1, tl.Len())
	})

	t.Run("after keeps the target", func(t *testing.T) {
		tl := New(uuid.New(), seed)
		removed, ok := tl.TruncateAfter(ids[1])
		require.True(t, ok)
		assert.Len(t, removed, 2)
		assert.Equal(t, ids[2], removed[0].ID)
		assert.Equal(t, 2, tl.Len())
	})

	t.Run("unknown id", func(t *testing.T) {
		tl := New(uuid.New(), seed)
		_, ok := tl.TruncateFrom(uuid.New())
		assert.False(t, ok)
		assert.Equal(t, 4, tl.Len())
	})
}

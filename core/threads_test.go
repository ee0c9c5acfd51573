package core

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"deepconsole/conversation"

	"github.com/stretchr/testify/require"
)

func msg(id string, typ conversation.MessageType, text string) conversation.Message {
	return conversation.Message{ID: id, Type: typ, Content: conversation.TextContent(text)}
}

func TestThreadStoreUpsertKeepsFirstOccurrenceOrder(t *testing.T) {
	store := NewThreadStore(time.Hour, time.Hour, testLogger())
	defer store.Close()

	store.Upsert("th", msg("h1", conversation.TypeHuman, "hi"))
	store.Upsert("th", msg("a1", conversation.TypeAI, "Hel"))
	store.Upsert("th", msg("a1", conversation.TypeAI, "Hello"))
	state := store.Upsert("th", msg("h2", conversation.TypeHuman, "again"))

	require.Len(t, state.Messages, 3)
	require.Equal(t, "Hello", state.Messages[1].Content.ExtractText())
	require.Equal(t, "h2", state.Messages[2].ID)
}

func TestThreadStoreReplaceResetsIndex(t *testing.T) {
	store := NewThreadStore(time.Hour, time.Hour, testLogger())
	defer store.Close()

	store.Upsert("th", msg("old", conversation.TypeHuman, "x"))
	store.Replace("th", conversation.ThreadState{
		Messages: []conversation.Message{msg("h1", conversation.TypeHuman, "hi")},
		Todos:    []conversation.Todo{{Content: "plan", Status: conversation.TodoPending}},
	})
	state := store.Upsert("th", msg("old", conversation.TypeAI, "new"))

	require.Len(t, state.Messages, 2)
	require.Equal(t, "h1", state.Messages[0].ID)
	require.Equal(t, "old", state.Messages[1].ID)
	require.NotNil(t, state.Files)
	require.Len(t, state.Todos, 1)
}

func TestThreadStoreReturnsCopies(t *testing.T) {
	store := NewThreadStore(time.Hour, time.Hour, testLogger())
	defer store.Close()

	state := store.Upsert("th", msg("h1", conversation.TypeHuman, "hi"))
	state.Messages[0].ID = "mutated"

	got, ok := store.Get("th")
	require.True(t, ok)
	require.Equal(t, "h1", got.Messages[0].ID)

	_, ok = store.Get("missing")
	require.False(t, ok)
}

func TestThreadStoreListDeleteAndStats(t *testing.T) {
	store := NewThreadStore(time.Hour, time.Hour, testLogger())
	defer store.Close()

	store.Upsert("a", msg("h1", conversation.TypeHuman, "first question"))
	store.Ensure("b")

	list := store.List()
	require.Len(t, list, 2)
	titles := map[string]string{}
	for _, th := range list {
		titles[th.ThreadID] = th.Title
	}
	require.Equal(t, "first question", titles["a"])
	require.Equal(t, "", titles["b"])

	stats := store.Stats()
	require.Equal(t, 2, stats["totalThreads"])
	require.Equal(t, 1, stats["totalMessages"])

	require.True(t, store.Delete("a"))
	require.False(t, store.Delete("a"))
	require.Len(t, store.List(), 1)
}

func TestThreadStoreTitleIsValidUTF8(t *testing.T) {
	store := NewThreadStore(time.Hour, time.Hour, testLogger())
	defer store.Close()

	store.Upsert("a", msg("h1", conversation.TypeHuman, "a"+strings.Repeat("é", 60)))
	title := store.List()[0].Title
	require.True(t, utf8.ValidString(title))
	require.Equal(t, "a"+strings.Repeat("é", 39)+"...", title)
}

func TestThreadStoreExpire(t *testing.T) {
	store := NewThreadStore(time.Minute, time.Hour, testLogger())
	defer store.Close()

	store.Ensure("th")
	require.Equal(t, 0, store.expire(time.Now()))
	require.Equal(t, 1, store.expire(time.Now().Add(2*time.Minute)))
	_, ok := store.Get("th")
	require.False(t, ok)
}

func TestRunRegistry(t *testing.T) {
	runs := NewRunRegistry()
	cancelled := false
	runs.Add("r1", "th", func() { cancelled = true })
	runs.Add("r2", "th", func() {})

	run, ok := runs.Lookup("r1")
	require.True(t, ok)
	require.Equal(t, "th", run.ThreadID)
	require.Len(t, runs.Active(), 2)

	stopped, ok := runs.Stop("r1")
	require.True(t, ok)
	require.Equal(t, "r1", stopped.RunID)
	require.True(t, cancelled)

	_, ok = runs.Stop("r1")
	require.False(t, ok)

	runs.Remove("r2")
	require.Empty(t, runs.Active())
}

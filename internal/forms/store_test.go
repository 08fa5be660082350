package forms

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/kv"
)

func newTestStore() *Store {
	backend := kv.NewMemory(clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	return NewStore(backend, zerolog.Nop())
}

func testFormID() GlobalFormID {
	return GlobalFormID{OwnerID: "alice", BotID: "mybot", FormBlockID: "feedback-form"}
}

func result(ts float64, answer string) FormResult {
	return FormResult{
		ReservedTimestampKey: ts,
		ReservedUserKey:      "user",
		"q1":                 answer,
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestGlobalFormIDRoundtrip(t *testing.T) {
	id := testFormID()
	parsed, err := ParseGlobalFormID(id.AsKey())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseGlobalFormID("missing-parts")
	assert.Error(t, err)

	_, err = ParseGlobalFormID("a//c")
	assert.Error(t, err)
}

func TestSaveResultReportsFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	first, err := store.SaveResult(ctx, testFormID(), result(1, "a"))
	require.NoError(t, err)
	assert.True(t, first)

	first, err = store.SaveResult(ctx, testFormID(), result(2, "b"))
	require.NoError(t, err)
	assert.False(t, first)

	total, err := store.CountResults(ctx, testFormID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestLoadPagePagination(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	for i := 1; i <= 5; i++ {
		_, err := store.SaveResult(ctx, testFormID(), result(float64(i), "answer"))
		require.NoError(t, err)
	}

	// offset 0 selects the newest results, in chronological order
	page, err := store.LoadPage(ctx, testFormID(), 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	ts, _ := page[0].Timestamp()
	assert.Equal(t, float64(4), ts)
	ts, _ = page[1].Timestamp()
	assert.Equal(t, float64(5), ts)

	page, err = store.LoadPage(ctx, testFormID(), 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	ts, _ = page[0].Timestamp()
	assert.Equal(t, float64(2), ts)
}

func TestLoadWithTimestampFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	for i := 1; i <= 10; i++ {
		_, err := store.SaveResult(ctx, testFormID(), result(float64(i*100), "answer"))
		require.NoError(t, err)
	}

	results, exhausted, err := store.Load(ctx, testFormID(), ResultsFilter{
		MinTimestamp: floatPtr(250),
		MaxTimestamp: floatPtr(650),
	}, 0)
	require.NoError(t, err)
	assert.True(t, exhausted)
	require.Len(t, results, 4)
	ts, _ := results[0].Timestamp()
	assert.Equal(t, float64(300), ts)
	ts, _ = results[3].Timestamp()
	assert.Equal(t, float64(600), ts)

	// maxCount truncates the scan
	results, exhausted, err = store.Load(ctx, testFormID(), ResultsFilter{}, 3)
	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Len(t, results, 3)
}

func TestListFormsRequiresPrompt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	formID := testFormID()

	_, err := store.SaveResult(ctx, formID, result(1, "a"))
	require.NoError(t, err)

	_, err = store.ListForms(ctx, "alice", "mybot")
	assert.ErrorIs(t, err, ErrNoPrompt)

	require.NoError(t, store.SavePrompt(ctx, formID, "Please fill in the form"))
	require.NoError(t, store.SaveTitle(ctx, formID, "Feedback"))

	infos, err := store.ListForms(ctx, "alice", "mybot")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "feedback-form", infos[0].FormBlockID)
	assert.Equal(t, "Please fill in the form", infos[0].Prompt)
	require.NotNil(t, infos[0].Title)
	assert.Equal(t, "Feedback", *infos[0].Title)
	assert.Equal(t, int64(1), infos[0].TotalResponses)

	// bots are listed independently
	infos, err = store.ListForms(ctx, "alice", "otherbot")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestWriteCSV(t *testing.T) {
	store := newTestStore()

	fieldNames := []FieldName{
		{ID: "name", Name: "Your name"},
		{ID: "age", Name: "Your age"},
	}
	results := []FormResult{
		{
			ReservedTimestampKey: float64(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Unix()),
			ReservedUserKey:      "John Doe",
			"name":               "John",
			"age":                float64(42),
		},
		{
			// no timestamp, skipped field
			ReservedUserKey: "anonymous",
			"name":          "Jane",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, store.WriteCSV(&buf, fieldNames, results))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Equal(t, "Timestamp,User,Your name,Your age", string(lines[0]))
	assert.Contains(t, string(lines[1]), "John Doe,John,42")
	assert.Equal(t, ",anonymous,Jane,", string(lines[2]))
}

package record_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/testing/fixtures"
)

var allModes = []record.Mode{
	record.ModeUnfiltered,
	record.ModeForeign,
	record.ModeHiddenForeign,
	record.ModeCondensed,
}

func TestExportKeyOrder(t *testing.T) {
	reg := fixtures.Registry(t)
	r := fixtures.NewRecord(t, reg, "data", map[string]interface{}{
		"content": []byte("hello"),
		"name":    "Demo Data",
	})
	require.NoError(t, r.AssignID(3))

	out, err := record.Export(r, record.ModeUnfiltered)
	require.NoError(t, err)
	expected := `{"$model":"data","id":3,"objectId":"` + r.ObjectID() + `","name":"Demo Data","content":"aGVsbG8="}`
	assert.Equal(t, expected, string(out))
}

func TestRoundTripPerMode(t *testing.T) {
	reg := fixtures.Registry(t)
	published := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)

	r := fixtures.NewRecord(t, reg, "post", map[string]interface{}{
		"title":     "Hello",
		"body":      nil,
		"score":     1.0,
		"views":     int64(12),
		"published": published,
		"status":    "published",
		"author":    int64(4),
		"tags":      []string{"a", "b"},
		"related":   []int64{8, 9},
		"extra":     "free text",
		"notes":     "internal",
	})
	require.NoError(t, r.AssignID(21))

	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			first, err := record.Export(r, mode)
			require.NoError(t, err)

			imported, err := record.Import(reg, first, mode)
			require.NoError(t, err)
			assert.Equal(t, r.ID(), imported.ID())
			assert.Equal(t, r.ObjectID(), imported.ObjectID())

			second, err := record.Export(imported, mode)
			require.NoError(t, err)
			assert.Equal(t, string(first), string(second))
		})
	}

	t.Run("unfiltered import equals original", func(t *testing.T) {
		out, err := record.Export(r, record.ModeUnfiltered)
		require.NoError(t, err)
		imported, err := record.Import(reg, out, record.ModeUnfiltered)
		require.NoError(t, err)
		assert.True(t, r.Equal(imported))
	})
}

func TestModeFiltering(t *testing.T) {
	reg := fixtures.Registry(t)
	r := fixtures.NewRecord(t, reg, "post", map[string]interface{}{
		"title":  "Hello",
		"author": int64(4),
		"notes":  "secret note",
	})

	decode := func(mode record.Mode) map[string]interface{} {
		out, err := record.Export(r, mode)
		require.NoError(t, err)
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(out, &doc))
		return doc
	}

	assert.Contains(t, decode(record.ModeUnfiltered), "notes")
	assert.NotContains(t, decode(record.ModeHiddenForeign), "author")
	assert.Contains(t, decode(record.ModeHiddenForeign), "notes")
	assert.NotContains(t, decode(record.ModeCondensed), "notes")
	assert.Contains(t, decode(record.ModeCondensed), "author")
}

func TestForeignDuality(t *testing.T) {
	reg := fixtures.Registry(t)

	author := fixtures.NewRecord(t, reg, "author", map[string]interface{}{"name": "Ann"})
	require.NoError(t, author.AssignID(4))

	post := fixtures.NewRecord(t, reg, "post", map[string]interface{}{"title": "Hello", "author": author})
	require.NoError(t, post.AssignID(1))

	foreign, err := record.Export(post, record.ModeForeign)
	require.NoError(t, err)
	var fdoc map[string]interface{}
	require.NoError(t, json.Unmarshal(foreign, &fdoc))
	assert.Equal(t, float64(4), fdoc["author"], "foreign mode always yields a bare id")

	unfiltered, err := record.Export(post, record.ModeUnfiltered)
	require.NoError(t, err)
	var udoc map[string]interface{}
	require.NoError(t, json.Unmarshal(unfiltered, &udoc))
	nested, ok := udoc["author"].(map[string]interface{})
	require.True(t, ok, "unfiltered mode embeds the populated target")
	assert.Equal(t, "author", nested["$model"])
	assert.Equal(t, "Ann", nested["name"])

	for _, tc := range []struct {
		mode record.Mode
		data []byte
	}{
		{record.ModeForeign, foreign},
		{record.ModeUnfiltered, unfiltered},
	} {
		imported, err := record.Import(reg, tc.data, tc.mode)
		require.NoError(t, err)
		again, err := record.Export(imported, tc.mode)
		require.NoError(t, err)
		assert.Equal(t, string(tc.data), string(again), tc.mode.String())
	}

	imported, err := record.Import(reg, unfiltered, record.ModeUnfiltered)
	require.NoError(t, err)
	fv := imported.MustGet("author").AsForeign()
	require.True(t, fv.IsEmbedded())
	assert.Equal(t, author.ObjectID(), fv.Record().ObjectID())
}

func TestFlexEnvelope(t *testing.T) {
	reg := fixtures.Registry(t)
	r := fixtures.NewRecord(t, reg, "post", map[string]interface{}{"title": "x", "extra": int64(5)})

	out, err := record.Export(r, record.ModeUnfiltered)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"extra":{"$kind":"long","value":5}`)

	imported, err := record.Import(reg, out, record.ModeUnfiltered)
	require.NoError(t, err)
	assert.Equal(t, int64(5), imported.MustGet("extra").AsInt())
}

func TestImportErrors(t *testing.T) {
	reg := fixtures.Registry(t)

	_, err := record.Import(reg, []byte(`{"$model":"ghost","objectId":"x"}`), record.ModeUnfiltered)
	assert.Error(t, err)

	_, err = record.Import(reg, []byte(`{"$model":"data","objectId":"x","color":"red"}`), record.ModeUnfiltered)
	assert.ErrorIs(t, err, record.ErrUnknownField)

	_, err = record.Import(reg, []byte(`{"$model":"data","objectId":"x","content":"***"}`), record.ModeUnfiltered)
	assert.True(t, record.IsValueError(err))

	_, err = record.Import(reg, []byte(`{"$model":"post","objectId":"x","author":3}`), record.ModeHiddenForeign)
	assert.True(t, record.IsFieldError(err))

	_, err = record.Import(reg, []byte(`not json`), record.ModeUnfiltered)
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	for _, mode := range allModes {
		parsed, err := record.ParseMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}
	_, err := record.ParseMode("verbose")
	assert.Error(t, err)
}

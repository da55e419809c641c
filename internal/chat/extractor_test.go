package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoterag/zoterag/internal/provider"
)

func TestParseFilters_FencedBlock(t *testing.T) {
	content := "Here are the filters:\n```json\n{\"year_min\": 2018, \"tags\": [\"NLP\", \"deep learning\"]}\n```\nLet me know if you need more."

	f, err := ParseFilters(content)

	require.NoError(t, err)
	require.NotNil(t, f.YearMin)
	assert.Equal(t, 2018, *f.YearMin)
	assert.Nil(t, f.YearMax)
	assert.Equal(t, []string{"NLP", "deep learning"}, f.Tags)
	assert.Empty(t, f.Collections)
	assert.True(t, f.HasFilters)
}

func TestParseFilters_BareJSON(t *testing.T) {
	content := `The extracted filters are {"author": "Berlant", "title": null} as requested.`

	f, err := ParseFilters(content)

	require.NoError(t, err)
	require.NotNil(t, f.Author)
	assert.Equal(t, "Berlant", *f.Author)
	assert.Nil(t, f.Title)
	assert.True(t, f.HasFilters)
}

func TestParseFilters_BlankStringsCountAsAbsent(t *testing.T) {
	f, err := ParseFilters(`{"author": "   ", "title": "", "tags": []}`)

	require.NoError(t, err)
	assert.Nil(t, f.Author)
	assert.Nil(t, f.Title)
	assert.False(t, f.HasFilters)
}

func TestParseFilters_ItemTypes(t *testing.T) {
	f, err := ParseFilters(`{"item_types": ["thesis", "book"]}`)

	require.NoError(t, err)
	assert.Equal(t, []string{"thesis", "book"}, f.ItemTypes)
	assert.True(t, f.HasFilters)
}

func TestParseFilters_NoJSONIsAnError(t *testing.T) {
	f, err := ParseFilters("I could not find any filters in the query.")

	assert.Error(t, err)
	assert.Equal(t, EmptyFilters(), f)
}

func TestParseFilters_AllNull(t *testing.T) {
	f, err := ParseFilters(`{"year_min": null, "year_max": null, "tags": [], "collections": [], "author": null, "title": null, "item_types": []}`)

	require.NoError(t, err)
	assert.False(t, f.HasFilters)
	assert.Equal(t, EmptyFilters(), f)
}

func TestExtract_ParsesModelResponse(t *testing.T) {
	client := &scriptedClient{replies: []chatReply{
		reply("```json\n{\"author\": \"Vaswani\", \"year_min\": 2017}\n```"),
	}}
	e := NewExtractor(client)

	f := e.Extract(context.Background(), "papers by Vaswani since 2017")

	require.NotNil(t, f.Author)
	assert.Equal(t, "Vaswani", *f.Author)
	require.NotNil(t, f.YearMin)
	assert.Equal(t, 2017, *f.YearMin)
	assert.True(t, f.HasFilters)

	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, extractParams, call.params)
	assert.Equal(t, provider.Params{Temperature: 0, MaxTokens: 200}, call.params)
	require.Len(t, call.messages, 1)
	assert.Contains(t, call.messages[0].Content, `Query: "papers by Vaswani since 2017"`)
}

func TestExtract_ClientErrorDegradesToEmpty(t *testing.T) {
	client := &scriptedClient{replies: []chatReply{
		replyErr(errors.New("provider down")),
	}}
	e := NewExtractor(client)

	f := e.Extract(context.Background(), "papers by Vaswani")

	assert.Equal(t, EmptyFilters(), f)
	assert.False(t, f.HasFilters)
}

func TestExtract_UnparseableResponseDegradesToEmpty(t *testing.T) {
	client := &scriptedClient{replies: []chatReply{
		reply("Sorry, I cannot produce JSON for that."),
	}}
	e := NewExtractor(client)

	f := e.Extract(context.Background(), "papers by Vaswani")

	assert.Equal(t, EmptyFilters(), f)
}

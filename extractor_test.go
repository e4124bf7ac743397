package toolloop

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type movieReview struct {
	Title  string   `json:"title" jsonschema:"description=Movie title"`
	Rating int      `json:"rating" jsonschema:"minimum=1,maximum=5"`
	Tags   []string `json:"tags,omitempty"`
}

// rangeArgs implements Validatable with a pointer receiver only.
type rangeArgs struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

func (a *rangeArgs) Validate() error {
	if a.Low > a.High {
		return errors.New("low must be <= high")
	}
	return nil
}

func TestExtractor_Schema(t *testing.T) {
	ext, err := NewExtractor[movieReview]()
	require.NoError(t, err)
	schema := ext.Schema()
	assert.Equal(t, "object", schema["type"])
	assert.ElementsMatch(t, []any{"title", "rating"}, schema["required"])

	params := ext.Parameters()
	require.Len(t, params, 3)
	assert.Equal(t, Parameter{Name: "rating", Type: TypeInteger}, params[0])
	assert.Equal(t, Parameter{Name: "tags", Optional: true}, params[1])
	assert.Equal(t, Parameter{Name: "title", Type: TypeString, Description: "Movie title"}, params[2])
}

func TestExtractor_ParseAndValidate(t *testing.T) {
	ext, err := NewExtractor[movieReview]()
	require.NoError(t, err)

	got, err := ext.ParseAndValidate(`{"title": "Arrival", "rating": 5, "tags": ["sci-fi"]}`)
	require.NoError(t, err)
	assert.Equal(t, movieReview{Title: "Arrival", Rating: 5, Tags: []string{"sci-fi"}}, got)

	fenced := "```json\n{\"title\": \"Heat\", \"rating\": \"4\"}\n```"
	got, err = ext.ParseAndValidate(fenced)
	require.NoError(t, err)
	assert.Equal(t, movieReview{Title: "Heat", Rating: 4}, got)

	_, err = ext.ParseAndValidate(`{"title": "Heat", "rating": 9}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = ext.ParseAndValidate(`not json`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json parse error")
}

func TestExtractor_PointerValidatable(t *testing.T) {
	ext, err := NewExtractor[rangeArgs]()
	require.NoError(t, err)
	got, err := ext.Decode(Args{"low": 1, "high": 3})
	require.NoError(t, err)
	assert.Equal(t, rangeArgs{Low: 1, High: 3}, got)

	_, err = ext.Decode(Args{"low": 5, "high": 3})
	require.Error(t, err)
	assert.True(t, IsClientError(err))
	assert.ErrorIs(t, err, ErrInvalidArguments)
	assert.Equal(t, "invalid arguments: low must be <= high", err.Error())
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("  {\"a\":1}  "))
}

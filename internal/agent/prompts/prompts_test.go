package prompts

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	require.NoError(t, Load())
}

func TestRender(t *testing.T) {
	msgs, err := Render(context.Background(), Presentation, map[string]any{
		"Query":         "where was test004 at noon?",
		"Understanding": "at home",
		"Instructions":  "one sentence",
		"Marker":        "CODE-999",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Do not include CODE-999")
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "where was test004 at noon?")
	assert.Contains(t, msgs[1].Content, "one sentence")
}

func TestRenderSummaryCombineRangesSummaries(t *testing.T) {
	msgs, err := Render(context.Background(), SummaryCombine, map[string]any{
		"Type":         "heart rate",
		"Instructions": "",
		"WindowHours":  3,
		"Summaries":    []string{"calm morning", "spike at noon"},
	})
	require.NoError(t, err)
	assert.Contains(t, msgs[1].Content, "Window 0: calm morning")
	assert.Contains(t, msgs[1].Content, "Window 1: spike at noon")
}

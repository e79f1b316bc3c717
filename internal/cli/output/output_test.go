package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMode(t *testing.T) {
	assert.Equal(t, ModeJSON, Mode("json"))
	assert.Equal(t, ModeYAML, Mode("yaml"))
	assert.Equal(t, ModeAuto, Mode(""))
	assert.Equal(t, ModeAuto, Mode("html"))
}

func TestEffective(t *testing.T) {
	tests := []struct {
		mode  OutputMode
		isTTY bool
		want  OutputMode
	}{
		{ModeAuto, true, ModeText},
		{ModeAuto, false, ModeMarkdown},
		{ModeJSON, true, ModeJSON},
		{ModeText, false, ModeText},
	}
	for _, tt := range tests {
		r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, tt.isTTY, tt.mode)
		assert.Equal(t, tt.want, r.Effective(), "mode=%s tty=%v", tt.mode, tt.isTTY)
	}
}

func TestTable(t *testing.T) {
	headers := []string{"id", "title"}
	rows := [][]string{{"1", "Robin"}, {"2", "Crow"}}
	data := []map[string]any{{"id": 1, "title": "Robin"}, {"id": 2, "title": "Crow"}}

	t.Run("markdown", func(t *testing.T) {
		var out bytes.Buffer
		r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeAuto)
		require.NoError(t, r.Table(headers, rows, data))
		assert.Contains(t, out.String(), "| Robin |")
	})

	t.Run("text", func(t *testing.T) {
		var out bytes.Buffer
		r := NewRendererWithTTY(&out, &bytes.Buffer{}, true, ModeAuto)
		require.NoError(t, r.Table(headers, rows, data))
		assert.Contains(t, out.String(), "Crow")
		assert.Contains(t, out.String(), "─")
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		r := NewRendererWithTTY(&out, &bytes.Buffer{}, true, ModeJSON)
		require.NoError(t, r.Table(headers, rows, data))
		assert.JSONEq(t, `[{"id":1,"title":"Robin"},{"id":2,"title":"Crow"}]`, out.String())
	})

	t.Run("yaml", func(t *testing.T) {
		var out bytes.Buffer
		r := NewRendererWithTTY(&out, &bytes.Buffer{}, true, ModeYAML)
		require.NoError(t, r.Table(headers, rows, data))
		assert.Contains(t, out.String(), "title: Robin")
	})

	t.Run("empty", func(t *testing.T) {
		var out bytes.Buffer
		r := NewRendererWithTTY(&out, &bytes.Buffer{}, true, ModeText)
		require.NoError(t, r.Table(headers, nil, nil))
		assert.Equal(t, "(0 rows)\n", out.String())
	})
}

func TestWarn(t *testing.T) {
	var errOut bytes.Buffer
	r := NewRendererWithTTY(&bytes.Buffer{}, &errOut, false, ModeAuto)
	r.Warn("skipped %d", 3)
	assert.Equal(t, "skipped 3\n", errOut.String())
}

package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	table := Table{
		Columns: []string{"Title", "Status"},
		Records: []map[string]string{
			{"Title": "write report", "Status": "IN_PROGRESS"},
			{"Title": "review, then ship", "Status": "COMPLETE"},
		},
	}

	out, err := NewCSVExporter().Render(table)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Title,Status", lines[0])
	assert.Equal(t, "write report,IN_PROGRESS", lines[1])
	assert.Equal(t, `"review, then ship",COMPLETE`, lines[2])
}

func TestCSVExporterRenderMissingCell(t *testing.T) {
	table := Table{
		Columns: []string{"Title", "Category"},
		Records: []map[string]string{{"Title": "untagged"}},
	}

	out, err := NewCSVExporter().Render(table)
	require.NoError(t, err)
	assert.Contains(t, string(out), "untagged,\n")
}

func TestCSVExporterRenderNoColumns(t *testing.T) {
	_, err := NewCSVExporter().Render(Table{})
	assert.Error(t, err)
}

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTime(t *testing.T) {
	t.Parallel()

	now := time.Now()
	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.UTC)
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.UTC)

	t.Run("same year", func(t *testing.T) {
		t.Parallel()

		result := formatTime(sameYear)
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		t.Parallel()

		result := formatTime(diffYear)
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "25")
		assert.Contains(t, result, "2020")
	})
}

func TestPrintTable_AlignsColumns(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	printTable(&buf, []string{"ACTION", "KIND", "PATH"}, [][]string{
		{"write", "file", "index.html"},
		{"remove", "missing", "old/page.html"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)

	assert.Equal(t, "ACTION  KIND     PATH", lines[0])
	assert.Equal(t, "write   file     index.html", lines[1])
	assert.Equal(t, "remove  missing  old/page.html", lines[2])
}

func TestPrintTable_HeaderOnly(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	printTable(&buf, []string{"KEY", "VALUE"}, nil)

	assert.Equal(t, "KEY  VALUE\n", buf.String())
}

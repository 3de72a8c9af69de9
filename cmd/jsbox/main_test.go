package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSource(t *testing.T) {
	code, err := readSource(strings.NewReader("return 1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "return 1", code)

	code, err = readSource(strings.NewReader("return 2"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "return 2", code)

	path := filepath.Join(t.TempDir(), "prog.js")
	require.NoError(t, os.WriteFile(path, []byte("return 3"), 0o644))
	code, err = readSource(strings.NewReader("ignored"), []string{path})
	require.NoError(t, err)
	assert.Equal(t, "return 3", code)

	_, err = readSource(nil, []string{filepath.Join(t.TempDir(), "missing.js")})
	assert.Error(t, err)
}

func TestListHelpers(t *testing.T) {
	assert.Equal(t, "12345678", shortID("12345678-aaaa"))
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "a b c", oneLine("a\n  b\tc "))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
	assert.Equal(t, "just now", timeAgo(time.Now()))
	assert.Equal(t, "5m ago", timeAgo(time.Now().Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "2d ago", timeAgo(time.Now().Add(-49*time.Hour)))
}

func TestExitError(t *testing.T) {
	assert.Equal(t, "exit status 1", exitError{code: 1}.Error())
}

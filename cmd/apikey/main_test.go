package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gammarips/tool-service/internal/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenerate(t *testing.T) {
	out, err := run(t, "", "generate", "--with-hash")
	require.NoError(t, err)

	fields := strings.Fields(out)
	require.Len(t, fields, 2)
	assert.True(t, app.ValidAPIKeyFormat(fields[0]))
	assert.Equal(t, app.HashAPIKey(fields[0]), fields[1])
}

func TestHash(t *testing.T) {
	key := "ps_live_0123456789abcdef0123456789abcdef"

	out, err := run(t, "", "hash", key)
	require.NoError(t, err)
	assert.Equal(t, app.HashAPIKey(key)+"\n", out)

	out, err = run(t, key+"\n", "hash")
	require.NoError(t, err)
	assert.Equal(t, app.HashAPIKey(key)+"\n", out)

	_, err = run(t, "", "hash", "not-a-key")
	assert.Error(t, err)
}

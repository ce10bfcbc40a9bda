package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func TestComposeCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "", "compose")
	require.NoError(t, err)
	assert.Equal(t, "null\n", out)

	out, err = run(t, "", "compose", "--ids", "a,b")
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"in","content":{"fieldName":"object_id","value":["a","b"]}}`, out)

	current := `{"op":"in","content":{"fieldName":"data_type","value":["WGS"]}}`
	require.NoError(t, os.WriteFile("ids.txt", []byte("f1\n\n  f2 \n"), 0o600))
	out, err = run(t, current, "compose", "--sqon", "-", "--ids-file", "ids.txt")
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"and","content":[
		{"op":"in","content":{"fieldName":"data_type","value":["WGS"]}},
		{"op":"in","content":{"fieldName":"object_id","value":["f1","f2"]}}
	]}`, out)
}

func TestComposeRejectsBadSQON(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, `{"op":"xor","content":[]}`, "compose", "--sqon", "-")
	require.ErrorContains(t, err, "invalid sqon")
}

func TestComposeRejectsTwoStdinInputs(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "a\nb\n", "compose", "--sqon", "-", "--ids-file", "-")
	require.ErrorContains(t, err, "cannot both read stdin")
}

func TestSaveSetCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/graphql", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"object_id"`)
		_, _ = io.WriteString(w, `{"data":{"saveSet":{"setId":"cli-set"}}}`)
	}))
	defer backend.Close()

	cfgPath := filepath.Join(dir, "stage.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("arranger:\n  composition:\n    api: "+backend.URL+"\n"), 0o600))

	out, err := run(t, "", "save-set", "--config", cfgPath, "--ids", "f1")
	require.NoError(t, err)
	assert.Equal(t, "cli-set\n", out)
	assert.EqualValues(t, 1, calls.Load())

	_, err = run(t, "", "save-set", "--config", cfgPath, "--backend", "growth")
	require.Error(t, err)
	_, err = run(t, "", "save-set", "--config", cfgPath, "--backend", "nope")
	require.ErrorContains(t, err, "unknown backend")
}

func TestRoutesCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STAGE_ARRANGER_COMPOSITION_API", "https://composition.example.org")

	out, err := run(t, "", "routes")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, lines[1], "composition")
	assert.Contains(t, lines[1], "https://composition.example.org")
	assert.Contains(t, lines[1], "ok")
	assert.NotContains(t, lines[2], " ok")
}

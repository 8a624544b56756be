package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterCmd_Stdin(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(`<html><body><p>what the fuck</p><img src="a.png" alt="nice"></body></html>`))
	cmd.SetArgs([]string{"filter"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "what the ****")
	assert.NotContains(t, out.String(), "fuck")
	assert.NotContains(t, out.String(), "data-tabwarden-blur")
}

func TestFilterCmd_FileAndVocabulary(t *testing.T) {
	dir := t.TempDir()
	vocab := filepath.Join(dir, "vocab.yaml")
	require.NoError(t, os.WriteFile(vocab, []byte("languages:\n  en: [broccoli]\n"), 0o600))
	page := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(page, []byte(`<p>eat your broccoli</p><img src="x.png" alt="broccoli">`), 0o600))

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"filter", "--vocabulary", vocab, page})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "eat your ********")
	assert.Contains(t, out.String(), `data-tabwarden-blur="1"`)
}

func TestCheckCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/subjects/kid_1/blocked", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"blocked":true,"domain":"bad.example"}`))
	}))
	defer srv.Close()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check", "--service-url", srv.URL, "--subject", "kid_1", "--token", "tok", "https://bad.example/x"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "bad.example blocked\n", out.String())
}

func TestCheckCmd_RequiresSubject(t *testing.T) {
	t.Setenv("TABWARDEN_AGENT_SUBJECT_ID", "")
	t.Setenv("TABWARDEN_AGENT_TOKEN", "tok")
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"check", "https://x.example"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUBJECT_ID")
}

func TestRunCmd_ReplaysEvents(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/blocked"):
			w.Header().Set("Content-Type", "application/json")
			blocked := strings.Contains(r.URL.Query().Get("url"), "bad.example")
			_ = json.NewEncoder(w).Encode(map[string]any{"blocked": blocked, "domain": "x"})
		case strings.HasSuffix(r.URL.Path, "/incognito"):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"alertId":"a1","subjectId":"kid_1","url":"","timestamp":"2025-01-01T00:00:00Z"}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	input := strings.Join([]string{
		`{"type":"navigate","tabId":1,"url":"https://bad.example/"}`,
		`{"type":"navigate","tabId":2,"url":"https://good.example/"}`,
		`{"type":"incognito","windowId":7}`,
		`{"type":"flush"}`,
	}, "\n") + "\n"

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs([]string{"run", "--service-url", srv.URL, "--subject", "kid_1", "--token", "tok"})

	require.NoError(t, cmd.Execute())

	var cmds []map[string]any
	dec := json.NewDecoder(&out)
	for dec.More() {
		var c map[string]any
		require.NoError(t, dec.Decode(&c))
		cmds = append(cmds, c)
	}
	var decisions []string
	closedWindow := false
	for _, c := range cmds {
		if d, ok := c["decision"].(string); ok {
			decisions = append(decisions, d)
		}
		if c["cmd"] == "close_window" {
			closedWindow = true
		}
	}
	assert.Equal(t, []string{"block", "allow"}, decisions)
	assert.True(t, closedWindow)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, paths, "/api/subjects/kid_1/activate")
	assert.Contains(t, paths, "/api/subjects/kid_1/incognito")
	assert.Equal(t, "/api/subjects/kid_1/disconnect", paths[len(paths)-1])
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/clearance"
	"github.com/poiesic/clearance/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const corpusYAML = `documents:
  - title: Leave policy
    keywords: [leave, vacation]
    text: |
      Annual leave accrues monthly.

      Unused leave expires in March of the following year.
    visibility: public
  - title: Salary bands
    text: Salary bands for the leave committee are reviewed yearly.
    visibility: restricted
    unit: hr
  - title: Draft travel rules
    text: Travel receipts are due within thirty days.
    visibility: public
    publication: draft
`

type harness struct {
	config string
	out    *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "clearance.toml")
	cfg := fmt.Sprintf(`[storage]
backend = "badger"
path = '%s'

[ai]
dimensions = %d
max_attempts = 1

[chunker]
min_size = 20
max_size = 120
`, filepath.Join(dir, "db"), mock.DefaultDimensions)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	extraEngineOptions = []clearance.EngineOption{clearance.WithProvider(mock.NewMockProvider())}
	t.Cleanup(func() { extraEngineOptions = nil })
	return &harness{config: cfgPath, out: &bytes.Buffer{}}
}

func (h *harness) run(args ...string) error {
	h.out.Reset()
	app := newApp()
	app.Writer = h.out
	app.ErrWriter = io.Discard
	return app.Run(append([]string{"clearance", "--config", h.config, "--log-level", "error"}, args...))
}

func (h *harness) writeCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(corpusYAML), 0644))
	return path
}

func TestAppFlags(t *testing.T) {
	app := newApp()

	var names []string
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.Equal(t, []string{"query", "seed", "set-access", "delete", "reembed", "serve"}, names)

	var logFlag *cli.StringFlag
	for _, flag := range app.Flags {
		if f, ok := flag.(*cli.StringFlag); ok && f.Name == "log-level" {
			logFlag = f
		}
	}
	require.NotNil(t, logFlag)
	assert.Equal(t, "info", logFlag.Value)
	assert.Equal(t, []string{"l"}, logFlag.Aliases)
}

func TestRequiredFlags(t *testing.T) {
	h := newHarness(t)

	err := h.run("seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")

	err = h.run("delete")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id")

	err = h.run("set-access", "--id", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "visibility")
}

func TestSeedAndQuery(t *testing.T) {
	h := newHarness(t)
	corpus := h.writeCorpus(t)

	require.NoError(t, h.run("seed", "--file", corpus))
	assert.Contains(t, h.out.String(), "Registered 3 documents")

	require.NoError(t, h.run("query", "unused", "leave"))
	out := h.out.String()
	assert.Contains(t, out, "Leave policy")
	assert.NotContains(t, out, "Salary bands", "restricted documents are hidden from anonymous requesters")
	assert.Contains(t, out, "strategy: hybrid")

	require.NoError(t, h.run("query", "--role", "unit_member", "--unit", "hr", "--json", "salary", "bands"))
	var resp struct {
		Results []struct {
			Title string
		}
	}
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "Salary bands", resp.Results[0].Title)
}

func TestQueryValidation(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.run("query"))
	assert.Error(t, h.run("query", "--role", "superuser", "leave"))
}

func TestQueryFailureShowsUserMessage(t *testing.T) {
	h := newHarness(t)

	err := h.run("query", "--role", "unit_member", "leave")
	require.Error(t, err)
	assert.Equal(t, "You are not allowed to search with this identity.", err.Error())
	assert.NotContains(t, err.Error(), "authorization")
}

func TestQueryWithoutMatchesSaysSo(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("query", "leave"))
	assert.Contains(t, h.out.String(), "No matching documents were found.")
}

func TestSetAccessAndDelete(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("seed", "--file", h.writeCorpus(t), "--embed"))
	assert.Contains(t, h.out.String(), "Embedded 3, failed 0, skipped 0 of 3 documents")

	require.NoError(t, h.run("set-access", "--id", "1", "--visibility", "restricted", "--unit", "hr"))
	assert.Contains(t, h.out.String(), "Document 1 is now restricted/approved")

	require.NoError(t, h.run("query", "unused", "leave"))
	assert.NotContains(t, h.out.String(), "Leave policy")

	require.NoError(t, h.run("delete", "--id", "1"))
	assert.Contains(t, h.out.String(), "Deleted document 1")
	assert.Error(t, h.run("delete", "--id", "1"))
}

func TestReembedCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("seed", "--file", h.writeCorpus(t)))

	require.NoError(t, h.run("reembed"))
	assert.Contains(t, h.out.String(), "Embedded 3")

	require.NoError(t, h.run("reembed", "--id", "2"))
	assert.Contains(t, h.out.String(), "Embedded 1")

	err := h.run("reembed", "--scope", "everything")
	assert.Error(t, err)
}

func TestLoadCorpusErrors(t *testing.T) {
	tests := map[string]string{
		"no documents":       "documents: []\n",
		"missing visibility": "documents:\n  - title: x\n",
		"unknown visibility": "documents:\n  - title: x\n    visibility: secret\n",
		"unit required":      "documents:\n  - title: x\n    visibility: restricted\n",
		"not yaml":           "documents: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "corpus.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := loadCorpus(path)
			assert.Error(t, err)
		})
	}

	_, err := loadCorpus(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadCorpusJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.json")
	content := `{"documents": [{"title": "Code of conduct", "visibility": "institution", "unit": "legal", "publication": "pending"}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	docs, err := loadCorpus(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "legal", docs[0].Access.OwningUnit)
	assert.Equal(t, "pending", docs[0].Access.Publication.String())
}

func TestSetupLogger(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, tc := range []struct {
			input    string
			expected slog.Level
		}{
			{"debug", slog.LevelDebug},
			{"INFO", slog.LevelInfo},
			{"warn", slog.LevelWarn},
			{"error", slog.LevelError},
		} {
			t.Run(tc.input, func(t *testing.T) {
				app := &cli.App{
					Name:   "test",
					Flags:  []cli.Flag{&cli.StringFlag{Name: "log-level"}},
					Before: setupLogger,
					Action: func(c *cli.Context) error { return nil },
				}
				require.NoError(t, app.Run([]string{"test", "--log-level", tc.input}))
				assert.True(t, slog.Default().Enabled(context.Background(), tc.expected))
				if tc.expected > slog.LevelDebug {
					assert.False(t, slog.Default().Enabled(context.Background(), tc.expected-1))
				}
			})
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		app := &cli.App{
			Name:   "test",
			Flags:  []cli.Flag{&cli.StringFlag{Name: "log-level"}},
			Before: setupLogger,
			Action: func(c *cli.Context) error { return nil },
		}
		err := app.Run([]string{"test", "--log-level", "invalid"})
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "invalid log level"))
	})
}

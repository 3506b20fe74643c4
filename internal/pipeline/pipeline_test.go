package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/wikigraph/internal/config"
	"github.com/agentic-research/wikigraph/internal/store"
)

func page(title, extra, text string) string {
	return "  <page>\n    <title>" + title + "</title>\n    <ns>0</ns>\n" + extra +
		"    <revision>\n      <text xml:space=\"preserve\">" + text + "</text>\n    </revision>\n  </page>\n"
}

func writeDump(t *testing.T, dir string, pages ...string) string {
	t.Helper()
	path := filepath.Join(dir, "enwiki.xml")
	body := "<mediawiki>\n" + strings.Join(pages, "") + "</mediawiki>\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testConfig(t *testing.T, input string, threads int) *config.Config {
	t.Helper()
	dir := filepath.Dir(input)
	cfg := config.Default()
	cfg.Input = input
	cfg.TempDir = filepath.Join(dir, "temp")
	cfg.Output = filepath.Join(dir, "wikigraph.db")
	cfg.Unparseables = filepath.Join(dir, "unparseables.txt")
	cfg.Threads = threads
	return cfg
}

type edge struct{ linker, linked string }

func readFinal(t *testing.T, path string) ([]string, []edge) {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	var titles []string
	require.NoError(t, s.EachArticle(ctx, func(title string) error {
		titles = append(titles, title)
		return nil
	}))
	var edges []edge
	require.NoError(t, s.EachLink(ctx, func(linker, linked string) error {
		edges = append(edges, edge{linker, linked})
		return nil
	}))
	return titles, edges
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := writeDump(t, dir,
		page("A", "", "See [[B]] and [[C]]."),
		page("B", "", "Nothing links out of here at all."),
		page("C", "    <redirect title=\"A\" />\n", "#REDIRECT [[A]]"),
	)
	cfg := testConfig(t, input, 2)
	logger, _ := test.NewNullLogger()

	report, err := Run(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.False(t, report.Partial())
	assert.Equal(t, 2, report.Shards)
	assert.Equal(t, []uint32{1, 2}, report.Succeeded.ToArray())
	assert.Equal(t, []uint32{1, 2}, report.Merged.ToArray())

	var pages int64
	for _, o := range report.Outcomes {
		pages += o.Stats.Pages
	}
	assert.Equal(t, int64(3), pages)

	titles, edges := readFinal(t, cfg.Output)
	assert.Equal(t, []string{"A"}, titles)
	assert.ElementsMatch(t, []edge{{"A", "B"}, {"A", "C"}}, edges)

	// Shard stores are gone; shard files stay for the next run.
	stores, err := ShardStores(cfg.TempDir)
	require.NoError(t, err)
	assert.Empty(t, stores)
	assert.FileExists(t, filepath.Join(cfg.TempDir, "enwiki-split1.xml"))
	assert.FileExists(t, filepath.Join(cfg.TempDir, "enwiki-split2.xml"))
}

func malformedDump(t *testing.T) string {
	return writeDump(t, t.TempDir(),
		page("A", "", "See [[B]] and [[C]]."),
		page("B", "", "Links to [[D]], nothing else."),
		page("C", "", "Fish & chips, [[E]]."),
	)
}

func TestRun_WorkerFailureHalts(t *testing.T) {
	cfg := testConfig(t, malformedDump(t), 2)
	logger, _ := test.NewNullLogger()

	report, err := Run(context.Background(), cfg, logger)
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Contains(t, err.Error(), "not merging")
	assert.True(t, report.Failed.Contains(2))
	assert.False(t, report.OK())
	assert.NoFileExists(t, cfg.Output)
}

func TestMerge_AfterHaltedRun(t *testing.T) {
	cfg := testConfig(t, malformedDump(t), 2)
	logger, _ := test.NewNullLogger()

	report, err := Run(context.Background(), cfg, logger)
	require.Error(t, err)
	require.True(t, report.Failed.Contains(2))

	// Resuming must not pick up the store of the failed worker, nor that of
	// a sibling cancelled before it finished.
	mr, err := Merge(context.Background(), cfg, logger)
	require.Error(t, err)
	require.False(t, mr.Failed.IsEmpty())
	for it := mr.Failed.Iterator(); it.HasNext(); {
		assert.ErrorIs(t, mr.Shards[it.Next()].Err, store.ErrIncomplete)
	}
	assert.FileExists(t, cfg.ShardStorePath(2))

	titles, _ := readFinal(t, cfg.Output)
	if report.Succeeded.Contains(1) {
		assert.Equal(t, []string{"A", "B"}, titles)
	} else {
		assert.Empty(t, titles)
	}
}

type panickingStore struct{}

func (panickingStore) InsertPage(string, []string) error { panic("insert exploded") }
func (panickingStore) MarkComplete() error { return nil }
func (panickingStore) Close() error { return nil }

func TestRun_WorkerPanic(t *testing.T) {
	orig := createShardStore
	createShardStore = func(string) (shardStore, error) { return panickingStore{}, nil }
	t.Cleanup(func() { createShardStore = orig })

	dir := t.TempDir()
	cfg := testConfig(t, writeDump(t, dir, page("A", "", "[[B]]")), 1)
	logger, _ := test.NewNullLogger()

	report, err := Run(context.Background(), cfg, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker panic: insert exploded")
	assert.Equal(t, []uint32{1}, report.Failed.ToArray())
	assert.True(t, report.Succeeded.IsEmpty())
	assert.NoFileExists(t, cfg.Output)
}

func TestRun_AllowPartial(t *testing.T) {
	cfg := testConfig(t, malformedDump(t), 2)
	cfg.AllowPartial = true
	logger, _ := test.NewNullLogger()

	report, err := Run(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.True(t, report.Partial())
	assert.False(t, report.OK())
	assert.Equal(t, []uint32{1}, report.Succeeded.ToArray())
	assert.Equal(t, []uint32{2}, report.Failed.ToArray())
	assert.Equal(t, []uint32{1}, report.Merged.ToArray())

	titles, _ := readFinal(t, cfg.Output)
	assert.Equal(t, []string{"A", "B"}, titles)

	// The failed shard's store is left for inspection.
	assert.FileExists(t, cfg.ShardStorePath(2))
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "x.xml"), 0)
	logger, _ := test.NewNullLogger()

	_, err := Run(context.Background(), cfg, logger)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRun_TempDirIsAFile(t *testing.T) {
	dir := t.TempDir()
	input := writeDump(t, dir, page("A", "", "[[B]]"))
	cfg := testConfig(t, input, 1)
	require.NoError(t, os.WriteFile(cfg.TempDir, []byte("x"), 0o644))
	logger, _ := test.NewNullLogger()

	_, err := Run(context.Background(), cfg, logger)
	require.Error(t, err)
}

func TestMerge_Leftovers(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, filepath.Join(dir, "enwiki.xml"), 2)
	require.NoError(t, os.Mkdir(cfg.TempDir, 0o755))

	for i, title := range []string{"A", "B"} {
		s, err := store.Create(cfg.ShardStorePath(i + 1))
		require.NoError(t, err)
		require.NoError(t, s.InsertPage(title, []string{"X"}))
		require.NoError(t, s.MarkComplete())
		require.NoError(t, s.Close())
	}
	logger, _ := test.NewNullLogger()

	report, err := Merge(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Articles())

	titles, _ := readFinal(t, cfg.Output)
	assert.Equal(t, []string{"A", "B"}, titles)

	_, err = Merge(context.Background(), cfg, logger)
	assert.Error(t, err)
}

func TestShardStores(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"10.db", "2.db", "x.db", "wikigraph.db", "1.db.gz", "enwiki-split1.xml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	paths, err := ShardStores(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "2.db"), filepath.Join(dir, "10.db")}, paths)

	require.NoError(t, RemoveShardStores(dir))
	assert.NoFileExists(t, filepath.Join(dir, "2.db"))
	assert.FileExists(t, filepath.Join(dir, "wikigraph.db"))
}

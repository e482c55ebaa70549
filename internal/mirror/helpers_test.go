package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testEnv is one mirror root with a populated staging directory.
type testEnv struct {
	cfg     Config
	root    string
	staging *Staging
	store   *LocalStorage
	rep     *Report
	rel     *Relocator
}

func newTestEnv(t *testing.T, staged map[string]string) *testEnv {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Root = root

	dir := filepath.Join(root, cfg.StagingDir)
	require.NoError(t, os.MkdirAll(dir, 0750))
	for name, body := range staged {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0600))
	}
	st, err := OpenStaging(dir)
	require.NoError(t, err)

	store := NewLocalStorage(root)
	rep := newReport(zap.NewNop())
	return &testEnv{
		cfg:     cfg,
		root:    root,
		staging: st,
		store:   store,
		rep:     rep,
		rel:     NewRelocator(cfg, st, store, rep),
	}
}

// read returns the content of a logical path in the mirror.
func (e *testEnv) read(t *testing.T, logical string) string {
	t.Helper()
	data, err := e.store.Get(logical)
	require.NoError(t, err)
	return string(data)
}

func (e *testEnv) kinds() []Kind {
	var out []Kind
	for _, d := range e.rep.Diagnostics() {
		out = append(out, d.Kind)
	}
	return out
}

// stubFetcher serves canned bodies keyed by absolute URL.
type stubFetcher struct {
	bodies map[string]string
	calls  []string
}

func (f *stubFetcher) Get(_ context.Context, rawURL string) ([]byte, error) {
	f.calls = append(f.calls, rawURL)
	body, ok := f.bodies[rawURL]
	if !ok {
		return nil, fmt.Errorf("HTTP 404 for %s", rawURL)
	}
	return []byte(body), nil
}

package mirror

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of mirroring one URL in a batch.
type BatchResult struct {
	URL    string
	Result *Result
	Err    error
}

// MirrorAll mirrors every URL into its own directory under cfg.Root, running
// at most cfg.Threads pipelines at once. A failing URL never stops the
// others; its error is carried in the matching BatchResult. prog may be nil.
func MirrorAll(ctx context.Context, cfg Config, urls []string, prog *Progress, opts ...Option) ([]BatchResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := cfg.logger()

	pool, err := ants.NewPool(cfg.Threads)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	results := make([]BatchResult, len(urls))
	dirs := siteDirNames(urls)
	var failed atomic.Int32

	g, ctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		i, u := i, u
		runCfg := cfg
		runCfg.Root = filepath.Join(cfg.Root, dirs[i])
		runCfg.Logger = log.With(zap.String("url", u))
		g.Go(func() error {
			results[i].URL = u
			errCh := make(chan error, 1)
			if err := pool.Submit(func() {
				p, err := NewPipeline(runCfg, opts...)
				if err != nil {
					errCh <- err
					return
				}
				res, err := p.Run(ctx, u)
				results[i].Result = res
				errCh <- err
			}); err != nil {
				return fmt.Errorf("submit task: %w", err)
			}
			if err := <-errCh; err != nil {
				results[i].Err = err
				failed.Add(1)
				log.Warn("mirror failed", zap.String("url", u), zap.Error(err))
			}
			prog.Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	prog.Finish()
	if n := failed.Load(); n > 0 {
		log.Info("batch finished with failures", zap.Int32("failed", n), zap.Int("total", len(urls)))
	}
	return results, nil
}

// siteDirNames derives one directory name per URL from its host and path.
// A name already handed out gets the first free numeric suffix so runs
// never share a root.
func siteDirNames(urls []string) []string {
	used := make(map[string]bool, len(urls))
	names := make([]string, len(urls))
	for i, raw := range urls {
		base := siteDirName(raw)
		name := base
		for n := 2; used[name]; n++ {
			name = base + "-" + strconv.Itoa(n)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

func siteDirName(raw string) string {
	var parts []string
	if page, err := NormalizePageURL(raw); err == nil {
		parts = append(parts, page.BareHost)
		parts = append(parts, strings.Split(strings.Trim(page.URL.Path, "/"), "/")...)
	} else {
		parts = []string{raw}
	}
	var clean []string
	for _, p := range parts {
		if s := sanitizeSegment(p); s != "" {
			clean = append(clean, strings.ReplaceAll(s, ".", "_"))
		}
	}
	if len(clean) == 0 {
		return "site"
	}
	return strings.Join(clean, "_")
}

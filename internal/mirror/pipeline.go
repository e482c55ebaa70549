package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Formatter pretty-prints the final document. It runs after all rewriting.
type Formatter interface {
	Format(doc []byte) ([]byte, error)
}

type passthroughFormatter struct{}

func (passthroughFormatter) Format(doc []byte) ([]byte, error) { return doc, nil }

// Result describes a finished run.
type Result struct {
	Root        string
	IndexPath   string
	Diagnostics []Diagnostic
}

// Pipeline mirrors one page per Run call.
type Pipeline struct {
	cfg       Config
	bulk      BulkFetcher
	fetcher   Fetcher
	formatter Formatter
	log       *zap.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithBulkFetcher replaces the wget subprocess.
func WithBulkFetcher(b BulkFetcher) Option { return func(p *Pipeline) { p.bulk = b } }

// WithFetcher replaces the HTTP fetcher used for comment references.
func WithFetcher(f Fetcher) Option { return func(p *Pipeline) { p.fetcher = f } }

// WithFormatter sets the pretty-printer applied to the final document.
func WithFormatter(f Formatter) Option { return func(p *Pipeline) { p.formatter = f } }

// NewPipeline validates cfg and returns a Pipeline.
func NewPipeline(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	p := &Pipeline{cfg: cfg, log: cfg.logger()}
	for _, o := range opts {
		o(p)
	}
	if p.bulk == nil {
		p.bulk = NewWgetFetcher(cfg)
	}
	if p.fetcher == nil {
		p.fetcher = NewHTTPFetcher(&http.Client{}, cfg.UserAgent, cfg.CommentFetchRate)
	}
	if p.formatter == nil {
		p.formatter = passthroughFormatter{}
	}
	return p, nil
}

// Run mirrors pageURL into the configured root. When the watchdog timeout
// expires, or ctx is cancelled, the partial mirror is deleted.
func (p *Pipeline) Run(ctx context.Context, pageURL string) (*Result, error) {
	page, err := NormalizePageURL(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	res, err := p.run(ctx, page.URL)
	if err != nil && ctx.Err() != nil {
		if rmErr := os.RemoveAll(p.cfg.Root); rmErr != nil {
			p.log.Warn("discard partial mirror", zap.Error(rmErr))
		}
		return nil, fmt.Errorf("mirror %s: %w", page.URL, ctx.Err())
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, page *url.URL) (*Result, error) {
	rep := newReport(p.log)
	store := NewLocalStorage(p.cfg.Root)
	stagingDir := filepath.Join(p.cfg.Root, p.cfg.StagingDir)

	if err := p.prepareDirectories(stagingDir); err != nil {
		return nil, err
	}

	p.log.Info("bulk fetch", zap.String("url", page.String()))
	if err := p.bulk.FetchAll(ctx, page.String(), stagingDir); err != nil {
		var incomplete *FetchIncompleteError
		if !errors.As(err, &incomplete) {
			return nil, fmt.Errorf("bulk fetch: %w", err)
		}
		rep.addErr(BulkFetchIncomplete, page.String(), err)
	}

	staging, err := OpenStaging(stagingDir)
	if err != nil {
		return nil, err
	}
	index, err := p.findRootDocument(staging, page)
	if err != nil {
		return nil, err
	}
	doc, err := p.parseRootDocument(staging, index)
	if err != nil {
		return nil, err
	}

	if err := NewMarkupRewriter(p.cfg, page, staging, store, p.fetcher, rep).Rewrite(ctx, doc); err != nil {
		return nil, err
	}
	rewriteSelfReferences(doc, index, page.String())
	declareUTF8(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	out, err := p.formatter.Format(buf.Bytes())
	if err != nil {
		rep.addErr(RewriteFailure, p.cfg.IndexFile, fmt.Errorf("format: %w", err))
		out = buf.Bytes()
	}
	if err := store.PutBytes(p.cfg.IndexFile, out); err != nil {
		return nil, fmt.Errorf("write %s: %w", p.cfg.IndexFile, err)
	}

	left, err := staging.Finish()
	if err != nil {
		return nil, err
	}
	if len(left) > 0 {
		rep.add(StagingNonEmptyAtFinish, p.cfg.StagingDir, strings.Join(left, ", "))
	}

	return &Result{
		Root:        p.cfg.Root,
		IndexPath:   filepath.Join(p.cfg.Root, p.cfg.IndexFile),
		Diagnostics: rep.Diagnostics(),
	}, nil
}

// prepareDirectories recreates the mirror root with empty category and
// staging directories.
func (p *Pipeline) prepareDirectories(stagingDir string) error {
	if err := os.RemoveAll(p.cfg.Root); err != nil {
		return fmt.Errorf("clear %s: %w", p.cfg.Root, err)
	}
	dirs := []string{stagingDir}
	for _, cat := range Categories {
		dirs = append(dirs, filepath.Join(p.cfg.Root, p.cfg.Dir(cat)))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0750); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// findRootDocument picks the staged file holding the page itself: the last
// path segment (optionally with the extension wget appends), the default
// page, or else the only HTML file staged.
func (p *Pipeline) findRootDocument(staging *Staging, page *url.URL) (string, error) {
	var keys []string
	if base := path.Base(page.Path); base != "/" && base != "." {
		if page.RawQuery != "" {
			q := base + "?" + page.RawQuery
			keys = append(keys, q, q+".html")
		}
		keys = append(keys, base, base+".html")
	}
	keys = append(keys, p.cfg.IndexFile)
	if name, ok := staging.Lookup(keys...); ok {
		return name, nil
	}

	var htmlFiles []string
	for _, name := range staging.Remaining() {
		if IsHTMLFile(name) {
			htmlFiles = append(htmlFiles, name)
		}
	}
	switch len(htmlFiles) {
	case 0:
		return "", fmt.Errorf("no HTML document staged for %s", page)
	case 1:
		return htmlFiles[0], nil
	}
	return "", fmt.Errorf("cannot tell which staged document is %s: %s", page, strings.Join(htmlFiles, ", "))
}

// parseRootDocument takes the staged page out of staging and parses it
// after converting it to UTF-8.
func (p *Pipeline) parseRootDocument(staging *Staging, index string) (*html.Node, error) {
	f, _ := staging.Release(index)
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", index, err)
	}
	if err := os.Remove(f.Path); err != nil {
		return nil, fmt.Errorf("unstage %s: %w", index, err)
	}
	r, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", index, err)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", index, err)
	}
	return doc, nil
}

// rewriteSelfReferences fixes links the bulk fetch converted to point at the
// staged copy of the page: "page.html#top" becomes "#top" and a bare
// "page.html" becomes the page URL.
func rewriteSelfReferences(doc *html.Node, index, pageURL string) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for i, a := range n.Attr {
				switch {
				case a.Val == index:
					n.Attr[i].Val = pageURL
				case strings.HasPrefix(a.Val, index+"#"):
					n.Attr[i].Val = a.Val[len(index):]
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
}

// declareUTF8 makes the charset declarations match the rendered output,
// which is always UTF-8.
func declareUTF8(doc *html.Node) {
	d := goquery.NewDocumentFromNode(doc)
	d.Find("meta[charset]").SetAttr("charset", "utf-8")
	d.Find("meta[http-equiv]").Each(func(_ int, s *goquery.Selection) {
		if strings.EqualFold(strings.TrimSpace(s.AttrOr("http-equiv", "")), "content-type") {
			s.SetAttr("content", "text/html; charset=utf-8")
		}
	})
}

package mirror

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MarkupRewriter localizes every resource a parsed page refers to. Its steps
// run in a fixed order: inline blocks are turned into staged files first so
// that the later steps only deal with references.
type MarkupRewriter struct {
	cfg      Config
	staging  *Staging
	store    Storage
	rel      *Relocator
	styles   *StyleRewriter
	scripts  *ScriptRewriter
	comments *CommentLocalizer
	rep      *Report
	log      *zap.Logger
}

// NewMarkupRewriter wires the rewriters for one page run.
func NewMarkupRewriter(cfg Config, page *url.URL, staging *Staging, store Storage, fetcher Fetcher, rep *Report) *MarkupRewriter {
	rel := NewRelocator(cfg, staging, store, rep)
	return &MarkupRewriter{
		cfg:      cfg,
		staging:  staging,
		store:    store,
		rel:      rel,
		styles:   NewStyleRewriter(cfg, rel, store, rep),
		scripts:  NewScriptRewriter(cfg, rel, store),
		comments: NewCommentLocalizer(cfg, page, fetcher, store, rep),
		rep:      rep,
		log:      cfg.logger(),
	}
}

// Rewrite runs all steps over doc, mutating it in place. Only cancellation
// of ctx stops it early.
func (m *MarkupRewriter) Rewrite(ctx context.Context, doc *html.Node) error {
	d := goquery.NewDocumentFromNode(doc)
	steps := []struct {
		name string
		run  func(context.Context, *goquery.Document)
	}{
		{"style blocks", m.convertStyleBlocks},
		{"script blocks", m.convertScriptBlocks},
		{"comments", m.localizeComments},
		{"images", m.localizeImages},
		{"favicons", m.localizeFavicons},
		{"inline styles", m.localizeInlineStyles},
		{"stylesheets", m.localizeStylesheets},
		{"stylesheet files", m.rewriteStyleFiles},
		{"scripts", m.localizeScripts},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		m.log.Debug("rewrite step", zap.String("step", step.name))
		step.run(ctx, d)
	}
	return ctx.Err()
}

// convertStyleBlocks moves each <style> body into a staged stylesheet
// referenced by a <link> at the same position.
func (m *MarkupRewriter) convertStyleBlocks(_ context.Context, d *goquery.Document) {
	d.Find("style").Each(func(i int, s *goquery.Selection) {
		name := fmt.Sprintf("style-block-%02d.css", i+1)
		if err := m.staging.Put(name, []byte(s.Text())); err != nil {
			m.rep.addErr(RewriteFailure, name, err)
			return
		}
		attrs := []html.Attribute{{Key: "rel", Val: "stylesheet"}}
		if media, ok := s.Attr("media"); ok {
			attrs = append(attrs, html.Attribute{Key: "media", Val: media})
		}
		attrs = append(attrs, html.Attribute{Key: "href", Val: name})
		replaceNode(s.Get(0), &html.Node{Type: html.ElementNode, DataAtom: atom.Link, Data: "link", Attr: attrs})
	})
}

// convertScriptBlocks does the same for inline <script> bodies.
func (m *MarkupRewriter) convertScriptBlocks(_ context.Context, d *goquery.Document) {
	d.Find("script:not([src])").Each(func(i int, s *goquery.Selection) {
		name := fmt.Sprintf("script-block-%02d.js", i+1)
		if err := m.staging.Put(name, []byte(s.Text())); err != nil {
			m.rep.addErr(RewriteFailure, name, err)
			return
		}
		replaceNode(s.Get(0), &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Script,
			Data:     "script",
			Attr: []html.Attribute{
				{Key: "type", Val: "text/javascript"},
				{Key: "src", Val: name},
			},
		})
	})
}

func (m *MarkupRewriter) localizeComments(ctx context.Context, d *goquery.Document) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.CommentNode {
			n.Data = m.comments.Localize(ctx, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range d.Nodes {
		walk(n)
	}
}

func (m *MarkupRewriter) localizeImages(_ context.Context, d *goquery.Document) {
	d.Find("img, input").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		if n.DataAtom == atom.Input && !strings.EqualFold(strings.TrimSpace(s.AttrOr("type", "")), "image") {
			return
		}
		m.localizeAttr(n, "src", CategoryImage)
	})
	d.Find("object[data]").Each(func(_ int, s *goquery.Selection) {
		m.localizeAttr(s.Get(0), "data", CategoryFlash)
	})
	d.Find("embed[src]").Each(func(_ int, s *goquery.Selection) {
		m.localizeAttr(s.Get(0), "src", CategoryFlash)
	})
}

func (m *MarkupRewriter) localizeFavicons(_ context.Context, d *goquery.Document) {
	d.Find("link[rel]").Each(func(_ int, s *goquery.Selection) {
		if strings.Contains(strings.ToLower(s.AttrOr("rel", "")), "icon") {
			m.localizeAttr(s.Get(0), "href", CategoryImage)
		}
	})

	// Browsers request /favicon.ico on their own; keep it next to the index.
	if f, ok := m.staging.Release(faviconName); ok {
		if err := m.store.Adopt(faviconName, f.Path); err != nil {
			m.rep.addErr(RewriteFailure, faviconName, err)
		}
	}
}

const faviconName = "favicon.ico"

func (m *MarkupRewriter) localizeInlineStyles(_ context.Context, d *goquery.Document) {
	d.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		for i, a := range n.Attr {
			if a.Key == "style" && a.Namespace == "" {
				n.Attr[i].Val = m.styles.Rewrite(a.Val, "./")
			}
		}
	})
}

// localizeStylesheets relocates linked stylesheets and gathers every one of
// them, in document order, at the end of <head>.
func (m *MarkupRewriter) localizeStylesheets(_ context.Context, d *goquery.Document) {
	head := d.Find("head").First()
	d.Find("link[rel]").Each(func(_ int, s *goquery.Selection) {
		if !strings.EqualFold(strings.TrimSpace(s.AttrOr("rel", "")), "stylesheet") {
			return
		}
		n := s.Get(0)
		m.localizeAttr(n, "href", CategoryStyle)
		if head.Length() > 0 {
			removeNode(n)
			head.Get(0).AppendChild(n)
		}
	})
}

func (m *MarkupRewriter) rewriteStyleFiles(_ context.Context, _ *goquery.Document) {
	m.rewriteCategoryFiles(CategoryStyle)
}

func (m *MarkupRewriter) localizeScripts(_ context.Context, d *goquery.Document) {
	d.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		m.localizeAttr(s.Get(0), "src", CategoryScript)
	})
	m.rewriteCategoryFiles(CategoryScript)
}

// rewriteCategoryFiles runs the matching FileRewriter over every file in the
// directory of cat. Each rewriter skips files it already processed.
func (m *MarkupRewriter) rewriteCategoryFiles(cat Category) {
	files, err := m.store.List(m.cfg.Dir(cat))
	if err != nil {
		m.rep.addErr(RewriteFailure, m.cfg.Dir(cat), err)
		return
	}
	for _, f := range files {
		rw := DetectRewriter(f, cat, m.styles, m.scripts)
		if rw == nil {
			continue
		}
		if err := rw.RewriteFile(f); err != nil {
			m.rep.addErr(RewriteFailure, f, err)
		}
	}
}

// localizeAttr relocates the resource named by attribute key of n and points
// the attribute at its new location. Misses leave the attribute untouched.
func (m *MarkupRewriter) localizeAttr(n *html.Node, key string, cat Category) {
	for i, a := range n.Attr {
		if a.Key != key || a.Namespace != "" {
			continue
		}
		if res, ok := m.rel.Localize(a.Val, cat); ok && a.Val != "./"+res.URL() {
			n.Attr[i].Val = "./" + res.URL()
		}
		return
	}
}

// replaceNode puts repl where old was and detaches old.
func replaceNode(old, repl *html.Node) {
	if old.Parent == nil {
		return
	}
	old.Parent.InsertBefore(repl, old)
	old.Parent.RemoveChild(old)
}

// removeNode detaches a node from the tree.
func removeNode(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

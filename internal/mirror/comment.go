package mirror

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	reCommentLink   = regexp.MustCompile(`link.*?href=['"](.*?)['"]`)
	reCommentScript = regexp.MustCompile(`script.*?src=['"](.*?)['"]`)
	reCommentImg    = regexp.MustCompile(`img.*?src=['"](.*?)['"]`)
)

var commentPatterns = []tagPattern{
	{reCommentLink, CategoryStyle},
	{reCommentScript, CategoryScript},
	{reCommentImg, CategoryImage},
}

// CommentLocalizer handles markup hidden in comments, such as conditional
// stylesheets. The bulk fetch never looks inside comments, so these files
// are downloaded directly.
type CommentLocalizer struct {
	cfg     Config
	page    *url.URL
	fetcher Fetcher
	store   Storage
	rep     *Report
}

// NewCommentLocalizer returns a CommentLocalizer resolving references
// against page.
func NewCommentLocalizer(cfg Config, page *url.URL, fetcher Fetcher, store Storage, rep *Report) *CommentLocalizer {
	return &CommentLocalizer{cfg: cfg, page: page, fetcher: fetcher, store: store, rep: rep}
}

// Localize returns text with each local reference replaced by the path of
// its downloaded copy, or by its absolute URL when the download failed.
func (c *CommentLocalizer) Localize(ctx context.Context, text string) string {
	return replaceRefs(text, commentPatterns, func(ref string, cat Category) (string, bool) {
		if strings.TrimSpace(ref) == "" || !IsLocal(ref) || IsDataURI(ref) {
			return "", false
		}
		if Classify(ref) == Unclassifiable {
			c.rep.addErr(ClassificationFailure, ref, ErrUnclassifiable)
			return "", false
		}
		return c.fetch(ctx, ref, cat), true
	})
}

// fetch downloads ref into the directory of cat and returns its new
// reference.
func (c *CommentLocalizer) fetch(ctx context.Context, ref string, cat Category) string {
	abs := Qualify(c.page, ref)
	name := commentFileName(ref)
	if name == "" {
		c.rep.add(NetworkFetchFailure, abs, "no usable file name")
		return abs
	}
	data, err := c.fetcher.Get(ctx, abs)
	if err != nil {
		c.rep.addErr(NetworkFetchFailure, abs, err)
		return abs
	}
	dst := Relocated{Category: cat, Dir: c.cfg.Dir(cat), Name: name}
	if err := c.store.PutBytes(dst.Path(), data); err != nil {
		c.rep.addErr(RewriteFailure, dst.Path(), err)
		return abs
	}
	return "./" + dst.URL()
}

// commentFileName derives a safe file name from the path part of ref.
func commentFileName(ref string) string {
	p := percentDecode(html.UnescapeString(ref))
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	base := path.Base(p)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return sanitizeSegment(base)
}

package mirror

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	reScriptSrc = regexp.MustCompile(`script.*?src=['"](.*?)['"]`)
	reLinkHref  = regexp.MustCompile(`link.*?rel=['"].*?['"].*?href=['"](.*?)['"]`)
	reImgSrc    = regexp.MustCompile(`img.*?src=['"](.*?)['"]`)

	scriptGuards = strings.NewReplacer(
		"//<![CDATA[", "",
		"//]]>", "",
		"//-->", "",
		"<!--", "",
		"-->", "",
	)
)

// tagPattern pairs a tag-like pattern found in text with the category its
// reference belongs to.
type tagPattern struct {
	re  *regexp.Regexp
	cat Category
}

var markupPatterns = []tagPattern{
	{reScriptSrc, CategoryScript},
	{reLinkHref, CategoryStyle},
	{reImgSrc, CategoryImage},
}

// ScriptRewriter localizes markup written out from script text, such as
// document.write('<script src="x.js"></script>'). URLs assembled at runtime
// are out of its reach.
type ScriptRewriter struct {
	cfg   Config
	rel   *Relocator
	store Storage
	done  map[string]bool
}

// NewScriptRewriter returns a ScriptRewriter relocating through rel and
// rewriting files held in store.
func NewScriptRewriter(cfg Config, rel *Relocator, store Storage) *ScriptRewriter {
	return &ScriptRewriter{cfg: cfg, rel: rel, store: store, done: make(map[string]bool)}
}

// Rewrite returns js with guard tokens stripped and every local tag
// reference relocated by basename and rewritten with prefix.
func (s *ScriptRewriter) Rewrite(js, prefix string) string {
	js = scriptGuards.Replace(js)

	return strings.TrimSpace(replaceRefs(js, markupPatterns, func(ref string, cat Category) (string, bool) {
		if ref == "" || !IsLocal(ref) || IsDataURI(ref) {
			return "", false
		}
		res, ok := s.rel.LocalizeBase(ref, cat)
		if !ok {
			return "", false
		}
		return prefix + res.URL(), true
	}))
}

// RewriteFile rewrites the script stored at path in place, once per run.
func (s *ScriptRewriter) RewriteFile(path string) error {
	if s.done[path] {
		return nil
	}
	s.done[path] = true
	data, err := s.store.Get(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	out := s.Rewrite(string(data), "../")
	if out == string(data) {
		return nil
	}
	return s.store.PutBytes(path, []byte(out))
}

// replaceRefs rewrites the reference captured by group 1 of every match of
// patterns in s. fn is called once per distinct reference, with the
// category of the first pattern it was seen under; false keeps the text.
// Where matches of different patterns overlap the earlier one wins.
func replaceRefs(s string, patterns []tagPattern, fn func(ref string, cat Category) (string, bool)) string {
	type span struct {
		start, end int
		cat        Category
	}
	var spans []span
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(s, -1) {
			if loc[2] >= 0 {
				spans = append(spans, span{loc[2], loc[3], p.cat})
			}
		}
	}
	if len(spans) == 0 {
		return s
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	type result struct {
		repl string
		ok   bool
	}
	memo := make(map[string]result)
	var b strings.Builder
	last, changed := 0, false
	for _, sp := range spans {
		if sp.start < last {
			continue
		}
		ref := s[sp.start:sp.end]
		r, seen := memo[ref]
		if !seen {
			r.repl, r.ok = fn(ref, sp.cat)
			memo[ref] = r
		}
		if !r.ok {
			continue
		}
		b.WriteString(s[last:sp.start])
		b.WriteString(r.repl)
		last, changed = sp.end, true
	}
	if !changed {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

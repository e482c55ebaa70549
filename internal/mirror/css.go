package mirror

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

var (
	reImportURL    = regexp.MustCompile(`(?i)@import\s+url\(\s*['"]?([^'")]*?)['"]?\s*\)`)
	reImportQuoted = regexp.MustCompile(`(?i)@import\s+(?:"([^"]*)"|'([^']*)')`)
	reURL          = regexp.MustCompile(`(?i)url\(\s*['"]?([^'")]*?)['"]?\s*\)`)
	reAtImportTail = regexp.MustCompile(`(?i)@import\s*$`)

	cssGuards = strings.NewReplacer("//-->", "", "<!--", "", "-->", "")
)

// StyleRewriter localizes the resources a stylesheet refers to.
type StyleRewriter struct {
	cfg   Config
	rel   *Relocator
	store Storage
	rep   *Report
	done  map[string]bool
}

// NewStyleRewriter returns a StyleRewriter relocating through rel and
// rewriting files held in store.
func NewStyleRewriter(cfg Config, rel *Relocator, store Storage, rep *Report) *StyleRewriter {
	return &StyleRewriter{cfg: cfg, rel: rel, store: store, rep: rep, done: make(map[string]bool)}
}

// Rewrite returns css with every local @import and url() reference relocated
// and rewritten. prefix is "./" for text living at the mirror root and "../"
// for text inside a category directory.
func (s *StyleRewriter) Rewrite(css, prefix string) string {
	css = replaceMatches(reImportURL, css, func(m []string, _ string) (string, bool) {
		return s.rewriteImport(m[1])
	})
	css = replaceMatches(reImportQuoted, css, func(m []string, _ string) (string, bool) {
		return s.rewriteImport(m[1] + m[2])
	})
	css = replaceMatches(reURL, css, func(m []string, before string) (string, bool) {
		if len(before) > 64 {
			before = before[len(before)-64:]
		}
		if reAtImportTail.MatchString(before) {
			return "", false
		}
		return s.rewriteURL(m[1], prefix)
	})

	css = cssGuards.Replace(css)
	css = toASCII(css)
	return strings.TrimRight(strings.TrimSpace(css), "?")
}

func (s *StyleRewriter) rewriteImport(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	res, ok := s.rel.Localize(ref, CategoryStyle)
	if !ok {
		return "", false
	}
	if err := s.RewriteFile(res.Path()); err != nil {
		s.rep.addErr(RewriteFailure, res.Path(), err)
	}
	return `@import url("` + escapeName(res.Name) + res.Suffix + `")`, true
}

func (s *StyleRewriter) rewriteURL(ref, prefix string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || IsDataURI(ref) || !IsLocal(ref) {
		return "", false
	}
	var (
		res Relocated
		ok  bool
	)
	if cat, iefix := CategoryForExtension(resourceExtension(ref)); iefix {
		res, ok = s.rel.LocalizeIEFix(ref)
	} else {
		res, ok = s.rel.Localize(ref, cat)
	}
	if !ok {
		return "", false
	}
	return `url("` + prefix + res.URL() + `")`, true
}

// RewriteFile rewrites the stylesheet stored at path in place, once per run.
func (s *StyleRewriter) RewriteFile(path string) error {
	if s.done[path] {
		return nil
	}
	s.done[path] = true
	data, err := s.store.Get(path)
	if err != nil {
		return fmt.Errorf("read stylesheet: %w", err)
	}
	out := s.Rewrite(string(data), "../")
	if out == string(data) {
		return nil
	}
	return s.store.PutBytes(path, []byte(out))
}

// replaceMatches substitutes every match of re in s with the result of fn.
// fn receives the submatches and the text preceding the match; returning
// false keeps the match as written.
func replaceMatches(re *regexp.Regexp, s string, fn func(m []string, before string) (string, bool)) string {
	idx := re.FindAllStringSubmatchIndex(s, -1)
	if idx == nil {
		return s
	}
	var b strings.Builder
	last := 0
	for _, loc := range idx {
		m := make([]string, len(loc)/2)
		for i := range m {
			if loc[2*i] >= 0 {
				m[i] = s[loc[2*i]:loc[2*i+1]]
			}
		}
		b.WriteString(s[last:loc[0]])
		if repl, ok := fn(m, s[:loc[0]]); ok {
			b.WriteString(repl)
		} else {
			b.WriteString(m[0])
		}
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// toASCII decodes s from its best-guess charset and writes every non-ASCII
// rune as a CSS hex escape, so the result is plain single-byte text.
func toASCII(s string) string {
	if !utf8.ValidString(s) {
		enc, _, _ := charset.DetermineEncoding([]byte(s), "text/css")
		if decoded, _, err := transform.String(enc.NewDecoder(), s); err == nil {
			s = decoded
		}
	}
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for _, r := range s {
		switch {
		case r == '\uFEFF':
		case r < utf8.RuneSelf:
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "\\%x ", r)
		}
	}
	return b.String()
}

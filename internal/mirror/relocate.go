package mirror

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var (
	ErrDataURI        = errors.New("data URI")
	ErrExternal       = errors.New("external URL")
	ErrUnclassifiable = errors.New("unclassifiable URL")
	ErrNotStaged      = errors.New("no staged file")
	ErrAlreadyClaimed = errors.New("staged file already claimed")
)

// Relocated is where a staged file ended up inside the mirror.
type Relocated struct {
	Category Category
	Dir      string // category directory relative to the mirror root
	Name     string // file name inside Dir
	Suffix   string // query or fragment of the reference not part of Name
}

// Path is the logical storage path of the file.
func (r Relocated) Path() string {
	return r.Dir + "/" + r.Name
}

// URL is the reference to the file from the mirror root, without prefix.
func (r Relocated) URL() string {
	return r.Dir + "/" + escapeName(r.Name) + r.Suffix
}

// Relocator moves staged files into category directories. Every staged
// file is claimed at most once per run.
type Relocator struct {
	cfg     Config
	staging *Staging
	store   Storage
	report  *Report
	log     *zap.Logger
	claimed map[string]Relocated
}

// NewRelocator returns a Relocator moving files from staging into store.
func NewRelocator(cfg Config, staging *Staging, store Storage, report *Report) *Relocator {
	return &Relocator{
		cfg:     cfg,
		staging: staging,
		store:   store,
		report:  report,
		log:     cfg.logger(),
		claimed: make(map[string]Relocated),
	}
}

// Relocate claims the staged file rawRef refers to and moves it into the
// directory of cat. Candidates are tried in order: the decoded reference,
// the reference cut at '#', then cut at '?'; the part cut off is kept in
// Suffix. If the matching file was claimed earlier, ErrAlreadyClaimed is
// returned along with that claim.
func (r *Relocator) Relocate(rawRef string, cat Category) (Relocated, error) {
	return r.relocate(rawRef, cat, nil)
}

// ClaimBase relocates the staged file named after the basename of rawRef
// only. Script text tends to mention bare file names.
func (r *Relocator) ClaimBase(rawRef string, cat Category) (Relocated, error) {
	return r.Relocate(path.Base(strings.TrimSpace(rawRef)), cat)
}

// ClaimIEFix relocates a legacy "font.eot.1" fallback font. The file is
// stored without the ".1" and referenced with an "#iefix" fragment.
func (r *Relocator) ClaimIEFix(rawRef string) (Relocated, error) {
	res, err := r.relocate(rawRef, CategoryFont, func(name string) string {
		return strings.TrimSuffix(name, ".1")
	})
	if err == nil || errors.Is(err, ErrAlreadyClaimed) {
		res.Suffix = "#iefix"
	}
	return res, err
}

func (r *Relocator) relocate(rawRef string, cat Category, rename func(string) string) (Relocated, error) {
	ref := strings.TrimSpace(rawRef)
	if IsDataURI(ref) {
		return Relocated{}, ErrDataURI
	}
	if !IsLocal(ref) {
		return Relocated{}, ErrExternal
	}
	if Classify(ref) == Unclassifiable {
		return Relocated{}, ErrUnclassifiable
	}

	cands := candidateNames(ref)
	for _, c := range cands {
		if !r.staging.Has(c.name) {
			continue
		}
		res, err := r.claim(c.name, cat, rename)
		res.Suffix = c.suffix
		return res, err
	}
	for _, c := range cands {
		if prev, ok := r.claimed[c.name]; ok {
			prev.Suffix = c.suffix
			return prev, ErrAlreadyClaimed
		}
	}
	return Relocated{}, ErrNotStaged
}

func (r *Relocator) claim(name string, cat Category, rename func(string) string) (Relocated, error) {
	f, ok := r.staging.Release(name)
	if !ok {
		return Relocated{}, ErrNotStaged
	}
	dst := Relocated{Category: cat, Dir: r.cfg.Dir(cat), Name: name}
	if rename != nil {
		dst.Name = rename(name)
	}
	if err := r.store.Adopt(dst.Path(), f.Path); err != nil {
		return Relocated{}, fmt.Errorf("move %s: %w", name, err)
	}
	r.claimed[name] = dst
	r.log.Debug("relocated",
		zap.String("name", name),
		zap.String("path", dst.Path()),
		zap.String("category", cat.String()))
	return dst, nil
}

// Localize is Relocate as the rewriters use it: earlier claims are reused,
// references already pointing into the mirror resolve to the file they
// name, and misses are recorded in the report. ok is false whenever the
// reference must be left as written. Callers write prefix+URL() for the
// depth they rewrite at.
func (r *Relocator) Localize(rawRef string, cat Category) (Relocated, bool) {
	return r.localize(rawRef, cat, r.Relocate)
}

// LocalizeBase is Localize keyed on the basename of rawRef.
func (r *Relocator) LocalizeBase(rawRef string, cat Category) (Relocated, bool) {
	return r.localize(rawRef, cat, r.ClaimBase)
}

// LocalizeIEFix is Localize for "font.eot.1" fallback fonts.
func (r *Relocator) LocalizeIEFix(rawRef string) (Relocated, bool) {
	return r.localize(rawRef, CategoryFont, func(ref string, _ Category) (Relocated, error) {
		return r.ClaimIEFix(ref)
	})
}

func (r *Relocator) localize(rawRef string, cat Category, relocate func(string, Category) (Relocated, error)) (Relocated, bool) {
	if strings.TrimSpace(rawRef) == "" {
		return Relocated{}, false
	}
	if res, ok := r.mirrored(rawRef); ok {
		return res, true
	}
	res, err := relocate(rawRef, cat)
	switch {
	case err == nil, errors.Is(err, ErrAlreadyClaimed):
		return res, true
	case errors.Is(err, ErrDataURI), errors.Is(err, ErrExternal):
		return Relocated{}, false
	case errors.Is(err, ErrUnclassifiable):
		r.report.addErr(ClassificationFailure, rawRef, err)
	case errors.Is(err, ErrNotStaged):
		r.report.addErr(RelocationMiss, rawRef, err)
	default:
		r.report.addErr(RewriteFailure, rawRef, err)
	}
	return Relocated{}, false
}

// mirrored resolves a ./ or ../ reference into a category directory whose
// file is already present there, whatever depth it was written for.
func (r *Relocator) mirrored(rawRef string) (Relocated, bool) {
	ref := strings.TrimSpace(rawRef)
	switch {
	case strings.HasPrefix(ref, "../"):
		ref = ref[3:]
	case strings.HasPrefix(ref, "./"):
		ref = ref[2:]
	default:
		return Relocated{}, false
	}
	suffix := ""
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref, suffix = ref[:i], ref[i:]
	}
	dir, name, ok := strings.Cut(percentDecode(ref), "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return Relocated{}, false
	}
	cat, isCat := r.cfg.categoryOfDir(dir)
	if !isCat || !r.store.Exists(dir+"/"+name) {
		return Relocated{}, false
	}
	return Relocated{Category: cat, Dir: dir, Name: name, Suffix: suffix}, true
}

// candidate is a flat staging name together with the part of the
// reference it does not cover.
type candidate struct {
	name   string
	suffix string
}

// candidateNames lists the flat staging names rawRef may have been saved
// under, in lookup order and without duplicates.
func candidateNames(rawRef string) []candidate {
	raw := strings.TrimSpace(rawRef)
	decoded := html.UnescapeString(percentDecode(raw))
	cands := []candidate{{name: decoded}}
	if i := strings.Index(decoded, "#"); i >= 0 {
		cands = append(cands, candidate{decoded[:i], rawSuffix(raw, "#")})
	}
	if i := strings.Index(decoded, "?"); i >= 0 {
		cands = append(cands, candidate{decoded[:i], rawSuffix(raw, "?")})
	}

	var out []candidate
	seen := make(map[string]bool, len(cands))
	for _, c := range cands {
		name := flatName(c.name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, candidate{name, c.suffix})
	}
	return out
}

// rawSuffix returns raw from the first sep on, as written.
func rawSuffix(raw, sep string) string {
	if i := strings.Index(raw, sep); i >= 0 {
		return raw[i:]
	}
	return ""
}

// flatName keeps the last path segment of c plus any query or fragment
// suffix, matching how a directory-less fetch names its files.
func flatName(c string) string {
	p, suffix := c, ""
	if i := strings.IndexAny(c, "?#"); i >= 0 {
		p, suffix = c[:i], c[i:]
	}
	if p == "" {
		return ""
	}
	base := path.Base(p)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base + suffix
}

// percentDecode undoes %XX escapes, leaving '+' alone. Invalid escapes
// return the input unchanged.
func percentDecode(s string) string {
	if d, err := url.PathUnescape(s); err == nil {
		return d
	}
	return s
}

// escapeName turns a file name into a URL path segment; '?' '#' and '%'
// in staged names must not be read back as delimiters.
func escapeName(name string) string {
	return (&url.URL{Path: name}).EscapedPath()
}

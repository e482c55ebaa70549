package mirror

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelocateMovesStagedFile(t *testing.T) {
	env := newTestEnv(t, map[string]string{"logo.png": "PNG"})

	res, err := env.rel.Relocate("logo.png", CategoryImage)
	require.NoError(t, err)
	assert.Equal(t, Relocated{Category: CategoryImage, Dir: "img", Name: "logo.png"}, res)
	assert.Equal(t, "img/logo.png", res.URL())

	assert.Equal(t, "PNG", env.read(t, "img/logo.png"))
	assert.False(t, env.staging.Has("logo.png"))
	assert.NoFileExists(t, filepath.Join(env.staging.Dir(), "logo.png"))
}

func TestRelocateCandidateOrder(t *testing.T) {
	env := newTestEnv(t, map[string]string{"font.eot": "EOT"})

	res, err := env.rel.Relocate("../fonts/font.eot?#iefix", CategoryFont)
	require.NoError(t, err)
	assert.Equal(t, "fonts/font.eot", res.Path())
	assert.Equal(t, "fonts/font.eot?#iefix", res.URL())
}

func TestRelocateKeepsQueryInName(t *testing.T) {
	env := newTestEnv(t, map[string]string{"logo.png?v=3": "PNG", "logo.png": "OLD"})

	res, err := env.rel.Relocate("images/logo.png?v=3", CategoryImage)
	require.NoError(t, err)
	assert.Equal(t, "logo.png?v=3", res.Name)
	assert.Equal(t, "img/logo.png%3Fv=3", res.URL())
	assert.True(t, env.staging.Has("logo.png"))
}

func TestRelocateClaimsOnce(t *testing.T) {
	env := newTestEnv(t, map[string]string{"logo.png": "PNG"})

	first, err := env.rel.Relocate("logo.png", CategoryImage)
	require.NoError(t, err)

	second, err := env.rel.Relocate("/assets/logo.png", CategoryImage)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, first, second)
}

func TestRelocateRejects(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.png": ""})

	cases := map[string]error{
		"data:image/png;base64,AAAA": ErrDataURI,
		"http://example.com/a.png":   ErrExternal,
		"//example.com/a.png":        ErrExternal,
		"mailto:someone@example.com": ErrUnclassifiable,
		"missing.png":                ErrNotStaged,
	}
	for ref, want := range cases {
		_, err := env.rel.Relocate(ref, CategoryImage)
		if !errors.Is(err, want) {
			t.Errorf("Relocate(%q) error = %v, want %v", ref, err, want)
		}
	}
	assert.True(t, env.staging.Has("a.png"))
}

func TestClaimBaseUsesBasename(t *testing.T) {
	env := newTestEnv(t, map[string]string{"lib.js": "//"})

	res, err := env.rel.ClaimBase("http://example.com/static/lib.js", CategoryScript)
	require.NoError(t, err)
	assert.Equal(t, "js/lib.js", res.Path())
}

func TestLocalizeReportsMisses(t *testing.T) {
	env := newTestEnv(t, nil)

	_, ok := env.rel.Localize("missing.png", CategoryImage)
	assert.False(t, ok)
	_, ok = env.rel.Localize("javascript:void(0)", CategoryImage)
	assert.False(t, ok)
	_, ok = env.rel.Localize("data:image/gif;base64,R0lGOD", CategoryImage)
	assert.False(t, ok)
	_, ok = env.rel.Localize("https://cdn.example.com/a.png", CategoryImage)
	assert.False(t, ok)
	_, ok = env.rel.Localize("", CategoryImage)
	assert.False(t, ok)

	want := []Diagnostic{
		{Kind: RelocationMiss, Ref: "missing.png"},
		{Kind: ClassificationFailure, Ref: "javascript:void(0)"},
	}
	if diff := cmp.Diff(want, env.rep.Diagnostics(), cmpopts.IgnoreFields(Diagnostic{}, "Detail")); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalizeReusesClaim(t *testing.T) {
	env := newTestEnv(t, map[string]string{"logo.png": "PNG"})

	first, ok := env.rel.Localize("logo.png", CategoryImage)
	require.True(t, ok)
	second, ok := env.rel.Localize("logo.png", CategoryImage)
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.Empty(t, env.rep.Diagnostics())
}

func TestLocalizeResolvesMirroredReferences(t *testing.T) {
	env := newTestEnv(t, map[string]string{"logo.png": "PNG", "font.eot.1": "EOT"})
	_, ok := env.rel.Localize("logo.png", CategoryImage)
	require.True(t, ok)
	_, ok = env.rel.LocalizeIEFix("font.eot.1")
	require.True(t, ok)

	cases := map[string]string{
		"./img/logo.png":          "img/logo.png",
		"../img/logo.png":         "img/logo.png",
		"../img/logo.png?v=2":     "img/logo.png?v=2",
		"../fonts/font.eot#iefix": "fonts/font.eot#iefix",
	}
	for ref, want := range cases {
		res, ok := env.rel.Localize(ref, CategoryImage)
		if assert.True(t, ok, ref) {
			assert.Equal(t, want, res.URL(), ref)
		}
	}
	res, _ := env.rel.Localize("../fonts/font.eot", CategoryImage)
	assert.Equal(t, CategoryFont, res.Category)

	_, ok = env.rel.Localize("../img/other.png", CategoryImage)
	assert.False(t, ok)
	assert.Equal(t, []Kind{RelocationMiss}, env.kinds())
}

func TestRelocateKeepsCutSuffix(t *testing.T) {
	env := newTestEnv(t, map[string]string{"font.eot": "EOT", "font.svg": "SVG"})

	res, err := env.rel.Relocate("font.eot?#iefix", CategoryFont)
	require.NoError(t, err)
	assert.Equal(t, "fonts/font.eot?#iefix", res.URL())

	res, err = env.rel.Relocate("font.svg#MyFont", CategoryFont)
	require.NoError(t, err)
	assert.Equal(t, "fonts/font.svg#MyFont", res.URL())

	res, err = env.rel.Relocate("font.svg?v=1", CategoryFont)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, "fonts/font.svg?v=1", res.URL())
}

func TestClaimIEFixDropsCounterSuffix(t *testing.T) {
	env := newTestEnv(t, map[string]string{"font.eot.1": "EOT"})

	res, err := env.rel.ClaimIEFix("font.eot.1")
	require.NoError(t, err)
	assert.Equal(t, "fonts/font.eot", res.Path())
	assert.Equal(t, "fonts/font.eot#iefix", res.URL())
	assert.Equal(t, "EOT", env.read(t, "fonts/font.eot"))

	again, err := env.rel.ClaimIEFix("../font.eot.1")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, res, again)
}

func TestCandidateNames(t *testing.T) {
	cases := []struct {
		in   string
		want []candidate
	}{
		{"logo.png", []candidate{{"logo.png", ""}}},
		{"img/my%20logo.png", []candidate{{"my logo.png", ""}}},
		{"a.css?v=1", []candidate{{"a.css?v=1", ""}, {"a.css", "?v=1"}}},
		{"a.eot?#iefix", []candidate{{"a.eot?#iefix", ""}, {"a.eot?", "#iefix"}, {"a.eot", "?#iefix"}}},
		{"b.png#x", []candidate{{"b.png#x", ""}, {"b.png", "#x"}}},
		{"Tom&amp;Jerry.png", []candidate{{"Tom&Jerry.png", ""}}},
		{"/", nil},
	}
	for _, tc := range cases {
		if diff := cmp.Diff(tc.want, candidateNames(tc.in), cmp.AllowUnexported(candidate{})); diff != "" {
			t.Errorf("candidateNames(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

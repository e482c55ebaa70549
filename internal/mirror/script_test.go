package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptRewriteDocumentWrite(t *testing.T) {
	env := newTestEnv(t, map[string]string{"lib.js": "//", "pic.jpg": "JPG", "extra.css": "a{}"})
	s := NewScriptRewriter(env.cfg, env.rel, env.store)

	js := `document.write('<script src="static/lib.js"></script>');
document.write('<img src="pic.jpg">');
document.write('<link rel="stylesheet" href="extra.css">');`
	want := `document.write('<script src="./js/lib.js"></script>');
document.write('<img src="./img/pic.jpg">');
document.write('<link rel="stylesheet" href="./css/extra.css">');`
	assert.Equal(t, want, s.Rewrite(js, "./"))
	assert.Equal(t, "JPG", env.read(t, "img/pic.jpg"))
}

func TestScriptRewriteStripsGuards(t *testing.T) {
	env := newTestEnv(t, nil)
	s := NewScriptRewriter(env.cfg, env.rel, env.store)

	assert.Equal(t, "var a = 1;", s.Rewrite("//<![CDATA[\nvar a = 1;\n//]]>", "./"))
	assert.Equal(t, "var b = 2;", s.Rewrite("<!--\nvar b = 2;\n//-->", "./"))
}

func TestScriptRewriteLeavesExternal(t *testing.T) {
	env := newTestEnv(t, nil)
	s := NewScriptRewriter(env.cfg, env.rel, env.store)

	js := `document.write('<script src="https://cdn.example.com/a.js"></script>');`
	assert.Equal(t, js, s.Rewrite(js, "./"))
	assert.Empty(t, env.rep.Diagnostics())
}

func TestScriptRewriteFile(t *testing.T) {
	env := newTestEnv(t, map[string]string{"pic.jpg": "JPG"})
	s := NewScriptRewriter(env.cfg, env.rel, env.store)
	require.NoError(t, env.store.PutBytes("js/app.js", []byte(`x.innerHTML = '<img src="pic.jpg">';`)))

	require.NoError(t, s.RewriteFile("js/app.js"))
	assert.Equal(t, `x.innerHTML = '<img src="../img/pic.jpg">';`, env.read(t, "js/app.js"))
}

func TestScriptRewriteOnlyTouchesTagReferences(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.js": "//"})
	s := NewScriptRewriter(env.cfg, env.rel, env.store)

	js := `var f = "data.js"; document.write('<script src="a.js"></script>'); load("a.js");`
	want := `var f = "data.js"; document.write('<script src="./js/a.js"></script>'); load("a.js");`
	assert.Equal(t, want, s.Rewrite(js, "./"))
}

func TestReplaceRefs(t *testing.T) {
	calls := map[string]int{}
	fn := func(ref string, _ Category) (string, bool) {
		calls[ref]++
		return "X/" + ref, ref != "keep.png"
	}
	text := `<img src="a.png"> a.png <img src="a.png"> <img src="keep.png">`
	got := replaceRefs(text, markupPatterns, fn)

	assert.Equal(t, `<img src="X/a.png"> a.png <img src="X/a.png"> <img src="keep.png">`, got)
	assert.Equal(t, map[string]int{"a.png": 1, "keep.png": 1}, calls)
	assert.Equal(t, "no tags", replaceRefs("no tags", markupPatterns, fn))
}

func TestDetectRewriter(t *testing.T) {
	env := newTestEnv(t, nil)
	styles := NewStyleRewriter(env.cfg, env.rel, env.store, env.rep)
	scripts := NewScriptRewriter(env.cfg, env.rel, env.store)

	assert.Equal(t, FileRewriter(styles), DetectRewriter("css/a.css", CategoryStyle, styles, scripts))
	assert.Equal(t, FileRewriter(scripts), DetectRewriter("js/a.js", CategoryScript, styles, scripts))
	assert.Equal(t, FileRewriter(scripts), DetectRewriter("js/a.JS?v=2", CategoryScript, styles, scripts))
	assert.Nil(t, DetectRewriter("js/pie.htc", CategoryScript, styles, scripts))
	assert.Nil(t, DetectRewriter("img/a.png", CategoryImage, styles, scripts))
}

package mirror

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		want PathType
	}{
		{"http://example.com/a.png", Absolute},
		{"HTTPS://example.com/a.png", Absolute},
		{"//cdn.example.com/lib.js", Absolute},
		{"/img/a.png", SiteRelative},
		{"./a.png", DocumentRelative},
		{"../css/a.css", DocumentRelative},
		{"logo.png", DocumentRelative},
		{"img/logo.png?v=2", DocumentRelative},
		{"", Unclassifiable},
		{"   ", Unclassifiable},
		{"mailto:someone@example.com", Unclassifiable},
		{"javascript:void(0)", Unclassifiable},
		{"data:image/png;base64,AAAA", Unclassifiable},
		{"?page=2", Unclassifiable},
		{"#top", Unclassifiable},
		{"%zz.png", Unclassifiable},
	}
	for _, tc := range cases {
		if got := Classify(tc.in); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestIsLocal(t *testing.T) {
	cases := map[string]bool{
		"logo.png":                 true,
		"/img/logo.png":            true,
		"../fonts/a.woff":          true,
		"http://example.com/a.png": false,
		"HTTPS://example.com/a":    false,
		"//cdn.example.com/a.js":   false,
		" http://example.com/a":    false,
	}
	for in, want := range cases {
		assert.Equal(t, want, IsLocal(in), in)
	}
}

func TestIsDataURI(t *testing.T) {
	assert.True(t, IsDataURI("data:image/gif;base64,R0lGOD"))
	assert.True(t, IsDataURI(" DATA:text/plain,hi"))
	assert.False(t, IsDataURI("img/data.png"))
}

func TestQualify(t *testing.T) {
	base, err := url.Parse("http://user:pw@example.com:8080/dir/page.html?a=1#frag")
	require.NoError(t, err)

	cases := []struct {
		override string
		want     string
	}{
		{"styles.css", "http://user:pw@example.com:8080/dir/styles.css?a=1#frag"},
		{"/x.css?v=2", "http://user:pw@example.com:8080/x.css?v=2#frag"},
		{"../up.css#top", "http://user:pw@example.com:8080/up.css?a=1#top"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Qualify(base, tc.override), tc.override)
	}
}

func TestQualifyOmitsEmptyParts(t *testing.T) {
	base, err := url.Parse("https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/css/ie.css", Qualify(base, "css/ie.css"))

	noPath, err := url.Parse("https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/ie.css", Qualify(noPath, "ie.css"))
}

func TestCategoryForExtension(t *testing.T) {
	cases := []struct {
		ext   string
		cat   Category
		iefix bool
	}{
		{"eot", CategoryFont, false},
		{"otf", CategoryFont, false},
		{"svg", CategoryFont, false},
		{"ttf", CategoryFont, false},
		{"woff", CategoryFont, false},
		{"WOFF", CategoryFont, false},
		{"htc", CategoryScript, false},
		{"js", CategoryScript, false},
		{"xml", CategoryScript, false},
		{"php", CategoryScript, false},
		{"1", CategoryFont, true},
		{"png", CategoryImage, false},
		{"gif", CategoryImage, false},
		{"", CategoryImage, false},
	}
	for _, tc := range cases {
		cat, iefix := CategoryForExtension(tc.ext)
		if cat != tc.cat || iefix != tc.iefix {
			t.Errorf("CategoryForExtension(%q) = (%s, %v), want (%s, %v)", tc.ext, cat, iefix, tc.cat, tc.iefix)
		}
	}
}

func TestResourceExtension(t *testing.T) {
	assert.Equal(t, "woff", resourceExtension("../fonts/a.woff?v=1"))
	assert.Equal(t, "eot", resourceExtension("a.eot?#iefix"))
	assert.Equal(t, "1", resourceExtension("a.eot.1"))
	assert.Equal(t, "png", resourceExtension("my%20logo.png"))
	assert.Equal(t, "", resourceExtension("noext"))
}

func TestNormalizePageURL(t *testing.T) {
	p, err := NormalizePageURL("www.example.com/about")
	require.NoError(t, err)
	assert.Equal(t, "https://www.example.com/about", p.URL.String())
	assert.Equal(t, "example.com", p.BareHost)

	p, err = NormalizePageURL("http://example.com")
	require.NoError(t, err)
	assert.Equal(t, "/", p.URL.Path)

	p, err = NormalizePageURL("https://www.пример.рф:8080/о-нас")
	require.NoError(t, err)
	assert.Equal(t, "www.xn--e1afmkfd.xn--p1ai:8080", p.URL.Host)
	assert.Equal(t, "xn--e1afmkfd.xn--p1ai", p.BareHost)

	p, err = NormalizePageURL("http://My_Host.local/")
	require.NoError(t, err)
	assert.Equal(t, "My_Host.local", p.URL.Host)

	for _, bad := range []string{"", "ftp://example.com/", "https:///nohost"} {
		_, err := NormalizePageURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestIsHTMLFile(t *testing.T) {
	assert.True(t, IsHTMLFile("index.html"))
	assert.True(t, IsHTMLFile("about.HTM"))
	assert.True(t, IsHTMLFile("page.shtml"))
	assert.False(t, IsHTMLFile("style.css"))
	assert.False(t, IsHTMLFile("html"))
}

func TestSanitizeSegment(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"styles.css", "styles.css"},
		{"jquery.min.js", "jquery.min.js"},
		{"ie 7.css", "ie7.css"},
		{"no-ext", "no-ext"},
		{"..", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sanitizeSegment(tc.in), tc.in)
	}
}

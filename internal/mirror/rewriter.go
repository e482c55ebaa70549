package mirror

import (
	"path"
	"strings"
)

// FileRewriter rewrites the content of a relocated file in place.
type FileRewriter interface {
	RewriteFile(logicalPath string) error
}

// DetectRewriter returns the FileRewriter for a file relocated into cat, or
// nil when its content is left opaque. Script-category files that are not
// JavaScript (.htc, .xml, .php pulled from stylesheets) are never parsed.
func DetectRewriter(logicalPath string, cat Category, styles *StyleRewriter, scripts *ScriptRewriter) FileRewriter {
	switch cat {
	case CategoryStyle:
		return styles
	case CategoryScript:
		name := logicalPath
		if i := strings.IndexAny(name, "?#"); i >= 0 {
			name = name[:i]
		}
		if strings.EqualFold(path.Ext(name), ".js") {
			return scripts
		}
	}
	return nil
}

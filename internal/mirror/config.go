package mirror

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Category is the destination bucket of a relocated asset.
type Category int

const (
	CategoryScript Category = iota
	CategoryStyle
	CategoryFont
	CategoryFlash
	CategoryImage
)

// Categories lists every category in directory-creation order.
var Categories = []Category{CategoryScript, CategoryStyle, CategoryFont, CategoryFlash, CategoryImage}

func (c Category) String() string {
	switch c {
	case CategoryScript:
		return "script"
	case CategoryStyle:
		return "style"
	case CategoryFont:
		return "font"
	case CategoryFlash:
		return "flash"
	case CategoryImage:
		return "image"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Config holds all runtime configuration for one mirror run. Components copy
// it at construction and never mutate it.
type Config struct {
	Root       string `yaml:"root"`
	StagingDir string `yaml:"staging_dir"`
	IndexFile  string `yaml:"index_file"`

	ScriptDir string `yaml:"script_dir"`
	StyleDir  string `yaml:"style_dir"`
	FontDir   string `yaml:"font_dir"`
	FlashDir  string `yaml:"flash_dir"`
	ImageDir  string `yaml:"image_dir"`

	WgetPath        string   `yaml:"wget_path"`
	UserAgent       string   `yaml:"user_agent"`
	ExcludedDomains []string `yaml:"excluded_domains"`
	User            string   `yaml:"-"`
	Password        string   `yaml:"-"`

	Timeout          time.Duration `yaml:"timeout"`            // whole-run watchdog, 0 disables
	CommentFetchRate int           `yaml:"comment_fetch_rate"` // requests per minute, 0 = unlimited
	Threads          int           `yaml:"threads"`            // batch mode only
	Debug            bool          `yaml:"debug"`

	Logger *zap.Logger `yaml:"-"` // if nil, zap.NewNop() is used
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Root:       "./files",
		StagingDir: "tmp",
		IndexFile:  "index.html",
		ScriptDir:  "js",
		StyleDir:   "css",
		FontDir:    "fonts",
		FlashDir:   "flash",
		ImageDir:   "img",
		WgetPath:   "/usr/bin/wget",
		UserAgent:  "Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/32.0.1700.76 Safari/537.36",
		ExcludedDomains: []string{
			"fonts.googleapis.com", "maps.googleapis.com", "fast.fonts.com", "use.typekit.net",
		},
		Threads: 3,
	}
}

// LoadConfig overlays the YAML file at path onto DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first setting that makes a run impossible.
func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root directory is empty")
	}
	if c.StagingDir == "" {
		return fmt.Errorf("staging directory is empty")
	}
	if c.IndexFile == "" {
		return fmt.Errorf("index file name is empty")
	}
	seen := make(map[string]Category)
	for _, cat := range Categories {
		dir := c.Dir(cat)
		if dir == "" {
			return fmt.Errorf("%s directory is empty", cat)
		}
		if prev, ok := seen[dir]; ok {
			return fmt.Errorf("%s and %s share directory %q", prev, cat, dir)
		}
		if dir == c.StagingDir {
			return fmt.Errorf("%s directory collides with staging directory %q", cat, dir)
		}
		seen[dir] = cat
	}
	if c.Threads <= 0 {
		return fmt.Errorf("threads must be greater than 0")
	}
	if c.CommentFetchRate < 0 {
		return fmt.Errorf("comment fetch rate must not be negative")
	}
	return nil
}

// Dir returns the directory, relative to Root, bound to cat.
func (c Config) Dir(cat Category) string {
	switch cat {
	case CategoryScript:
		return c.ScriptDir
	case CategoryStyle:
		return c.StyleDir
	case CategoryFont:
		return c.FontDir
	case CategoryFlash:
		return c.FlashDir
	case CategoryImage:
		return c.ImageDir
	}
	return ""
}

// categoryOfDir is the inverse of Dir.
func (c Config) categoryOfDir(dir string) (Category, bool) {
	for _, cat := range Categories {
		if c.Dir(cat) == dir {
			return cat, true
		}
	}
	return 0, false
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// BulkFetcher downloads a page and its requisites into a flat directory.
type BulkFetcher interface {
	FetchAll(ctx context.Context, pageURL, dir string) error
}

// FetchIncompleteError reports a bulk fetch that ran but did not finish
// cleanly; whatever it managed to stage is still usable.
type FetchIncompleteError struct {
	ExitCode int
	Output   string
}

func (e *FetchIncompleteError) Error() string {
	msg := fmt.Sprintf("wget exited with status %d", e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// WgetFetcher runs wget with page-requisite downloading and no directory
// hierarchy, so every file lands directly in the target directory.
type WgetFetcher struct {
	Path            string
	UserAgent       string
	DefaultPage     string
	ExcludedDomains []string
	User            string
	Password        string
}

// NewWgetFetcher builds a WgetFetcher from cfg.
func NewWgetFetcher(cfg Config) *WgetFetcher {
	return &WgetFetcher{
		Path:            cfg.WgetPath,
		UserAgent:       cfg.UserAgent,
		DefaultPage:     cfg.IndexFile,
		ExcludedDomains: cfg.ExcludedDomains,
		User:            cfg.User,
		Password:        cfg.Password,
	}
}

// Args returns the wget argument list for pageURL.
func (w *WgetFetcher) Args(pageURL, dir string) []string {
	args := []string{
		"--execute", "robots=off",
		"--quiet",
		"--tries=2",
		"--no-directories",
		"--directory-prefix=" + dir,
		"--default-page=" + w.DefaultPage,
		"--adjust-extension",
		"--no-cache",
		"--user-agent=" + w.UserAgent,
		"--no-check-certificate",
		"--convert-links",
		"--page-requisites",
		"--ignore-tags=iframe,embed",
		"--span-hosts",
	}
	if len(w.ExcludedDomains) > 0 {
		args = append(args, "--exclude-domains="+strings.Join(w.ExcludedDomains, ","))
	}
	if w.User != "" {
		args = append(args, "--user="+w.User)
	}
	if w.Password != "" {
		args = append(args, "--password="+w.Password)
	}
	return append(args, pageURL)
}

// FetchAll runs wget. A non-zero exit is returned as *FetchIncompleteError;
// failing to start wget at all is a plain error.
func (w *WgetFetcher) FetchAll(ctx context.Context, pageURL, dir string) error {
	cmd := exec.CommandContext(ctx, w.Path, w.Args(pageURL, dir)...) //nolint:gosec // G204: arguments are passed without a shell
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &FetchIncompleteError{ExitCode: exitErr.ExitCode(), Output: stderr.String()}
	}
	return fmt.Errorf("run %s: %w", w.Path, err)
}

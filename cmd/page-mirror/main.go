package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sigman78/page-mirror/internal/mirror"
)

const usageHeader = `Usage: page-mirror [options] url [url...]

Mirrors each page with its images, stylesheets, fonts, scripts and
embedded media into a self-contained local copy.

Options:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command and returns the process exit code: 0 on success
// (warnings allowed), 1 on a failed run, 2 on bad flags.
func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("page-mirror", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usageHeader)
		fs.PrintDefaults()
	}

	def := mirror.DefaultConfig()
	var (
		dirFlag     = fs.StringP("directory", "d", def.Root, "Mirror root directory")
		configFlag  = fs.StringP("config", "c", "", "YAML config file")
		userFlag    = fs.String("user", "", "HTTP user for the bulk fetch")
		passFlag    = fs.String("password", "", "HTTP password for the bulk fetch")
		wgetFlag    = fs.String("wget", def.WgetPath, "Path to the wget executable")
		uaFlag      = fs.String("user-agent", def.UserAgent, "User-Agent sent with every request")
		timeoutFlag = fs.Duration("timeout", def.Timeout, "Abort and discard a page run after this long (0 disables)")
		threadsFlag = fs.IntP("threads", "t", def.Threads, "Pages mirrored concurrently")
		rateFlag    = fs.Int("comment-rate", def.CommentFetchRate, "Requests per minute for resources found in comments (0 = unlimited)")
		reportFlag  = fs.String("report", "", "Write diagnostics as JSON to this file")
		debugFlag   = fs.Bool("debug", false, "Enable verbose debug logging")
		versionFlag = fs.Bool("version", false, "Print version and exit")
	)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *versionFlag {
		fmt.Fprintf(stdout, "page-mirror %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}

	cfg := def
	if *configFlag != "" {
		loaded, err := mirror.LoadConfig(*configFlag)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	// Explicit flags win over the config file.
	if fs.Changed("directory") {
		cfg.Root = *dirFlag
	}
	if fs.Changed("wget") {
		cfg.WgetPath = *wgetFlag
	}
	if fs.Changed("user-agent") {
		cfg.UserAgent = *uaFlag
	}
	if fs.Changed("timeout") {
		cfg.Timeout = *timeoutFlag
	}
	if fs.Changed("threads") {
		cfg.Threads = *threadsFlag
	}
	if fs.Changed("comment-rate") {
		cfg.CommentFetchRate = *rateFlag
	}
	if fs.Changed("debug") {
		cfg.Debug = *debugFlag
	}
	cfg.User, cfg.Password = *userFlag, *passFlag

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	urls := fs.Args()
	if len(urls) == 0 {
		fmt.Fprintln(stderr, "error: URL is required")
		fs.Usage()
		return 1
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(stderr, "error: logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	cfg.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		diags  []mirror.Diagnostic
		failed bool
	)
	if len(urls) == 1 {
		p, err := mirror.NewPipeline(cfg)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		res, err := p.Run(ctx, urls[0])
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		diags = res.Diagnostics
		fmt.Fprintf(stdout, "Mirrored %s into %s\n", urls[0], res.IndexPath)
	} else {
		var prog *mirror.Progress
		if !cfg.Debug {
			prog = mirror.NewBatchProgress(len(urls))
		}
		results, err := mirror.MirrorAll(ctx, cfg, urls, prog)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		for _, r := range results {
			if r.Err != nil {
				failed = true
				fmt.Fprintf(stderr, "error: %s: %v\n", r.URL, r.Err)
				continue
			}
			diags = append(diags, r.Result.Diagnostics...)
			fmt.Fprintf(stdout, "Mirrored %s into %s\n", r.URL, r.Result.IndexPath)
		}
	}

	if len(diags) > 0 {
		fmt.Fprintf(stdout, "%d warning(s)\n", len(diags))
	}
	if *reportFlag != "" {
		if err := writeReport(*reportFlag, diags); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
	}
	if failed {
		return 1
	}
	return 0
}

func newLogger(debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		zc.Development = true
	}
	return zc.Build()
}

func writeReport(path string, diags []mirror.Diagnostic) error {
	if diags == nil {
		diags = []mirror.Diagnostic{}
	}
	data, err := json.MarshalIndent(diags, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alvmarrod/douban-imdb/internal/browser"
	"github.com/alvmarrod/douban-imdb/internal/config"
	"github.com/alvmarrod/douban-imdb/internal/imdb"
	"github.com/alvmarrod/douban-imdb/internal/importer"
	"github.com/alvmarrod/douban-imdb/internal/metrics"
	"github.com/alvmarrod/douban-imdb/internal/movie"
	"github.com/alvmarrod/douban-imdb/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const usage = `Usage:
  importer [unmark | -2 | -1 | 0 | 1 | 2] [--config=path]

Replays the ratings in the exported CSV file onto IMDb.
  unmark     remove the ratings instead of applying them
  -2 .. 2    adjust every converted rating (rating*2 + adjust), default -1
  --config   path to the JSON configuration file (default config.json)
`

var errHelp = errors.New("help requested")

type importArgs struct {
	unmark     bool
	adjust     int
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "importer [unmark|-2..2]",
		Short: "Apply exported Douban ratings on IMDb",
		// "-1" is a positional value here, so flags are parsed by hand
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseArgs(args)
			if errors.Is(err, errHelp) {
				fmt.Fprint(cmd.OutOrStdout(), usage)
				return nil
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%v\n\n%s", err, usage)
				os.Exit(2)
			}
			return run(a, cmd.OutOrStdout())
		},
	}
}

func parseArgs(args []string) (importArgs, error) {
	a := importArgs{adjust: importer.DefaultAdjust, configPath: "config.json"}
	modeSet := false

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-h" || arg == "--help" || arg == "help":
			return importArgs{}, errHelp
		case arg == "--config":
			if i+1 >= len(args) {
				return importArgs{}, fmt.Errorf("--config needs a value")
			}
			i++
			a.configPath = args[i]
		case strings.HasPrefix(arg, "--config="):
			a.configPath = strings.TrimPrefix(arg, "--config=")
		default:
			if modeSet {
				return importArgs{}, fmt.Errorf("unexpected argument %q", arg)
			}
			modeSet = true
			if arg == "unmark" {
				a.unmark = true
				continue
			}
			n, err := strconv.Atoi(arg)
			if err != nil || n < importer.MinAdjust || n > importer.MaxAdjust || arg != strconv.Itoa(n) {
				return importArgs{}, fmt.Errorf("rating adjustment must be between %d and +%d (default %d), got %q",
					importer.MinAdjust, importer.MaxAdjust, importer.DefaultAdjust, arg)
			}
			a.adjust = n
		}
	}

	if a.configPath == "" {
		return importArgs{}, fmt.Errorf("--config cannot be empty")
	}
	return a, nil
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

func run(a importArgs, out io.Writer) error {
	setupLogging("info")
	logrus.Infof("IMDb importer v%s starting...", version.Version)

	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	setupLogging(cfg.LogLevel)

	if _, err := os.Stat(cfg.CSVPath); errors.Is(err, os.ErrNotExist) {
		logrus.Errorf("CSV file %s not found, export your Douban ratings with the exporter first", cfg.CSVPath)
		os.Exit(1)
	}
	records, err := movie.LoadFile(cfg.CSVPath)
	if err != nil {
		logrus.Fatalf("Failed to read %s: %v", cfg.CSVPath, err)
	}
	logrus.Infof("Loaded %d movies from %s", len(records), cfg.CSVPath)

	if a.unmark {
		logrus.Info("Mode: remove ratings")
	} else {
		logrus.Infof("Mode: apply ratings with adjustment %+d", a.adjust)
	}

	tracker := metrics.NewTracker()
	chrome := browser.New(browser.Options{Headless: false, Timeout: cfg.RequestTimeout()})
	defer chrome.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal stops after the current movie, a second one exits immediately
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		logrus.Warnf("Received signal (%v), stopping after the current movie. Press Ctrl+C again to force exit.", sig)
		cancel()

		sig = <-sigChan
		logrus.Warnf("Received second signal (%v) - forcing immediate exit!", sig)
		chrome.Close()
		if err := tracker.WriteToFile(cfg.MetricsPath, "interrupted"); err != nil {
			logrus.Errorf("Emergency metrics save failed: %v", err)
		}
		os.Exit(1)
	}()

	if err := chrome.Start(); err != nil {
		logrus.Errorf("Failed to start the browser: %v", err)
		logrus.Error("Check that Chrome or Chromium is installed and can be launched")
		return err
	}

	site := imdb.New(chrome, cfg.IMDbBaseURL, cfg.SearchSettle(), cfg.LoginTimeout())
	if err := site.Login(ctx); err != nil {
		logrus.Errorf("Login failed: %v", err)
		return err
	}

	applier := importer.New(site, importer.Options{
		Unmark: a.unmark,
		Adjust: a.adjust,
		Pause:  cfg.ItemPause(),
	}, tracker)

	report, err := applier.Apply(ctx, records)
	reason := "completed"
	switch {
	case errors.Is(err, context.Canceled):
		reason = "interrupted"
		logrus.Warn("Import interrupted, summary covers the movies processed so far")
	case err != nil:
		reason = "failed"
	}

	report.Render(out)

	if werr := tracker.WriteToFile(cfg.MetricsPath, reason); werr != nil {
		logrus.Errorf("Failed to write metrics: %v", werr)
	}
	if reason == "failed" {
		return err
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvmarrod/douban-imdb/internal/browser"
	"github.com/alvmarrod/douban-imdb/internal/challenge"
	"github.com/alvmarrod/douban-imdb/internal/config"
	"github.com/alvmarrod/douban-imdb/internal/douban"
	"github.com/alvmarrod/douban-imdb/internal/exporter"
	"github.com/alvmarrod/douban-imdb/internal/fetch"
	"github.com/alvmarrod/douban-imdb/internal/metrics"
	"github.com/alvmarrod/douban-imdb/internal/session"
	"github.com/alvmarrod/douban-imdb/internal/storage"
	"github.com/alvmarrod/douban-imdb/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// defaultStartDate predates every collection on the source site
const defaultStartDate = "20050502"

type exportArgs struct {
	userID      string
	cutoff      time.Time
	allTime     bool
	visible     bool
	manualLogin bool
	noCache     bool
	configPath  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var a exportArgs

	cmd := &cobra.Command{
		Use:   "exporter <user_id> [start_date]",
		Short: "Export rated movies from a Douban collection to CSV",
		Long: `Scrapes the movie collection of a Douban user, newest first, and writes
title, rating and IMDb id of every movie rated after start_date (YYYYMMDD,
default ` + defaultStartDate + `) to a CSV file.`,
		Args: cobra.RangeArgs(1, 2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			a.userID = args[0]
			date := defaultStartDate
			if len(args) > 1 {
				date = args[1]
			}
			cutoff, err := parseStartDate(date)
			if err != nil {
				return err
			}
			a.cutoff = cutoff
			a.allTime = date == defaultStartDate
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(a)
		},
	}

	cmd.Flags().BoolVarP(&a.visible, "visible", "v", false, "run the browser in visible (non-headless) mode")
	cmd.Flags().BoolVarP(&a.manualLogin, "manual-login", "m", false, "open the browser for a manual login before scraping")
	cmd.Flags().BoolVarP(&a.noCache, "no-cache", "n", false, "do not use or save the cookie cache")
	cmd.Flags().StringVar(&a.configPath, "config", "config.json", "path to the JSON configuration file")
	return cmd
}

// parseStartDate accepts a YYYYMMDD calendar date
func parseStartDate(s string) (time.Time, error) {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("start_date must be YYYYMMDD, got %q", s)
	}
	return t, nil
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

func run(a exportArgs) error {
	setupLogging("info")
	logrus.Infof("Douban exporter v%s starting...", version.Version)

	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	setupLogging(cfg.LogLevel)

	if a.allTime {
		logrus.Info("Starting to scrape all movie ratings...")
	} else {
		logrus.Infof("Starting to scrape movie ratings after %s...", a.cutoff.Format("2006-01-02"))
	}

	tracker := metrics.NewTracker()
	chrome := browser.New(browser.Options{Headless: !a.visible, Timeout: cfg.RequestTimeout()})
	defer chrome.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal cancels the run, a second one exits immediately
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		logrus.Warnf("Received signal (%v), stopping after the current request. Press Ctrl+C again to force exit.", sig)
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

	handler := &challenge.Handler{
		Browser:  chrome,
		Prompter: challenge.NewLinePrompter(os.Stdin, os.Stdout),
		Timeout:  cfg.LoginTimeout(),
	}
	if !a.noCache {
		handler.Store = session.NewStore(cfg.CookiePath)
	}

	fetcher := fetch.New(fetch.OptionsFromConfig(cfg), chrome, handler, tracker)
	handler.OnLogin = fetcher.ShareCookies

	if handler.Restore(ctx, douban.HomeURL) {
		logrus.Info("Using saved login session")
	} else if a.manualLogin {
		handler.ManualLogin(ctx, douban.HomeURL)
	}

	var cache exporter.IDCache
	if cfg.IDCachePath != "" {
		store, entries, err := openIDCache(cfg.IDCachePath)
		if err != nil {
			logrus.Errorf("Failed to open external id cache: %v", err)
			return err
		}
		defer store.Close()
		cache = store
		logrus.Infof("External id cache: %s (%d entries)", cfg.IDCachePath, entries)
	}

	client := douban.NewClient(fetcher, cfg.DoubanBaseURL)
	exp := exporter.New(client, cache, tracker, exporter.OptionsFromConfig(cfg))

	res, err := exp.Run(ctx, a.userID, a.cutoff)
	reason := terminationReason(res, err)

	logrus.Info("Final stats: " + tracker.LogProgress())
	if werr := tracker.WriteToFile(cfg.MetricsPath, reason); werr != nil {
		logrus.Errorf("Failed to write metrics: %v", werr)
	} else {
		logrus.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	switch {
	case errors.Is(err, douban.ErrUserNotFound):
		logrus.Error("Invalid Douban user ID. Please check it and try again.")
		return err
	case reason == "interrupted":
		logrus.Info("Process interrupted by user, nothing was saved")
		return nil
	case err != nil:
		logrus.Errorf("Export failed: %v", err)
		return err
	}

	logrus.Info("Done!")
	return nil
}

func terminationReason(res exporter.Result, err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "interrupted"
	case err != nil:
		return "failed"
	case res.Halted:
		return "cutoff"
	default:
		return "completed"
	}
}

// openIDCache opens the sqlite cache at path and counts what it already holds
func openIDCache(path string) (*storage.Storage, int, error) {
	store, err := storage.NewStorage(path)
	if err != nil {
		return nil, 0, err
	}
	entries, err := store.ListExternalIDs()
	if err != nil {
		store.Close()
		return nil, 0, err
	}
	return store, len(entries), nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/quaffio/quaff"
	"github.com/quaffio/quaff/internal/config"
	"github.com/quaffio/quaff/internal/console"
	"github.com/quaffio/quaff/internal/logger"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	destDir := flag.String("d", "", "Destination directory (default from config)")
	output := flag.String("o", "", "Output filename, single URL only")
	retries := flag.Int("retries", -1, "Max resumed retries, -1 uses config, 0 disables")
	workers := flag.Int("workers", 0, "Concurrent downloads, 0 uses config")
	useCache := flag.Bool("cache", false, "Serve and store downloads through the local cache")
	noCache := flag.Bool("no-cache", false, "Bypass the local cache even if enabled in config")
	quiet := flag.Bool("quiet", false, "Suppress the progress bar")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	sweep := flag.Bool("sweep", false, "Remove old staging files from the destination directory")
	clearCache := flag.Bool("clear-cache", false, "Delete every cache entry")
	pruneCache := flag.Bool("prune-cache", false, "Delete cache entries unused beyond their max age")
	cacheStats := flag.Bool("cache-stats", false, "Print cache entry count and size")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: quaff [flags] url [url ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println("quaff " + version)
		return 0
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize logger
	level := cfg.Logging.Level
	if *verbose {
		level = "debug"
	}
	if err := logger.Init(level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	zapLogger := logger.GetZapLogger()

	dir := *destDir
	if dir == "" {
		dir = cfg.Download.Dir
	}

	client := quaff.New(quaff.Options{
		UserAgent:                cfg.HTTP.UserAgent,
		Dir:                      dir,
		ChunkSize:                cfg.Download.GetChunkSize(),
		MaxRetries:               pickRetries(*retries, cfg.Download.MaxRetries),
		RetryBaseDelay:           cfg.Download.GetRetryBaseDelay(),
		RetryMaxDelay:            cfg.Download.GetRetryMaxDelay(),
		Workers:                  pickInt(*workers, cfg.Download.Workers),
		ConnectTimeout:           cfg.HTTP.GetConnectTimeout(),
		ResponseHeaderTimeout:    cfg.HTTP.GetResponseHeaderTimeout(),
		ProbeTimeout:             cfg.HTTP.GetProbeTimeout(),
		SkipTLSVerify:            cfg.HTTP.SkipTLSVerify,
		CacheDir:                 cfg.Cache.Dir,
		CacheIndexPath:           cfg.Database.Path,
		CacheMaxBytes:            cfg.Cache.GetMaxSizeBytes(),
		CacheMaxDiskUsagePercent: float64(cfg.Cache.MaxDiskUsagePercent),
		CacheMaxEntryAge:         cfg.Cache.GetMaxEntryAge(),
		StagingMaxAge:            cfg.Download.GetStagingMaxAge(),
		Logger:                   zapLogger,
	})
	defer client.Close()

	// Ctrl-C cancels cooperatively: transfers stop at the next chunk
	// boundary and keep their staging files for a later resume.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	code := 0
	ranMaintenance := false

	if *clearCache {
		ranMaintenance = true
		removed, err := client.ClearCache()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clear cache: %v\n", err)
			code = 1
		} else {
			fmt.Printf("removed %d cache entries\n", removed)
		}
	}

	if *pruneCache {
		ranMaintenance = true
		pruned, err := client.PruneCache(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to prune cache: %v\n", err)
			code = 1
		} else {
			fmt.Printf("pruned %d cache entries\n", pruned)
		}
	}

	if *cacheStats {
		ranMaintenance = true
		stats, err := client.CacheStats()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read cache stats: %v\n", err)
			code = 1
		} else {
			fmt.Printf("%d entries, %s\n", stats.Entries, humanize.IBytes(uint64(stats.TotalBytes)))
		}
	}

	if *sweep {
		ranMaintenance = true
		swept, err := client.SweepStaging(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to sweep staging files: %v\n", err)
			code = 1
		} else {
			fmt.Printf("swept %d staging files\n", swept)
		}
	}

	urls := flag.Args()
	if len(urls) == 0 {
		if !ranMaintenance {
			flag.Usage()
			return 2
		}
		return code
	}

	if *output != "" && len(urls) > 1 {
		fmt.Fprintln(os.Stderr, "-o applies to a single URL only")
		return 2
	}

	cache := cfg.Cache.Enabled
	if *useCache {
		cache = true
	}
	if *noCache {
		cache = false
	}

	start := time.Now()
	var outcomes []*quaff.Outcome
	if len(urls) == 1 {
		outcomes = []*quaff.Outcome{
			fetchOne(ctx, client, quaff.Request{
				URL:      urls[0],
				Filename: *output,
				UseCache: cache,
			}, *quiet),
		}
	} else {
		reqs := make([]quaff.Request, len(urls))
		for i, url := range urls {
			reqs[i] = quaff.Request{URL: url, UseCache: cache}
		}
		outcomes, _ = client.FetchAll(ctx, reqs)
	}

	completed, failed, cancelled := 0, 0, 0
	for i, outcome := range outcomes {
		if outcome == nil {
			failed++
			continue
		}
		printOutcome(urls[i], outcome)
		switch {
		case outcome.Completed():
			completed++
		case outcome.Cancelled():
			cancelled++
		default:
			failed++
		}
	}

	if len(urls) > 1 {
		zapLogger.Info("all transfers finished",
			zap.Int("completed", completed),
			zap.Int("failed", failed),
			zap.Int("cancelled", cancelled),
			zap.Duration("elapsed", time.Since(start)))
	}

	switch {
	case failed > 0:
		return 1
	case cancelled > 0:
		return 130
	default:
		return code
	}
}

// fetchOne runs a single download with a progress bar on stdout.
func fetchOne(ctx context.Context, client *quaff.Client, req quaff.Request, quiet bool) *quaff.Outcome {
	if !quiet {
		bar := console.NewBar(console.Options{})
		defer bar.Stop()
		req.OnProgress = bar.Observe
	}

	outcome, err := client.Fetch(ctx, req)
	if outcome == nil {
		outcome = &quaff.Outcome{Status: quaff.StatusFailed, Err: err}
	}
	return outcome
}

// printOutcome writes one result line, completions to stdout and
// failures to stderr.
func printOutcome(url string, o *quaff.Outcome) {
	switch {
	case o.Completed() && o.FromCache:
		fmt.Printf("%s  %s (from cache)\n", o.Path, humanize.IBytes(uint64(o.BytesWritten)))

	case o.Completed():
		line := fmt.Sprintf("%s  %s in %s", o.Path, humanize.IBytes(uint64(o.BytesWritten)), o.Elapsed.Round(10*time.Millisecond))
		if o.Elapsed > 0 {
			rate := float64(o.BytesWritten) / o.Elapsed.Seconds()
			line += fmt.Sprintf(" (%s/s)", humanize.IBytes(uint64(rate)))
		}
		if o.Resumed {
			line += " [resumed]"
		}
		fmt.Println(line)

	case o.Cancelled():
		fmt.Printf("cancelled %s, %s staged for resume\n", url, humanize.IBytes(uint64(o.BytesWritten)))

	default:
		fmt.Fprintf(os.Stderr, "failed %s: %v\n", url, o.Err)
	}
}

// pickRetries maps the -retries flag onto the client option: the flag
// wins when set, config otherwise, and an explicit zero from either side
// means no retries.
func pickRetries(flagVal, cfgVal int) int {
	v := cfgVal
	if flagVal >= 0 {
		v = flagVal
	}
	if v == 0 {
		return -1
	}
	return v
}

// pickInt prefers the flag value when positive
func pickInt(flagVal, cfgVal int) int {
	if flagVal > 0 {
		return flagVal
	}
	return cfgVal
}

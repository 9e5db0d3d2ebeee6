package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/codefionn/sperrgut/sperrgut-srv/config"
	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
	"github.com/codefionn/sperrgut/sperrgut-srv/watcher"
)

var version string

// shutdownTimeout bounds how long in-flight connections may take to finish.
const shutdownTimeout = 30 * time.Second

// options are the command line settings that outlive the first config load.
type options struct {
	configPath string
	debug      bool
	watch      bool
}

func main() {
	cfg, opts := parseFlagsAndConfig()
	runProxy(cfg, opts)
}

// parseFlagsAndConfig handles CLI flags, environment, logging, and config loading.
func parseFlagsAndConfig() (*config.Config, options) {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	versionShortFlag := flag.Bool("v", false, "Print version and exit (shorthand)")
	configPathPtr := flag.String("config", "config/proxy.conf", "Path to configuration file (key=value, .json, .hcl, .yaml or .toml)")
	envfile := flag.String("envfile", "", "Path to env file to load environment variables")
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	watchFlag := flag.Bool("watch", false, "Reload when the config or blacklist file changes")
	flag.Parse()

	if *versionFlag || *versionShortFlag {
		if version == "" {
			version = "dev"
		}
		fmt.Println("sperrgut version:", version)
		os.Exit(0)
	}

	if *envfile != "" {
		if err := loadEnvFile(*envfile); err != nil {
			logger.Fatal("Failed to load envfile: %v", err)
		}
		logger.Info("Loaded environment variables from %s", *envfile)
	}

	cfg := loadConfig(*configPathPtr)
	applyLogLevel(cfg, *debugFlag)

	logger.Debug("Using configuration file: %s", *configPathPtr)
	logger.Debug("Buffer size: %d bytes", cfg.BufferSize)
	logger.Debug("Timeout: %d seconds", cfg.TimeoutSeconds)
	if cfg.Upstream.Enabled() {
		logger.Debug("Upstream SOCKS5 proxy: %s", cfg.Upstream.SOCKS5Address)
	}

	return cfg, options{configPath: *configPathPtr, debug: *debugFlag, watch: *watchFlag}
}

// loadConfig reads the config file, falling back to defaults and
// environment variables when it does not exist.
func loadConfig(path string) *config.Config {
	cfg, err := config.LoadConfig(path)
	if err == nil {
		logger.Log(logger.SystemSource, "Configuration loaded from "+path)
		return cfg
	}
	if !errors.Is(err, fs.ErrNotExist) {
		logger.Fatal("Failed to load configuration: %v", err)
	}

	logger.Log(logger.SystemSource, "Config file not found. Using defaults.")
	cfg, err = config.LoadConfig("")
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}
	return cfg
}

func applyLogLevel(cfg *config.Config, debugMode bool) {
	if debugMode {
		logger.SetLevel(logger.DEBUG)
		logger.Debug("Debug logging enabled")
		return
	}
	logger.SetLevel(logger.GetLevelFromString(cfg.LogLevel))
}

// runProxy starts and manages the proxy server, including signal handling and reloads.
func runProxy(cfg *config.Config, opts options) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	entries, err := config.LoadBlacklist(cfg.BlacklistFile)
	if err != nil {
		logger.Fatal("Failed to load blacklist: %v", err)
	}
	current, err := newInstance(cfg, entries, nil)
	if err != nil {
		logger.Fatal("Failed to start proxy: %v", err)
	}
	current.serve(nil)

	fileChanges := make(chan struct{}, 1)
	if opts.watch {
		stopWatching := watchFiles([]string{opts.configPath, cfg.BlacklistFile}, fileChanges)
		defer stopWatching()
	}

	var retired sync.WaitGroup
	for {
		select {
		case <-fileChanges:
			logger.Info("Watched file changed: reloading configuration...")
			current = reload(current, opts, &retired)
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("Received SIGHUP: reloading configuration...")
				current = reload(current, opts, &retired)
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Log(logger.SystemSource, "Shutting down server...")
				current.logStats()
				current.stop()
				retired.Wait()
				logger.Log(logger.SystemSource, "Bye!")
				return
			}
		}
	}
}

// reload re-reads the config and blacklist and replaces the running
// instance when either changed. The current instance keeps serving when
// anything fails before its replacement is ready.
func reload(current *instance, opts options, retired *sync.WaitGroup) *instance {
	newCfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		logger.Error("Failed to reload config: %v (keeping current config)", err)
		return current
	}
	entries, err := config.LoadBlacklist(newCfg.BlacklistFile)
	if err != nil {
		logger.Error("Failed to reload blacklist: %v (keeping current config)", err)
		return current
	}
	applyLogLevel(newCfg, opts.debug)
	if !config.HasChanged(current.cfg, newCfg) && slices.Equal(current.matcher.Entries(), entries) {
		logger.Info("Config unchanged after reload; not restarting proxy.")
		return current
	}

	logger.Info("Config changed. Restarting proxy...")
	current.logStats()
	next, err := newInstance(newCfg, entries, current)
	if err != nil {
		logger.Error("Failed to build proxy for new config: %v (keeping current config)", err)
		return current
	}
	replace(current, next, retired)
	logger.Info("Proxy restarted with new configuration.")
	return next
}

// watchFiles forwards debounced changes of paths to changes. The blacklist
// path is the one from the initial config.
func watchFiles(paths []string, changes chan<- struct{}) (stop func()) {
	w, err := watcher.New(paths, watcher.DefaultDebounce)
	if err != nil {
		logger.Error("Failed to watch config files: %v", err)
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx, func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	logger.Info("Watching %s for changes", strings.Join(paths, ", "))

	return func() {
		cancel()
		if err := w.Close(); err != nil {
			logger.Error("Error closing file watcher: %v", err)
		}
	}
}

// loadEnvFile reads a .env-style file and sets environment variables
func loadEnvFile(path string) error {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid file path: %w", err)
		}
		cleanPath = absPath
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Error("Error closing env file: %v", closeErr)
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if setErr := os.Setenv(key, val); setErr != nil {
			logger.Error("Error setting environment variable %s: %v", key, setErr)
		}
	}
	return scanner.Err()
}

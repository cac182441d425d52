package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"

	"github.com/ajramos/orionmail/internal/config"
	"github.com/ajramos/orionmail/internal/tui"
	"github.com/ajramos/orionmail/internal/version"
)

func main() {
	configPathFlag := flag.String("config", "", "Path to configuration file (default: ~/.config/orionmail/config.yaml)")
	credPathFlag := flag.String("credentials", "", "Path to OAuth client credentials JSON")
	tokenPathFlag := flag.String("token", "", "Path to the cached OAuth token")
	dbPathFlag := flag.String("db", "", "Path to the message cache database")
	logLevelFlag := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	onceFlag := flag.Bool("once", false, "Sync the inbox once, print it as YAML and exit")
	profileFlag := flag.String("profile", "", "Write a cpu or mem profile to the working directory")
	versionFlag := flag.Bool("version", false, "Show version information and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.GetVersionString())
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s                        # Open the inbox\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --once                 # Sync once and print the inbox\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config custom.yaml   # Use custom configuration\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  %s_CONFIG     Override default config file path\n", config.EnvPrefix)
		fmt.Fprintf(os.Stderr, "  %s_<SECTION>_<KEY>  Override any config key, e.g. %s_IMAP_USERNAME\n", config.EnvPrefix, config.EnvPrefix)
	}
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.GetDetailedVersionString())
		return
	}

	switch *profileFlag {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		log.Fatalf("unknown profile %q, expected cpu or mem", *profileFlag)
	}

	// Values in the .env file become ORIONMAIL_* overrides
	_ = godotenv.Load(filepath.Join(config.DefaultConfigDir(), ".env"))

	cfg, err := config.LoadConfig(getConfigPath(*configPathFlag))
	if err != nil {
		log.Fatalf("Could not load configuration: %v", err)
	}
	applyFlags(cfg, *credPathFlag, *tokenPathFlag, *dbPathFlag, *logLevelFlag)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, closer, err := newLogger(cfg, *onceFlag)
	if err != nil {
		log.Fatalf("Could not set up logging: %v", err)
	}
	defer closer.Close()
	entry := logger.WithFields(logrus.Fields{
		"instance": uuid.NewString(),
		"version":  version.Version,
	})
	entry.Info("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, entry, *onceFlag); err != nil {
		entry.WithError(err).Error("exiting with error")
		closer.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path using the following priority:
// 1. CLI flag
// 2. Environment variable ORIONMAIL_CONFIG
// 3. Default path ~/.config/orionmail/config.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv(config.EnvPrefix + "_CONFIG"); envPath != "" {
		return envPath
	}
	return config.DefaultConfigPath()
}

func applyFlags(cfg *config.Config, credPath, tokenPath, dbPath, level string) {
	if credPath != "" {
		cfg.Credentials = credPath
	}
	if tokenPath != "" {
		cfg.Token = tokenPath
	}
	if dbPath != "" {
		cfg.Cache.DBPath = dbPath
	}
	if level != "" {
		cfg.Log.Level = level
	}
}

// newLogger writes to the log file while the interface owns the terminal and
// to stderr in headless mode.
func newLogger(cfg *config.Config, headless bool) (*logrus.Logger, io.Closer, error) {
	if !headless {
		return tui.NewFileLogger(cfg.Log.File, cfg.Log.Level)
	}
	lvl, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(lvl)
	return logger, io.NopCloser(nil), nil
}


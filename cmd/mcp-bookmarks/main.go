package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/prismon/mcp-bookmarks/pkg/bookmarks"
	"github.com/prismon/mcp-bookmarks/pkg/database"
	"github.com/prismon/mcp-bookmarks/pkg/dedup"
	"github.com/prismon/mcp-bookmarks/pkg/home"
	"github.com/prismon/mcp-bookmarks/pkg/liveness"
	"github.com/prismon/mcp-bookmarks/pkg/lockread"
	"github.com/prismon/mcp-bookmarks/pkg/logger"
	"github.com/prismon/mcp-bookmarks/pkg/plans"
	"github.com/prismon/mcp-bookmarks/pkg/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	log *logrus.Entry

	// Global options
	homePath string
	logLevel string
	store    string

	// Server command options
	host string
	port int
)

func init() {
	log = logger.WithName("cli")
}

func main() {
	var rootCmd = &cobra.Command{
		Use:     "mcp-bookmarks",
		Short:   "Browser bookmark store manager",
		Version: version,
		Long: `mcp-bookmarks - Read and edit Firefox and Chromium-family bookmark stores.

It reads places.sqlite and Bookmarks files in place, even while the browser
is running, and exposes them as MCP tools over stdio or HTTP.`,
	}

	rootCmd.PersistentFlags().StringVar(&homePath, "home", "", "Home directory (default: $MCP_BOOKMARKS_HOME or ~/.mcp-bookmarks)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error, silent")
	rootCmd.PersistentFlags().StringVarP(&store, "store", "s", "", "Store name from the config (see the stores command)")

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdio",
		Run:   runServe,
	}

	var httpCmd = &cobra.Command{
		Use:   "http",
		Short: "Serve MCP over streamable HTTP",
		Run:   runHTTP,
	}
	httpCmd.Flags().StringVar(&host, "host", "", "Interface to listen on (default: from config)")
	httpCmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default: from config)")

	var cleanTempCmd = &cobra.Command{
		Use:   "clean-temp",
		Short: "Remove leftover temporary store copies",
		Run:   runCleanTemp,
	}

	rootCmd.AddCommand(serveCmd, httpCmd, cleanTempCmd)
	rootCmd.AddCommand(bookmarkCommands()...)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the wired set of services a command runs against
type app struct {
	home   *home.Manager
	config *home.Config
	deps   *server.Deps
}

func setup() *app {
	mgr, err := home.NewManager(homePath)
	if err != nil {
		exitWith("Failed to resolve home directory", err)
	}
	if err := mgr.Initialize(); err != nil {
		exitWith("Failed to initialize home directory", err)
	}
	config, err := mgr.LoadConfig()
	if err != nil {
		exitWith("Failed to load config", err)
	}

	level := config.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	if err := logger.ConfigureFromString(level); err != nil {
		exitWith("Invalid log level", err)
	}
	logger.ConfigureFile(logger.FileOptions{
		Path:       mgr.ResolvePath(config.Logging.File),
		MaxSizeMB:  config.Logging.MaxSizeMB,
		MaxBackups: config.Logging.MaxBackups,
	})

	stores, err := mgr.ResolveStores(config)
	if err != nil {
		exitWith("Failed to resolve stores", err)
	}
	log.WithFields(logrus.Fields{"home": mgr.Path(), "stores": len(stores)}).Debug("Configuration loaded")

	reader := lockread.NewReader(lockread.Options{
		TempDir:       mgr.TempPath(),
		BusyTimeoutMs: config.Database.BusyTimeoutMs,
	})
	catalog := bookmarks.NewCatalog(stores, liveness.NewProcessChecker(0), reader, dedup.Options{
		Threshold:   config.Duplicates.Threshold,
		IgnoreQuery: config.Duplicates.IgnoreQuery,
	})

	return &app{
		home:   mgr,
		config: config,
		deps: &server.Deps{
			Catalog: catalog,
			Sync: plans.NewEngine(plans.Options{
				Limit:             config.Sync.Limit,
				MaxFailureDetails: config.Sync.MaxFailureDetails,
			}, log),
			DBs:       database.NewRegistry(reader),
			ExportDir: mgr.ExportsPath(),
		},
	}
}

func (a *app) close() {
	if err := a.deps.DBs.CloseAll(); err != nil {
		log.WithError(err).Warn("Failed to close database connections")
	}
	logger.Close()
}

// signalContext is cancelled on interrupt
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func exitWith(msg string, err error) {
	log.WithError(err).Error(msg)
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(1)
}

func runServe(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()

	log.WithField("command", "serve").Info("Executing command")
	if err := server.ServeStdio(a.deps, version); err != nil {
		exitWith("Server failed", err)
	}
}

func runHTTP(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()

	cfg := a.config.Server
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}

	log.WithFields(logrus.Fields{"command": "http", "host": cfg.Host, "port": cfg.Port}).Info("Executing command")
	if err := server.Start(cfg, a.deps, version); err != nil {
		exitWith("Server failed", err)
	}
}

func runCleanTemp(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()

	if err := a.home.CleanTemp(); err != nil {
		exitWith("Failed to clean temp directory", err)
	}
	fmt.Printf("Cleaned %s\n", a.home.TempPath())
}

// Package daemon provides the download service daemon of eofetch.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ubuntu/eofetch/internal/api"
	"github.com/ubuntu/eofetch/internal/cli"
	"github.com/ubuntu/eofetch/internal/config"
	"github.com/ubuntu/eofetch/internal/constants"
	"github.com/ubuntu/eofetch/internal/credentials"
	"github.com/ubuntu/eofetch/internal/downloads"
	"github.com/ubuntu/eofetch/internal/downloads/store/file"
	"github.com/ubuntu/eofetch/internal/downloads/store/postgres"
	"github.com/ubuntu/eofetch/internal/downloads/store/sqlite"
	"github.com/ubuntu/eofetch/internal/httpclient"
	"github.com/ubuntu/eofetch/internal/metrics"
	"github.com/ubuntu/eofetch/internal/product"
	"github.com/ubuntu/eofetch/internal/service"
	"golang.org/x/time/rate"
)

// Queue store backends.
const (
	storeFile     = "file"
	storeSQLite   = "sqlite"
	storePostgres = "postgres"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon *service.Service

	ready chan struct{}
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	ProvidersPath   string
	CredentialsPath string
	EnvFiles        []string
	DataDir         string // Base directory of the file and sqlite queue stores

	QueueStore    string
	DBconfig      postgres.Config
	MigrationsDir string

	API           apiConfig
	MetricsConfig metrics.Config
	Transport     transportConfig
}

type apiConfig struct {
	Host         string
	Port         int
	DownloadRoot string // Destinations and archives of API downloads must be under it
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
	RateLimit    float64
	Burst        int
}

type transportConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Attempts       int
	RateLimit      float64
	Burst          int
	Proxy          string
	UserAgent      string
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.ServiceCmdName,
		Short:         "Earth observation download service",
		Long:          "eofetch download service queues product downloads per provider, persists them until they end and serves an HTTP API to drive them.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.ServiceCmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config, cli.DecodeHook()); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}
			slog.Info("got app config", "config", a.config)

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Update logging after loading config if necessary
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	installMigrateCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")

	// Daemon flags
	cmd.Flags().StringVarP(&app.config.ProvidersPath, "providers", "c", filepath.Join(constants.GetDefaultConfigPath(), constants.ProvidersFileName), "path to the provider configuration file")
	cmd.Flags().StringVar(&app.config.CredentialsPath, "credentials", filepath.Join(constants.GetDefaultConfigPath(), constants.CredentialsFileName), "path to the provider credentials file")
	cmd.Flags().StringSliceVar(&app.config.EnvFiles, "env-file", nil, "environment files to load credentials from (default .env)")
	cmd.Flags().StringVar(&app.config.DataDir, "data-dir", constants.GetDefaultDataPath(), "base directory of the download queue")
	cmd.Flags().StringVar(&app.config.QueueStore, "queue-store", storeFile, "download queue backend: file, sqlite or postgres")

	// API server flags
	cmd.Flags().StringVar(&app.config.API.Host, "api-host", "localhost", "host for the API endpoint")
	cmd.Flags().StringVar(&app.config.API.DownloadRoot, "api-download-root", "", "directory holding every destination and local archive of API downloads (default <data-dir>/products)")
	cmd.Flags().IntVar(&app.config.API.Port, "api-port", 8080, "port for the API endpoint")
	cmd.Flags().DurationVar(&app.config.API.ReadTimeout, "api-read-timeout", 10*time.Second, "read timeout for the API HTTP server")
	cmd.Flags().DurationVar(&app.config.API.WriteTimeout, "api-write-timeout", 10*time.Second, "write timeout for the API HTTP server")
	cmd.Flags().Int64Var(&app.config.API.MaxBodyBytes, "api-max-body", 1<<20, "maximum size in bytes of an API request body")
	cmd.Flags().Float64Var(&app.config.API.RateLimit, "api-rate-limit", 0, "API requests per second allowed for each client, 0 disables the limit")
	cmd.Flags().IntVar(&app.config.API.Burst, "api-burst", 10, "API request burst allowed for each client")

	// Metrics server flags
	cmd.Flags().DurationVar(&app.config.MetricsConfig.ReadTimeout, "read-timeout", 5*time.Second, "read timeout for the metrics HTTP server")
	cmd.Flags().DurationVar(&app.config.MetricsConfig.WriteTimeout, "write-timeout", 10*time.Second, "write timeout for the metrics HTTP server")
	cmd.Flags().StringVar(&app.config.MetricsConfig.Host, "metrics-host", "", "host for the metrics endpoint")
	cmd.Flags().IntVar(&app.config.MetricsConfig.Port, "metrics-port", 2113, "port for the metrics endpoint")

	// Provider transport flags
	cmd.Flags().DurationVar(&app.config.Transport.ConnectTimeout, "connect-timeout", constants.DefaultConnectTimeout, "timeout for connecting to a provider")
	cmd.Flags().DurationVar(&app.config.Transport.ReadTimeout, "provider-read-timeout", constants.DefaultReadTimeout, "timeout for reading a provider response")
	cmd.Flags().IntVar(&app.config.Transport.Attempts, "attempts", constants.DefaultRetryAttempts, "number of attempts per file before giving up")
	cmd.Flags().Float64Var(&app.config.Transport.RateLimit, "rate-limit", 0, "maximum requests per second per provider host, 0 for no limit")
	cmd.Flags().IntVar(&app.config.Transport.Burst, "burst", 1, "request burst allowed above the rate limit")
	cmd.Flags().StringVar(&app.config.Transport.Proxy, "proxy", "", "proxy URL used to reach providers")
	cmd.Flags().StringVar(&app.config.Transport.UserAgent, "user-agent", constants.CmdName+"/"+constants.Version, "user agent sent to providers")

	addDBFlags(cmd, &app.config.DBconfig)

	if err := cmd.MarkFlagDirname("data-dir"); err != nil {
		panic(fmt.Errorf("failed to mark data-dir flag as directory: %w", err))
	}

	if err := cmd.MarkFlagFilename("providers"); err != nil {
		panic(fmt.Sprintf("failed to mark providers flag as filename: %v", err))
	}
}

func addDBFlags(cmd *cobra.Command, config *postgres.Config) {
	cmd.Flags().StringVar(&config.Host, "db-host", "", "database host")
	cmd.Flags().IntVarP(&config.Port, "db-port", "p", 5432, "database port")
	cmd.Flags().StringVarP(&config.User, "db-user", "u", "", "database user")
	cmd.Flags().StringVarP(&config.Password, "db-password", "P", "", "database password")
	cmd.Flags().StringVarP(&config.DBName, "db-name", "n", "", "database name")
	cmd.Flags().StringVarP(&config.SSLMode, "db-sslmode", "s", "", "database SSL mode")
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit gracefully shuts down the daemon.
func (a *App) Quit() {
	a.WaitReady()
	if a.daemon != nil {
		a.daemon.Quit(false)
	}
}

// WaitReady waits for the daemon to be ready.
func (a *App) WaitReady() {
	<-a.ready
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

func (a *App) run() (err error) {
	ctx := context.Background()

	a.config.ProvidersPath, err = filepath.Abs(a.config.ProvidersPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for provider configuration: %v", err)
	}
	cm := config.New(a.config.ProvidersPath)
	if err := cm.Load(); err != nil {
		return fmt.Errorf("failed to load provider configuration: %v", err)
	}

	var credOpts []credentials.Options
	if len(a.config.EnvFiles) > 0 {
		credOpts = append(credOpts, credentials.WithEnvFiles(a.config.EnvFiles...))
	}
	creds, err := credentials.New(a.config.CredentialsPath, credOpts...)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %v", err)
	}

	client, err := a.httpClient()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open download queue: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Warn("Failed to close download queue", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	mgr, err := downloads.New(cm, store, registry)
	if err != nil {
		return fmt.Errorf("failed to create download manager: %v", err)
	}
	builder := service.NewBuilder(cm, creds, client, product.NewLogSink(slog.Default()), slog.Default())

	// Downloads outlive the API requests which queued them, until the manager stops.
	dlCtx, dlCancel := context.WithCancel(ctx)
	defer dlCancel()
	if err := mgr.Restore(dlCtx, builder.Restore); err != nil {
		return err
	}

	handler := api.New(dlCtx, mgr, builder.Task,
		api.WithMonitor(metrics.NewMiddleware(registry).Monitor("api")),
		api.WithMaxBodyBytes(a.config.API.MaxBodyBytes),
		api.WithClientRateLimit(rate.Limit(a.config.API.RateLimit), a.config.API.Burst),
		api.WithDownloadRoot(a.downloadRoot()))
	apiServer := &http.Server{
		Addr:         net.JoinHostPort(a.config.API.Host, strconv.Itoa(a.config.API.Port)),
		Handler:      handler.Handler(),
		ReadTimeout:  a.config.API.ReadTimeout,
		WriteTimeout: a.config.API.WriteTimeout,
	}
	metricsServer := metrics.New(a.config.MetricsConfig, registry)

	runner := service.RunnerFunc(func(ctx context.Context) error {
		stop := context.AfterFunc(ctx, dlCancel)
		defer stop()

		err := mgr.Run(ctx)
		handler.Wait()
		return err
	})

	a.daemon = service.New(ctx, runner, apiServer, metricsServer)
	close(a.ready)

	return a.daemon.Run()
}

// downloadRoot returns the directory confining API downloads.
func (a App) downloadRoot() string {
	if a.config.API.DownloadRoot != "" {
		return a.config.API.DownloadRoot
	}
	return filepath.Join(a.config.DataDir, "products")
}

func (a App) httpClient() (*httpclient.Client, error) {
	t := a.config.Transport
	opts := []httpclient.Options{
		httpclient.WithTimeouts(t.ConnectTimeout, t.ReadTimeout),
		httpclient.WithRetry(t.Attempts, time.Second, 30*time.Second),
		httpclient.WithUserAgent(t.UserAgent),
	}
	if t.RateLimit > 0 {
		opts = append(opts, httpclient.WithRateLimit(rate.Limit(t.RateLimit), max(t.Burst, 1)))
	}
	if t.Proxy != "" {
		u, err := url.Parse(t.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %v", err)
		}
		opts = append(opts, httpclient.WithProxy(u))
	}
	return httpclient.New(opts...), nil
}

// openStore returns the configured queue store and the function releasing it.
func (a App) openStore(ctx context.Context) (downloads.Store, func() error, error) {
	noop := func() error { return nil }

	switch a.config.QueueStore {
	case "", storeFile:
		s, err := file.New(filepath.Join(a.config.DataDir, constants.QueueFolder))
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case storeSQLite:
		if err := os.MkdirAll(a.config.DataDir, 0750); err != nil {
			return nil, noop, fmt.Errorf("could not create data directory: %v", err)
		}
		s, err := sqlite.New(ctx, filepath.Join(a.config.DataDir, "queue.db"))
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case storePostgres:
		s, err := postgres.New(ctx, a.config.DBconfig)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown queue store %q", a.config.QueueStore)
	}
}

// Package commands implements the eofetch command line: catalog searches, object store discovery
// and product downloads.
package commands

import (
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ubuntu/eofetch/internal/cli"
	"github.com/ubuntu/eofetch/internal/config"
	"github.com/ubuntu/eofetch/internal/constants"
	"github.com/ubuntu/eofetch/internal/credentials"
	"github.com/ubuntu/eofetch/internal/httpclient"
	"golang.org/x/time/rate"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	newLister newLister
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	ProvidersPath   string
	CredentialsPath string
	EnvFiles        []string

	Transport transportConfig

	Search   searchConfig
	Discover discoverConfig
	Fetch    fetchConfig
	Grid     gridConfig
}

type transportConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Attempts       int
	RateLimit      float64
	Burst          int
	Proxy          string
}

type options struct {
	newLister newLister
}

// Options represents an optional function to override App default values.
type Options func(*options)

// New registers commands and returns a new App.
func New(args ...Options) (*App, error) {
	opts := options{newLister: defaultLister}
	for _, opt := range args {
		opt(&opts)
	}

	a := App{newLister: opts.newLister}

	a.cmd = &cobra.Command{
		Use:           constants.CmdName + " COMMAND",
		Short:         "Search, discover and download Earth observation products",
		Long:          "eofetch searches provider catalogs, walks public object stores and downloads Earth observation products.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs)
			if err := cli.InitViperConfig(constants.CmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config, cli.DecodeHook()); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs)
			return nil
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootFlags(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	installSearchCmd(&a)
	installDiscoverCmd(&a)
	installFetchCmd(&a)
	installGridCmd(&a)
	installVersionCmd(&a)

	return &a, nil
}

func installRootFlags(app *App) {
	flags := app.cmd.PersistentFlags()

	flags.CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	flags.BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")

	flags.StringVar(&app.config.ProvidersPath, "providers", filepath.Join(constants.GetDefaultConfigPath(), constants.ProvidersFileName), "path to the provider configuration file")
	flags.StringVar(&app.config.CredentialsPath, "credentials", filepath.Join(constants.GetDefaultConfigPath(), constants.CredentialsFileName), "path to the provider credentials file")
	flags.StringSliceVar(&app.config.EnvFiles, "env-file", nil, "environment files to load credentials from (default .env)")

	flags.DurationVar(&app.config.Transport.ConnectTimeout, "connect-timeout", constants.DefaultConnectTimeout, "timeout for connecting to a provider")
	flags.DurationVar(&app.config.Transport.ReadTimeout, "read-timeout", constants.DefaultReadTimeout, "timeout for reading a provider response")
	flags.IntVar(&app.config.Transport.Attempts, "attempts", constants.DefaultRetryAttempts, "number of attempts per request before giving up")
	flags.Float64Var(&app.config.Transport.RateLimit, "rate-limit", 0, "maximum requests per second per provider host, 0 for no limit")
	flags.IntVar(&app.config.Transport.Burst, "burst", 1, "request burst allowed above the rate limit")
	flags.StringVar(&app.config.Transport.Proxy, "proxy", "", "proxy URL used to reach providers")

	if err := app.cmd.MarkPersistentFlagFilename("providers", "yaml", "yml"); err != nil {
		panic(fmt.Sprintf("failed to mark providers flag as filename: %v", err))
	}
	if err := app.cmd.MarkPersistentFlagFilename("credentials", "ini"); err != nil {
		panic(fmt.Sprintf("failed to mark credentials flag as filename: %v", err))
	}
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

// provider loads the provider configuration and returns the provider id.
func (a App) provider(id string) (config.Provider, error) {
	cm := config.New(a.config.ProvidersPath)
	if err := cm.Load(); err != nil {
		return config.Provider{}, fmt.Errorf("failed to load provider configuration: %v", err)
	}
	p, ok := cm.Provider(id)
	if !ok {
		return config.Provider{}, fmt.Errorf("unknown provider %q in %s", id, a.config.ProvidersPath)
	}
	return p, nil
}

// credential returns the credential of the provider id, if any.
func (a App) credential(id string) (credentials.Credential, error) {
	var opts []credentials.Options
	if len(a.config.EnvFiles) > 0 {
		opts = append(opts, credentials.WithEnvFiles(a.config.EnvFiles...))
	}
	store, err := credentials.New(a.config.CredentialsPath, opts...)
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("failed to load credentials: %v", err)
	}
	c, _ := store.Lookup(id)
	return c, nil
}

func (a App) httpClient() (*httpclient.Client, error) {
	t := a.config.Transport
	opts := []httpclient.Options{
		httpclient.WithTimeouts(t.ConnectTimeout, t.ReadTimeout),
		httpclient.WithRetry(t.Attempts, time.Second, 30*time.Second),
		httpclient.WithUserAgent(constants.CmdName + "/" + constants.Version),
		httpclient.WithLogger(slog.Default()),
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

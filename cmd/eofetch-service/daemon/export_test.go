package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type (
	AppConfig = appConfig
)

// Config returns the configuration of the app.
func (a *App) Config() AppConfig {
	return a.config
}

// DownloadRoot returns the directory confining the API downloads of an app configured with conf.
func DownloadRoot(conf AppConfig) string {
	return App{config: conf}.downloadRoot()
}

// NewForTests creates a new App instance for testing purposes.
// Both servers listen on random ports and the queue lives in a temporary directory, unless set in conf.
func NewForTests(t *testing.T, conf *AppConfig, args ...string) *App {
	t.Helper()

	if conf == nil {
		conf = &AppConfig{}
	}

	if conf.DataDir == "" {
		conf.DataDir = filepath.Join(t.TempDir(), "data")
	}
	if conf.ProvidersPath == "" {
		conf.ProvidersPath = GenerateTestProviders(t, "providers: [{id: aws, kind: aws, baseURL: 'http://127.0.0.1:1', maxConnections: 2}]\n")
	}
	if conf.CredentialsPath == "" {
		conf.CredentialsPath = filepath.Join(t.TempDir(), "credentials.ini")
	}
	if conf.API.Host == "" {
		conf.API.Host = "127.0.0.1"
	}
	if conf.MetricsConfig.Host == "" {
		conf.MetricsConfig.Host = "127.0.0.1"
	}

	p := GenerateTestConfig(t, conf)
	argsWithConf := []string{"--config", p}
	argsWithConf = append(argsWithConf, args...)

	a, err := New()
	require.NoError(t, err, "Setup: failed to create app")
	a.cmd.SetArgs(argsWithConf)
	return a
}

// GenerateTestProviders writes a temporary provider configuration file for testing.
func GenerateTestProviders(t *testing.T, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "providers-test.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0600), "Setup: failed to write provider config for tests")
	return p
}

// GenerateTestConfig generates a temporary config file for testing.
func GenerateTestConfig(t *testing.T, origConf *AppConfig) string {
	t.Helper()

	var conf appConfig

	if origConf != nil {
		conf = *origConf
	}

	if conf.Verbosity == 0 {
		conf.Verbosity = 2
	}

	d, err := yaml.Marshal(conf)
	require.NoError(t, err, "Setup: failed to marshal config for tests")

	confPath := filepath.Join(t.TempDir(), "testconfig.yaml")
	require.NoError(t, os.WriteFile(confPath, d, 0600), "Setup: failed to write config for tests")

	return confPath
}

// SetArgs set some arguments on root command for tests.
func (a *App) SetArgs(args ...string) {
	a.cmd.SetArgs(args)
}

// SetSilenceUsage set the SilenceUsage flag on root command for tests.
func (a *App) SetSilenceUsage(silence bool) {
	a.cmd.SilenceUsage = silence
}

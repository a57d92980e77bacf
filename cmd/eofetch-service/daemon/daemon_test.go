package daemon_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubuntu/eofetch/cmd/eofetch-service/daemon"
	"github.com/ubuntu/eofetch/internal/constants"
	"github.com/ubuntu/eofetch/internal/downloads"
	"github.com/ubuntu/eofetch/internal/downloads/store/file"
)

func TestRunAndQuit(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		queueStore string
	}{
		"File queue":    {queueStore: "file"},
		"SQLite queue":  {queueStore: "sqlite"},
		"Default queue": {},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			conf := &daemon.AppConfig{QueueStore: tc.queueStore}
			a := daemon.NewForTests(t, conf)

			errCh := make(chan error, 1)
			go func() { errCh <- a.Run() }()

			a.WaitReady()
			time.Sleep(100 * time.Millisecond)
			a.Quit()

			select {
			case err := <-errCh:
				require.NoError(t, err, "Run should not return an error after a graceful quit")
			case <-time.After(10 * time.Second):
				t.Fatal("Run should return after Quit")
			}
		})
	}
}

func TestRunDropsUnrestorableItems(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	store, err := file.New(filepath.Join(dataDir, constants.QueueFolder))
	require.NoError(t, err, "Setup: failed to create queue store")
	item := downloads.NewItem("removed-provider", t.TempDir(), []string{"S2A_MSIL1C_20220105T103421_N0301_R108_T31TCJ_20220105T123456"})
	require.NoError(t, store.Save(context.Background(), item), "Setup: failed to persist queue item")

	a := daemon.NewForTests(t, &daemon.AppConfig{DataDir: dataDir})

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run() }()
	a.WaitReady()
	time.Sleep(100 * time.Millisecond)
	a.Quit()
	require.NoError(t, <-errCh, "Run should not return an error")

	got, err := store.Restore(context.Background())
	require.NoError(t, err, "Restore should not fail")
	require.Empty(t, got, "Items of unknown providers should be dropped from the queue")
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		conf daemon.AppConfig
	}{
		"Missing provider configuration": {conf: daemon.AppConfig{ProvidersPath: "/nonexistent/providers.yaml"}},
		"Unknown queue store":            {conf: daemon.AppConfig{QueueStore: "tape"}},
		"Unreachable database":           {conf: daemon.AppConfig{QueueStore: "postgres"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if tc.conf.ProvidersPath == "" {
				tc.conf.ProvidersPath = daemon.GenerateTestProviders(t, "providers: []\n")
			}
			tc.conf.DBconfig.Host = "127.0.0.1"
			tc.conf.DBconfig.Port = 1

			a := daemon.NewForTests(t, &tc.conf)
			err := a.Run()
			require.Error(t, err, "Run should fail")
			require.False(t, a.UsageError(), "Run should not report a usage error")
		})
	}
}

func TestRunInvalidProviderConfiguration(t *testing.T) {
	t.Parallel()

	p := daemon.GenerateTestProviders(t, "providers: [{id: a, kind: ftp}]\n")
	a := daemon.NewForTests(t, &daemon.AppConfig{ProvidersPath: p})
	require.Error(t, a.Run(), "Run should fail on an invalid provider configuration")
}

func TestUsageError(t *testing.T) {
	t.Parallel()

	a := daemon.NewForTests(t, nil, "--unknown-flag")
	require.Error(t, a.Run(), "Run should fail on an unknown flag")
	require.True(t, a.UsageError(), "Run should report a usage error")
}

func TestConfigFlags(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version", "-vv")
	require.NoError(t, a.Run(), "Run should not return an error")

	got := a.Config()
	require.Equal(t, 2, got.Verbosity, "Verbosity should be set from the flags")
	require.False(t, got.JSONLogs, "JSON logs should default to false")
	require.Equal(t, "localhost", got.API.Host, "API should only listen on the local host by default")
}

func TestDownloadRoot(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		root string

		want string
	}{
		"Defaults to the products folder of the data directory": {want: filepath.Join("/var/lib/eofetch", "products")},
		"Configured root": {root: "/srv/eo", want: "/srv/eo"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			conf := daemon.AppConfig{DataDir: "/var/lib/eofetch"}
			conf.API.DownloadRoot = tc.root

			require.Equal(t, tc.want, daemon.DownloadRoot(conf), "Download root should match")
		})
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("EOFETCH_SERVICE_QUEUESTORE", "tape")

	a := daemon.NewForTests(t, &daemon.AppConfig{QueueStore: "file"})
	err := a.Run()
	require.ErrorContains(t, err, "tape", "Environment should override the configuration file")
}

func TestVersion(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version")

	require.NoError(t, a.Run(), "Run should not return an error")
	require.False(t, a.UsageError(), "Version should not report a usage error")
}

func TestVersionRejectsArguments(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version", "extra")

	require.Error(t, a.Run(), "Run should fail with extra arguments")
	require.True(t, a.UsageError(), "Extra arguments should be a usage error")
}

func TestRootCmdName(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	cmd := a.RootCmd()
	require.Equal(t, constants.ServiceCmdName, cmd.Name(), "Root command should be named after the service")
}

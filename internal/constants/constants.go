// Package constants is responsible for defining the constants used in the application.
// It also provides utility functions to get the default configuration and data paths.
package constants

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// CmdName is the name of the command line tool.
	CmdName = "eofetch"

	// ServiceCmdName is the name of the download service command.
	ServiceCmdName = "eofetch-service"

	// DefaultAppFolder is the name of the default root folder.
	DefaultAppFolder = "eofetch"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn

	// ProvidersFileName is the default base name of the provider configuration file.
	ProvidersFileName = "providers.yaml"

	// CredentialsFileName is the default base name of the provider credentials file.
	CredentialsFileName = "credentials.ini"

	// QueueFolder is the name of the folder holding persisted download queue items.
	QueueFolder = "queue"
)

// Catalog defaults.
const (
	// DefaultLimit is the maximum number of products returned by a query when no limit is given.
	DefaultLimit = 100

	// MaxPageSize is the largest page requested from a catalog.
	MaxPageSize = 100
)

// Transport defaults.
const (
	// DefaultConnectTimeout is the default timeout for establishing a connection to a provider.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultReadTimeout is the default timeout for reading a provider response.
	DefaultReadTimeout = 5 * time.Minute

	// DefaultRetryAttempts is the number of attempts made for a single file before giving up.
	DefaultRetryAttempts = 3
)

type options struct {
	baseDir func() (string, error)
}

type option func(*options)

// GetDefaultConfigPath is the default path to the configuration directory.
func GetDefaultConfigPath(opts ...option) string {
	o := options{baseDir: os.UserConfigDir}
	for _, opt := range opts {
		opt(&o)
	}

	return filepath.Join(getBaseDir(o.baseDir), DefaultAppFolder)
}

// GetDefaultDataPath is the default path to the data directory, where queue items and products are stored.
func GetDefaultDataPath(opts ...option) string {
	o := options{baseDir: os.UserCacheDir}
	for _, opt := range opts {
		opt(&o)
	}

	return filepath.Join(getBaseDir(o.baseDir), DefaultAppFolder)
}

// getBaseDir is a helper function to handle the case where the baseDir function returns an error, and instead return an empty string.
func getBaseDir(baseDirFunc func() (string, error)) string {
	dir, err := baseDirFunc()
	if err != nil {
		return ""
	}
	return dir
}

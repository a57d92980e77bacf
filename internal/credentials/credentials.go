// Package credentials looks up the credentials used to authenticate against each provider.
//
// Credentials are read from an INI file with one section per provider, and can be overridden
// from the environment with EOFETCH_<PROVIDER>_USER, EOFETCH_<PROVIDER>_PASSWORD and EOFETCH_<PROVIDER>_TOKEN.
// A .env file, when present, is loaded into the environment first without overriding existing variables.
package credentials

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Credential holds the secrets used for one provider.
// For object stores, User is the access key id and Password the secret access key.
type Credential struct {
	User     string
	Password string
	Token    string
}

// IsZero reports whether no secret is set.
func (c Credential) IsZero() bool {
	return c == Credential{}
}

// Identity returns a stable, non secret identifier of the credential.
// Two credentials with the same identity can share an authenticated session.
func (c Credential) Identity() string {
	if c.IsZero() {
		return ""
	}
	if c.User != "" {
		return c.User
	}
	sum := sha256.Sum256([]byte(c.Token))
	return "token-" + hex.EncodeToString(sum[:8])
}

// String does not print secrets.
func (c Credential) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("<%s>", c.Identity())
}

// Store resolves provider credentials.
type Store struct {
	mu    sync.RWMutex
	creds map[string]Credential

	envPrefix string
	log       *slog.Logger
}

type options struct {
	envFiles  []string
	envPrefix string
	logger    *slog.Logger
}

// Options represents an optional function to override Store default values.
type Options func(*options)

// WithEnvFiles sets the dotenv files loaded before reading the environment.
func WithEnvFiles(files ...string) Options {
	return func(o *options) {
		o.envFiles = files
	}
}

// WithLogger sets the logger of the store.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// New loads the credentials file at path. A missing file is not an error: credentials then only come from the environment.
// An empty path skips the file.
func New(path string, args ...Options) (*Store, error) {
	opts := options{
		envFiles:  []string{".env"},
		envPrefix: "EOFETCH_",
		logger:    slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}

	for _, f := range opts.envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("could not load environment file %s: %v", f, err)
		}
	}

	s := &Store{
		creds:     make(map[string]Credential),
		envPrefix: opts.envPrefix,
		log:       opts.logger,
	}

	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		s.log.Info("No credentials file, only using the environment", "path", path)
		return s, nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("could not load credentials file: %v", err)
	}

	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		s.creds[strings.ToLower(sec.Name())] = Credential{
			User:     sec.Key("user").String(),
			Password: sec.Key("password").String(),
			Token:    sec.Key("token").String(),
		}
	}
	s.log.Debug("Loaded credentials", "path", path, "providers", len(s.creds))
	return s, nil
}

// Lookup returns the credential for a provider, environment values taking precedence over the file.
func (s *Store) Lookup(provider string) (Credential, bool) {
	s.mu.RLock()
	c := s.creds[strings.ToLower(provider)]
	s.mu.RUnlock()

	prefix := s.envPrefix + envName(provider) + "_"
	if v, ok := os.LookupEnv(prefix + "USER"); ok {
		c.User = v
	}
	if v, ok := os.LookupEnv(prefix + "PASSWORD"); ok {
		c.Password = v
	}
	if v, ok := os.LookupEnv(prefix + "TOKEN"); ok {
		c.Token = v
	}
	return c, !c.IsZero()
}

// Set registers a credential for a provider, replacing the file value.
func (s *Store) Set(provider string, c Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[strings.ToLower(provider)] = c
}

func envName(provider string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, provider)
}

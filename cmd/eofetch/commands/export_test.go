package commands

import (
	"context"
	"io"

	"github.com/ubuntu/eofetch/internal/config"
	"github.com/ubuntu/eofetch/internal/credentials"
	"github.com/ubuntu/eofetch/internal/discovery"
	"github.com/ubuntu/eofetch/internal/httpclient"
)

// SetArgs sets the arguments for the command.
func (a *App) SetArgs(args ...string) {
	a.cmd.SetArgs(args)
}

// SetOutput redirects the standard output of every command to w.
func (a *App) SetOutput(w io.Writer) {
	a.cmd.SetOut(w)
}

// WithLister makes discover walk l instead of the object store of the provider.
func WithLister(l discovery.Lister) Options {
	return func(o *options) {
		o.newLister = func(context.Context, config.Provider, discoverConfig, *httpclient.Client, credentials.Credential) (discovery.Lister, error) {
			return l, nil
		}
	}
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/ubuntu/eofetch/internal/config"
	"github.com/ubuntu/eofetch/internal/credentials"
	"github.com/ubuntu/eofetch/internal/downloads"
	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/product"
	"github.com/ubuntu/eofetch/internal/service"
)

type fetchConfig struct {
	Destination string
	Records     string
	Tiles       []string
	FetchMode   string
	Archive     string
}

func installFetchCmd(app *App) {
	fetchCmd := &cobra.Command{
		Use:   "fetch PROVIDER [PRODUCT-NAME...]",
		Short: "Download products from a provider",
		Long: `Download products from a provider into the destination directory.

Products are either named as arguments or read from a JSON file written by search or discover
with --output json. Records give the downloader the acquisition date and product path, which
some providers need to locate the product files.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && app.config.Fetch.Records == "" {
				app.cmd.SilenceUsage = false
				return errors.New("no product to fetch: name products or set --records")
			}
			if app.config.Fetch.FetchMode != "" {
				if _, err := product.ParseFetchMode(app.config.Fetch.FetchMode); err != nil {
					app.cmd.SilenceUsage = false
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("Running fetch command", "provider", args[0])
			return app.fetchRun(cmd.Context(), cmd, args[0], args[1:])
		},
	}

	fetchCmd.Flags().StringVarP(&app.config.Fetch.Destination, "dest", "d", ".", "directory the products are downloaded into")
	fetchCmd.Flags().StringVarP(&app.config.Fetch.Records, "records", "r", "", "JSON file of product records to download")
	fetchCmd.Flags().StringSliceVarP(&app.config.Fetch.Tiles, "tile", "t", nil, "only download the granules of these tiles")
	fetchCmd.Flags().StringVar(&app.config.Fetch.FetchMode, "fetch-mode", "", "overwrite, resume, skip-existing, copy or symlink, instead of the provider fetch mode")
	fetchCmd.Flags().StringVar(&app.config.Fetch.Archive, "archive", "", "local archive URL searched before downloading, such as file:///srv/archive")

	if err := fetchCmd.MarkFlagDirname("dest"); err != nil {
		panic(fmt.Sprintf("failed to mark dest flag as directory: %v", err))
	}
	if err := fetchCmd.MarkFlagFilename("records", "json"); err != nil {
		panic(fmt.Sprintf("failed to mark records flag as filename: %v", err))
	}

	app.cmd.AddCommand(fetchCmd)
}

func (a App) fetchRun(ctx context.Context, cmd *cobra.Command, providerID string, names []string) error {
	cfg := a.config.Fetch

	p, err := a.provider(providerID)
	if err != nil {
		return err
	}
	if cfg.FetchMode != "" {
		if p.FetchMode, err = product.ParseFetchMode(cfg.FetchMode); err != nil {
			return err
		}
	}

	records, err := fetchRecords(cfg.Records, names)
	if err != nil {
		return err
	}

	item := downloads.Item{ProviderID: p.ID, Destination: cfg.Destination, LocalArchive: cfg.Archive, Tiles: cfg.Tiles}
	for _, r := range records {
		if err := item.SetRecord(r); err != nil {
			return err
		}
	}
	item.ID = downloads.ItemID(item.ProductIDs, item.ProviderID, item.Destination)

	if err := os.MkdirAll(cfg.Destination, 0750); err != nil {
		return fmt.Errorf("could not create destination directory: %v", err)
	}

	client, err := a.httpClient()
	if err != nil {
		return err
	}
	cred, err := a.credential(p.ID)
	if err != nil {
		return err
	}

	builder := service.NewBuilder(singleProvider(p), singleCredential(cred), client, product.NewLogSink(slog.Default()), slog.Default())
	task, err := builder.Task(item)
	if err != nil {
		return err
	}
	if err := task(ctx); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d products into %s\n", len(records), cfg.Destination)
	return err
}

// fetchRecords returns the records of file followed by records named after names.
func fetchRecords(file string, names []string) ([]eodata.ProductRecord, error) {
	var records []eodata.ProductRecord
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("could not open product records: %v", err)
		}
		defer f.Close()
		if records, err = readRecords(f); err != nil {
			return nil, err
		}
	}
	for _, n := range names {
		records = append(records, eodata.ProductRecord{ID: n, Name: n})
	}
	if len(records) == 0 {
		return nil, eodata.ParameterErrorf("no product to fetch")
	}
	return records, nil
}

// singleProvider serves the configuration of one provider, with the command line overrides applied.
type singleProvider config.Provider

func (p singleProvider) Provider(id string) (config.Provider, bool) {
	return config.Provider(p), id == p.ID
}

// singleCredential serves the credential of the fetched provider.
type singleCredential credentials.Credential

func (c singleCredential) Lookup(string) (credentials.Credential, bool) {
	cred := credentials.Credential(c)
	return cred, !cred.IsZero()
}

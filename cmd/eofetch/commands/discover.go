package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/ubuntu/eofetch/internal/config"
	"github.com/ubuntu/eofetch/internal/credentials"
	"github.com/ubuntu/eofetch/internal/discovery"
	"github.com/ubuntu/eofetch/internal/eodata"
	"github.com/ubuntu/eofetch/internal/httpclient"
	"github.com/ubuntu/eofetch/internal/tilegrid"
)

type discoverConfig struct {
	Selection selection
	TileGrid  string
	Endpoint  string
	Output    string
}

// newLister returns the lister of the object store of provider p.
type newLister func(ctx context.Context, p config.Provider, cfg discoverConfig, client *httpclient.Client, cred credentials.Credential) (discovery.Lister, error)

func installDiscoverCmd(app *App) {
	discoverCmd := &cobra.Command{
		Use:   "discover PROVIDER",
		Short: "Discover products in the object store of a provider",
		Long: `Discover Sentinel-2 or Landsat-8 products by walking the object store of a provider tile by tile.

PROVIDER is the id of an aws provider of the provider configuration file. Its bucket is listed with
the S3 API when a bucket name is configured, and through its public HTTP listing otherwise.
Tiles are taken from --tile, or from the tiles of the grid intersecting the area of interest.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return app.checkSelection(app.config.Discover.Selection, app.config.Discover.Output)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("Running discover command", "provider", args[0])
			return app.discoverRun(cmd.Context(), cmd, args[0])
		},
	}

	addSelectionFlags(discoverCmd, &app.config.Discover.Selection)
	discoverCmd.Flags().StringVar(&app.config.Discover.TileGrid, "tile-grid", "", "tile grid file resolving the area of interest, instead of the packaged grid of the sensor")
	discoverCmd.Flags().StringVar(&app.config.Discover.Endpoint, "endpoint", "", "S3 endpoint URL, for S3 compatible object stores")
	discoverCmd.Flags().StringVarP(&app.config.Discover.Output, "output", "o", formatTable, "output format: table, json or names")

	if err := discoverCmd.MarkFlagFilename("tile-grid", "yaml", "yml"); err != nil {
		panic(fmt.Sprintf("failed to mark tile-grid flag as filename: %v", err))
	}

	app.cmd.AddCommand(discoverCmd)
}

func (a App) discoverRun(ctx context.Context, cmd *cobra.Command, providerID string) error {
	cfg := a.config.Discover
	s := cfg.Selection

	p, err := a.provider(providerID)
	if err != nil {
		return err
	}
	if p.Kind != config.KindAWS {
		return fmt.Errorf("provider %q of kind %s has no object store", p.ID, p.Kind)
	}

	q := discovery.Query{
		Tiles:         s.Tiles,
		MaxCloudCover: s.maxCloudCover(),
		RelativeOrbit: s.Orbit,
		ProductTypes:  s.ProductTypes,
		Limit:         s.Limit,
	}
	if q.Sensor, err = s.sensor(); err != nil {
		return err
	}
	if q.Start, q.End, err = s.window(); err != nil {
		return err
	}
	if q.AOI, err = s.area(); err != nil {
		return err
	}

	grid, err := loadGrid(cfg.TileGrid, q.Sensor)
	if err != nil {
		return err
	}

	client, err := a.httpClient()
	if err != nil {
		return err
	}
	cred, err := a.credential(p.ID)
	if err != nil {
		return err
	}
	lister, err := a.newLister(ctx, p, cfg, client, cred)
	if err != nil {
		return fmt.Errorf("failed to create object store lister: %v", err)
	}

	res, err := discovery.New(lister, grid, discovery.WithLogger(slog.Default().With("provider", p.ID))).Search(ctx, q)
	if err != nil {
		return err
	}
	return writeRecords(cmd.OutOrStdout(), cfg.Output, res.Records())
}

// loadGrid returns the tile grid in path, or the packaged grid of sensor when path is empty.
func loadGrid(path string, sensor eodata.Sensor) (*tilegrid.Grid, error) {
	if path != "" {
		return tilegrid.LoadFile(path)
	}
	switch sensor {
	case eodata.Sentinel2:
		return tilegrid.Sentinel2()
	case eodata.Landsat8:
		return tilegrid.Landsat8()
	default:
		return nil, nil
	}
}

// defaultLister lists the bucket of p with the S3 API when it is named, and through its HTTP
// listing otherwise.
func defaultLister(ctx context.Context, p config.Provider, cfg discoverConfig, client *httpclient.Client, cred credentials.Credential) (discovery.Lister, error) {
	if p.Bucket == "" {
		return discovery.NewHTTPLister(client, p.BaseURL)
	}

	var opts []discovery.S3Options
	if p.Region != "" {
		opts = append(opts, discovery.WithRegion(p.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, discovery.WithEndpoint(cfg.Endpoint))
	}
	if p.RequesterPays {
		opts = append(opts, discovery.WithRequesterPays())
	}
	if cred.User != "" {
		opts = append(opts, discovery.WithStaticCredentials(cred.User, cred.Password))
	} else if !p.RequesterPays {
		opts = append(opts, discovery.WithAnonymous())
	}
	return discovery.NewS3Lister(ctx, p.Bucket, opts...)
}

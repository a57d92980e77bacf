package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/ubuntu/eofetch/internal/catalog"
	"github.com/ubuntu/eofetch/internal/config"
	"github.com/ubuntu/eofetch/internal/eodata"
)

type searchConfig struct {
	Selection    selection
	PageSize     int
	Page         int
	Count        bool
	Output       string
	Polarisation string
	SensorMode   string
}

func installSearchCmd(app *App) {
	searchCmd := &cobra.Command{
		Use:   "search PROVIDER",
		Short: "Search the catalog of a provider",
		Long: `Search the catalog of a provider for products matching the filters.

PROVIDER is the id of a scihub or peps provider of the provider configuration file.
Results are printed in provider order, up to the limit.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return app.checkSelection(app.config.Search.Selection, app.config.Search.Output)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("Running search command", "provider", args[0])
			return app.searchRun(cmd.Context(), cmd, args[0])
		},
	}

	addSelectionFlags(searchCmd, &app.config.Search.Selection)
	searchCmd.Flags().IntVar(&app.config.Search.PageSize, "page-size", 0, "number of results requested per page, 0 for the default")
	searchCmd.Flags().IntVar(&app.config.Search.Page, "page", 0, "only fetch this 1-based page of results, 0 for all pages")
	searchCmd.Flags().BoolVar(&app.config.Search.Count, "count", false, "only print the number of matching products")
	searchCmd.Flags().StringVarP(&app.config.Search.Output, "output", "o", formatTable, "output format: table, json or names")
	searchCmd.Flags().StringVar(&app.config.Search.Polarisation, "polarisation", "", "Sentinel-1 polarisation mode, such as VV VH")
	searchCmd.Flags().StringVar(&app.config.Search.SensorMode, "sensor-mode", "", "Sentinel-1 sensor operational mode, such as IW")

	app.cmd.AddCommand(searchCmd)
}

func (a App) searchRun(ctx context.Context, cmd *cobra.Command, providerID string) error {
	cfg := a.config.Search

	p, err := a.provider(providerID)
	if err != nil {
		return err
	}
	if p.Kind != config.KindSciHub && p.Kind != config.KindPEPS {
		return fmt.Errorf("provider %q of kind %s has no catalog", p.ID, p.Kind)
	}

	sensor, err := cfg.Selection.sensor()
	if err != nil {
		return err
	}
	strategy, err := catalog.NewStrategy(catalog.Kind(p.Kind), sensor, p.BaseURL)
	if err != nil {
		return err
	}
	params, err := searchParameters(cfg)
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

	q := catalog.New(strategy, client,
		catalog.WithLimit(cfg.Selection.Limit),
		catalog.WithPageSize(cfg.PageSize),
		catalog.WithPage(cfg.Page),
		catalog.WithCredential(cred),
		catalog.WithLogger(slog.Default().With("provider", p.ID)))

	if cfg.Count {
		n, err := q.Count(ctx, params)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
		return err
	}

	records, err := q.Execute(ctx, params)
	if err != nil {
		return err
	}
	return writeRecords(cmd.OutOrStdout(), cfg.Output, records)
}

// searchParameters returns the catalog parameters of the filters.
func searchParameters(cfg searchConfig) (eodata.Parameters, error) {
	s := cfg.Selection
	var params eodata.Parameters

	start, end, err := s.window()
	if err != nil {
		return nil, err
	}
	if !start.IsZero() || !end.IsZero() {
		params.Set(eodata.DateRange(catalog.ParamAcquisition, start, end))
	}

	area, err := s.area()
	if err != nil {
		return nil, err
	}
	if area != nil {
		params.Set(eodata.Geometry(catalog.ParamFootprint, *area))
	}

	switch len(s.Tiles) {
	case 0:
	case 1:
		params.Set(eodata.String(catalog.ParamTile, s.Tiles[0]))
	default:
		return nil, eodata.ParameterErrorf("catalog searches accept a single tile, got %d", len(s.Tiles))
	}

	if cc := s.maxCloudCover(); cc != nil {
		params.Set(eodata.Number(catalog.ParamCloudCover, *cc))
	}
	if s.Orbit > 0 {
		params.Set(eodata.Number(catalog.ParamRelativeOrbit, float64(s.Orbit)))
	}
	if len(s.ProductTypes) > 0 {
		params.Set(eodata.Array(catalog.ParamProductType, s.ProductTypes...))
	}
	if cfg.Polarisation != "" {
		params.Set(eodata.String(catalog.ParamPolarisation, cfg.Polarisation))
	}
	if cfg.SensorMode != "" {
		params.Set(eodata.String(catalog.ParamSensorMode, cfg.SensorMode))
	}
	return params, nil
}

package commands

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/ubuntu/eofetch/internal/fileutils"
	"github.com/ubuntu/eofetch/internal/tilegrid"
)

type gridConfig struct {
	Output string
}

func installGridCmd(app *App) {
	gridCmd := &cobra.Command{
		Use:   "import-grid KML-FILE",
		Short: "Convert a KML tiling grid into a tile table",
		Long: `Convert the KML tiling grid published for Sentinel-2 (MGRS) or Landsat 8 (WRS-2) into the
YAML tile table read by discover --tile-grid.

The grids packaged with eofetch only cover a sample of tiles. Import the complete published
grid to resolve areas of interest anywhere.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("Running import-grid command", "kml", args[0])
			return app.gridRun(cmd, args[0])
		},
	}

	gridCmd.Flags().StringVarP(&app.config.Grid.Output, "out", "o", "", "tile table file to write, instead of the standard output")
	if err := gridCmd.MarkFlagFilename("out", "yaml", "yml"); err != nil {
		panic(fmt.Sprintf("failed to mark out flag as filename: %v", err))
	}

	app.cmd.AddCommand(gridCmd)
}

func (a App) gridRun(cmd *cobra.Command, kmlPath string) error {
	f, err := os.Open(kmlPath)
	if err != nil {
		return fmt.Errorf("could not open KML grid: %v", err)
	}
	defer f.Close()

	g, err := tilegrid.FromKML(f)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := g.WriteYAML(&buf); err != nil {
		return err
	}
	if a.config.Grid.Output == "" {
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	if err := fileutils.AtomicWrite(a.config.Grid.Output, buf.Bytes()); err != nil {
		return fmt.Errorf("could not write tile table: %v", err)
	}
	slog.Info("Tile table written", "path", a.config.Grid.Output, "tiles", g.Len())
	return nil
}

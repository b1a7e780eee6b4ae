package cli

import (
	"fmt"

	"github.com/sidequest/server/catalog"
	"github.com/spf13/cobra"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var file string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load quests and locations from a YAML catalog file",
		Long: `Load quests and locations from a YAML catalog file.

Entries are upserted by id, so seeding the same file twice is harmless.
Without --file the configured quest.catalog_path is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if file == "" {
				file = cfg.Quest.CatalogPath
			}
			f, err := catalog.LoadFile(file)
			if err != nil {
				return fmt.Errorf("load %s: %w", file, err)
			}
			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintf(out, "%s: %d locations, %d quests (valid)\n", file, len(f.Locations), len(f.Quests))
				return nil
			}

			db, err := OpenDB(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			res, err := catalog.NewStore(db).Seed(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			fmt.Fprintf(out, "seeded %d locations, %d quests\n", res.Locations, res.Quests)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog YAML file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	return cmd
}

package cli

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/sidequest/server/config"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
}

// Load reads the config named by the --config flag.
func (o *RootOptions) Load() (*config.Config, error) {
	return config.Load(o.ConfigPath)
}

// NewRootCommand creates the sidequest command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "sidequest",
		Short:         "SideQuest location quest server",
		Long:          "Serves the SideQuest API: accounts, the quest catalog, quest progress, friends and the leaderboard.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A .env file is optional; values already in the environment win.
			if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config/config.yaml", "config file path")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "optional dotenv file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

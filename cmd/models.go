package cmd

import (
	"fmt"

	"github.com/bz888/studyhelper/internal/config"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models of every configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			if err := logger.InitLogger(cfg.Dev, cfg.LogPath, nil); err != nil {
				return err
			}
			defer logger.Close()

			deps, err := wire(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			models, err := deps.registry.Refresh(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, model := range models {
				marker := " "
				if model == cfg.Model {
					marker = "*"
				}
				provider := ""
				if c, err := deps.registry.ProviderFor(model); err == nil {
					provider = c.Name()
				}
				fmt.Fprintf(out, "%s %-40s %s\n", marker, model, provider)
			}
			return nil
		},
	}
}

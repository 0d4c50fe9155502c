package main

import (
	"github.com/spf13/cobra"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/fetch"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/config"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/observability"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/usecase"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the configured ERA5 and CRU archives that are missing locally.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(flagOverrides(cmd.Flags())...)
		if err != nil {
			return err
		}
		logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
		return usecase.FetchArchives(cmd.Context(), cfg, fetch.New(nil, logger), logger)
	},
}

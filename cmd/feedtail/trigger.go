package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"learnhub/internal/adapters/realtime"
	"learnhub/internal/infra/config"
)

var triggerSQLCmd = &cobra.Command{
	Use:   "trigger-sql",
	Short: "Напечатать DDL триггера, который публикует вставки в канал NOTIFY",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Parse()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), realtime.TriggerSQL(cfg.Realtime.Channel))
		return err
	},
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omniai/payments/internal/pkg/billing"
	"github.com/omniai/payments/internal/pkg/database"
	"github.com/omniai/payments/internal/pkg/env"
	"github.com/omniai/payments/internal/pkg/logger"
)

func seedPlansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-plans",
		Short: "Insert the default USD subscription plans",
		Long: `Insert the six default plans (three individual, three company) priced in
USD. Nothing is written when any plan already exists.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(env.GetEnv("APP_ENV", "prod"))
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			cfg, err := billing.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			db, err := database.Open(database.ConfigFromEnv(), log)
			if err != nil {
				return err
			}

			svc := billing.NewServiceFromDB(cfg, db, nil, billing.WithLogger(log))
			n, err := svc.SeedPlans(cmd.Context())
			if err != nil {
				return fmt.Errorf("seed plans: %w", err)
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "plans already present, nothing to do")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d plans\n", n)
			return nil
		},
	}
}

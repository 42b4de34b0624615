package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omniai/payments/internal/pkg/env"
)

var Version = "dev"

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "paymentctl",
		Short:        "Operations tooling for the OMNIAI payment service",
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.AddCommand(seedPlansCmd())
	cmd.AddCommand(createAdminCmd())
	cmd.AddCommand(checkCmd())
	return cmd
}

func main() {
	_ = env.SetupEnvFile()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

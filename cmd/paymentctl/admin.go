package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/omniai/payments/app/models"
	"github.com/omniai/payments/app/repository"
	"github.com/omniai/payments/internal/pkg/database"
	"github.com/omniai/payments/internal/pkg/env"
	"github.com/omniai/payments/internal/pkg/logger"
)

func createAdminCmd() *cobra.Command {
	var (
		email       string
		name        string
		passwordEnv string
	)
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin user or promote an existing one",
		Long: `Create an admin user, or promote the user with that email to admin.
The password is read from an environment variable so it never shows up in
shell history or process listings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv(passwordEnv)
			if password == "" {
				return fmt.Errorf("%s is not set", passwordEnv)
			}

			log, err := logger.New(env.GetEnv("APP_ENV", "prod"))
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := database.Open(database.ConfigFromEnv(), log)
			if err != nil {
				return err
			}
			users := repository.NewFactory(db).GetUserRepository()

			created, err := ensureAdmin(cmd.Context(), users, name, email, password)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s created\n", strings.ToLower(email))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s updated\n", strings.ToLower(email))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Admin email address")
	cmd.Flags().StringVar(&name, "name", "Administrator", "Display name")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "ADMIN_PASSWORD", "Environment variable holding the password")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// ensureAdmin creates the admin or promotes and re-keys an existing user. It
// reports whether a new user was created.
func ensureAdmin(ctx context.Context, users repository.UserRepository, name, email, password string) (bool, error) {
	existing, err := users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := existing.SetPassword(password); err != nil {
			return false, err
		}
		existing.Role = models.ROLE_ADMIN
		existing.Status = models.STATUS_ACTIVE
		return false, users.Update(ctx, existing)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return false, fmt.Errorf("lookup user: %w", err)
	}

	user, err := models.CreateUser(name, email, password, models.UserTypeIndividual)
	if err != nil {
		return false, err
	}
	user.Role = models.ROLE_ADMIN
	if err := users.Create(ctx, user); err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}

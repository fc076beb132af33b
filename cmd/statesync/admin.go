package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/annel0/statesync/internal/auth"
)

// newAdminCommand утилиты для секции admin конфигурации
func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Секреты admin API",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "hash-password <password>",
		Short: "bcrypt-хеш для admin.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPasswordHash(cmd.OutOrStdout(), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "secret",
		Short: "Случайный секрет для admin.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), auth.GenerateSecureSecret())
			return err
		},
	})
	return cmd
}

func printPasswordHash(w io.Writer, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("пароль не принят (минимум %d символов): %w", auth.MinPasswordLength, err)
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

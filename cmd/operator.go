package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/stkpush-checkout/internal/operator"
)

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Operator account helpers",
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Print a bcrypt hash for security.operator_password_hash",
	Long:  `Reads the operator password from the first line of stdin and prints its bcrypt hash.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configDir)
		if err != nil {
			return err
		}

		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return errors.New("password must not be empty")
		}

		hash, err := operator.HashPassword(password, cfg.Security.BCryptCost)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	operatorCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(operatorCmd)
}

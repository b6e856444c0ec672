package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var operatorPassword string

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Manage panel operators",
}

var operatorAddCmd = &cobra.Command{
	Use:   "add USERNAME",
	Short: "Add an operator",
	Long: `Add an operator who can sign in to the API.

The password is taken from --password or, when that is empty, read as a
single line from standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := operatorPassword
		if password == "" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return errors.New("password must not be empty")
		}

		ctx := context.Background()
		d, err := openCLI(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.auth.AddOperator(ctx, args[0], password); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]string{"username": args[0], "status": "created"})
		}
		printSuccess(fmt.Sprintf("Added operator %s", args[0]))
		if operatorPassword != "" {
			printWarning("password was passed on the command line; it may be kept in shell history")
		}
		return nil
	},
}

func init() {
	operatorAddCmd.Flags().StringVar(&operatorPassword, "password", "", "Operator password (read from stdin when empty)")
	operatorCmd.AddCommand(operatorAddCmd)
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/auth"
)

// cliPrincipal is the actor recorded for offline commands.
var cliPrincipal = auth.Internal("cli")

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Manage server workspaces",
}

var workspaceLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List all workspaces",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openCLI(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		list, err := d.gateway.ListWorkspaces(ctx, cliPrincipal)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(list)
		}

		printSection("Workspaces")
		if len(list) == 0 {
			printEmptyState("No workspaces found")
			return nil
		}
		rows := make([][]string, 0, len(list))
		for _, ws := range list {
			rows = append(rows, []string{
				ws.ID,
				ws.Name,
				ws.RootPath,
				ws.CreatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		printTable([]string{"ID", "Name", "Path", "Created"}, rows)
		return nil
	},
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openCLI(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		ws, err := d.gateway.CreateWorkspace(ctx, cliPrincipal, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(ws)
		}
		printSuccess(fmt.Sprintf("Created workspace %s (%s)", ws.Name, ws.ID))
		fmt.Printf("  root:   %s\n", ws.RootPath)
		fmt.Printf("  backup: %s\n", ws.BackupPath)
		return nil
	},
}

var workspaceRmCmd = &cobra.Command{
	Use:     "rm ID",
	Aliases: []string{"delete"},
	Short:   "Delete a workspace and all of its files",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openCLI(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.gateway.DeleteWorkspace(ctx, cliPrincipal, args[0]); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]string{"id": args[0], "status": "deleted"})
		}
		printSuccess(fmt.Sprintf("Deleted workspace %s", args[0]))
		return nil
	},
}

func init() {
	workspaceCmd.AddCommand(workspaceLsCmd)
	workspaceCmd.AddCommand(workspaceCreateCmd)
	workspaceCmd.AddCommand(workspaceRmCmd)
}

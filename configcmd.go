package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"node.town/voxrelay/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage config overrides stored in the database",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored overrides",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, queries, closeDB, mainLogger := openArchive(ctx)
		defer closeDB()

		configs, err := config.NewOverrides(queries).List(ctx)
		if err != nil {
			mainLogger.Fatal("list config", "error", err.Error())
		}
		table := newTable("Key", "Value", "Updated")
		for _, c := range configs {
			table.Append([]string{c.Key, c.Value, c.UpdatedAt.Local().Format("2006-01-02 15:04:05")})
		}
		table.Render()
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a stored override",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, queries, closeDB, mainLogger := openArchive(ctx)
		defer closeDB()

		value, err := config.NewOverrides(queries).Get(ctx, args[0])
		if err != nil {
			mainLogger.Fatal("get config", "error", err.Error())
		}
		fmt.Println(value)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store an override that serve applies on startup",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, queries, closeDB, mainLogger := openArchive(ctx)
		defer closeDB()

		if err := config.NewOverrides(queries).Set(ctx, args[0], args[1]); err != nil {
			mainLogger.Fatal("set config", "error", err.Error())
		}
		mainLogger.Info("saved", "key", args[0])
	},
}

func init() {
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
}

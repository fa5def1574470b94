package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/server"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := common.LoadConfig()
		if err != nil {
			return err
		}
		db, err := server.ConnectDB(cmd.Context(), cfg.Database, logger)
		if err != nil {
			return err
		}
		server.CloseDB(db, logger)
		fmt.Println("schema up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

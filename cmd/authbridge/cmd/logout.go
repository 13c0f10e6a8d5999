package cmd

import (
	"fmt"

	"authbridge/pkg/session"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove stored credentials",
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := buildLogger(cfg.LogLevel)
	defer log.Sync()

	mgr := session.NewManager(cfg, session.WithLogger(log))
	mgr.SignOut()

	fmt.Printf("👋 Signed out. Stored credentials removed.\n")
	return nil
}

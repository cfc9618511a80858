package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	// Version is set via ldflags during build
	Version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "certagent",
	Short: "Issue, install and renew ACME certificates",
	Long: `certagent requests certificates from an ACME certificate authority, proves
control of the identifiers with http-01 or dns-01, stores and installs the
result and renews every certificate before it expires.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "INI config file (default: environment only)")
}

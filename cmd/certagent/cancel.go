package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a renewal",
	Long:  `Delete a renewal from the store. Certificates that were stored or installed stay in place.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	r, err := a.store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if err := a.store.Cancel(ctx, r); err != nil {
		return err
	}
	fmt.Printf("✓ Renewal %s cancelled\n", r.FriendlyName)
	return nil
}

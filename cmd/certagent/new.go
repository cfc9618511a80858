package main

import (
	"fmt"

	"go_certagent/internal/input"

	"github.com/spf13/cobra"
)

var newName string

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a renewal interactively",
	Long: `Ask for the target, validation, store and installation plugins, request the
first certificate and save the renewal when it succeeds.`,
	RunE: runNew,
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().StringVar(&newName, "name", "", "friendly name (default: the certificate's common name)")
}

func runNew(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	console := input.NewConsole()
	a.env.Input = console

	r, err := a.runner()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	ren, res, err := r.Create(ctx, console, newName)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Renewal %s created (%s)\n", ren.FriendlyName, ren.ID)
	fmt.Printf("  Certificate: %s\n", res.Thumbprint)
	fmt.Printf("  Next renewal: %s\n", ren.NextDueDate.Format("2006-01-02"))
	return nil
}

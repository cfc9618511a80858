package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	renewForce bool
	renewID    string
)

var renewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Run the due renewals unattended",
	Long: `Run every renewal whose due date has passed, one after another. With --force
every renewal runs; with --id only that renewal runs, due or not.`,
	RunE: runRenew,
}

func init() {
	rootCmd.AddCommand(renewCmd)
	renewCmd.Flags().BoolVar(&renewForce, "force", false, "run renewals that are not due yet")
	renewCmd.Flags().StringVar(&renewID, "id", "", "run only this renewal")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRenew(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.runner()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	if renewID != "" {
		ren, res, err := r.RunByID(ctx, renewID, nil)
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s renewed, certificate %s\n", ren.FriendlyName, res.Thumbprint)
		return nil
	}

	sum, err := r.RunDue(ctx, nil, renewForce)
	if err != nil {
		return err
	}
	fmt.Println(sum.String())
	if sum.Failed > 0 {
		return fmt.Errorf("%d renewals failed", sum.Failed)
	}
	return nil
}

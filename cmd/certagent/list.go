package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go_certagent/internal/renewal"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the renewals",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.store.List(context.Background())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No renewals")
		return nil
	}

	fmt.Printf("%-36s  %-24s  %-10s  %-7s  %s\n", "ID", "NAME", "DUE", "STATUS", "IDENTIFIERS")
	now := time.Now()
	for _, r := range list {
		fmt.Printf("%-36s  %-24s  %-10s  %-7s  %s\n", r.ID, r.FriendlyName, due(r, now), status(r), identifiers(r))
	}
	return nil
}

func due(r *renewal.Renewal, now time.Time) string {
	if r.IsDue(now) {
		return "now"
	}
	return r.NextDueDate.Format("2006-01-02")
}

func status(r *renewal.Renewal) string {
	last, ok := r.Last()
	switch {
	case !ok:
		return "-"
	case last.Success:
		return "ok"
	default:
		return "failed"
	}
}

func identifiers(r *renewal.Renewal) string {
	if last, ok := r.Last(); ok {
		return strings.Join(last.Identifiers, ",")
	}
	return ""
}

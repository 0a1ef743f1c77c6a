package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsClearCmd)
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notifs"},
	Short:   "Notification commands",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		items, err := client.FetchNotifications(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(items) == 0 {
			fmt.Println("No notifications.")
			return nil
		}
		for _, n := range items {
			fmt.Printf("[%s] %-12s %s\n", n.CreatedAt.Local().Format("Jan 2 15:04"), n.Type, n.Message)
		}
		return nil
	},
}

var notificationsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.ClearNotifications(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("Cleared.")
		return nil
	},
}

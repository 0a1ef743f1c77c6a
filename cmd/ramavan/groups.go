package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ramavan "github.com/ramavan-chat/ramavan-go"
	"github.com/spf13/cobra"
)

var (
	groupsListJSON    bool
	groupsMembersJSON bool
)

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.AddCommand(groupsListCmd)
	groupsCmd.AddCommand(groupsMembersCmd)

	groupsListCmd.Flags().BoolVar(&groupsListJSON, "json", false, "print raw JSON")
	groupsMembersCmd.Flags().BoolVar(&groupsMembersJSON, "json", false, "print raw JSON")
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Group commands",
	Long:  "List your groups and inspect their members.",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the groups you belong to",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		groups, err := client.FetchGroups(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if groupsListJSON {
			data, err := json.MarshalIndent(groups, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(groups) == 0 {
			fmt.Println("No groups.")
			return nil
		}
		for _, g := range groups {
			marker := " "
			if g.ID == cfg.State.LastGroupID {
				marker = "*"
			}
			region := ""
			if g.Region != "" {
				region = " (" + g.Region + ")"
			}
			fmt.Printf("%s %-24s %s%s\n", marker, g.ID, g.Name, region)
		}
		return nil
	},
}

var groupsMembersCmd = &cobra.Command{
	Use:   "members <group-id>",
	Short: "List a group's members and who is online",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		members, err := client.FetchGroupMembers(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if groupsMembersJSON {
			data, err := json.MarshalIndent(members, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Online: %d\n\n", members.OnlineMembers)
		printMembers("Managers", members.Managers)
		printMembers("Members", members.Users)
		return nil
	},
}

func printMembers(heading string, members []ramavan.GroupMember) {
	if len(members) == 0 {
		return
	}
	fmt.Printf("%s:\n", heading)
	for _, m := range members {
		status := "offline"
		if m.IsOnline {
			status = "online"
		} else if m.LastSeen != nil {
			status = "last seen " + m.LastSeen.Format("Jan 2 15:04")
		}
		fmt.Printf("  %-20s %s\n", m.Username, status)
	}
	fmt.Println()
}

package main

import (
	"context"
	"fmt"
	"time"

	linsta "github.com/Bhupesh-S/Linsta-sub003"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(roomsCmd)
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List conversations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		session := getSession()
		defer session.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Show the cached snapshot while the fresh load runs.
		if session.Store.LoadCached() {
			fmt.Println("(cached)")
			printConversations(session.Store.Conversations())
		}

		if err := session.Store.LoadConversations(ctx); err != nil {
			return fmt.Errorf("failed to load conversations: %w", err)
		}
		printConversations(session.Store.Conversations())
		return nil
	},
}

func printConversations(convos []linsta.Conversation) {
	if len(convos) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, c := range convos {
		preview := ""
		if c.LastMessage != nil {
			preview = c.LastMessage.Text
			if c.LastMessage.Deleted {
				preview = "(deleted)"
			}
			if len(preview) > 48 {
				preview = preview[:45] + "..."
			}
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf(" [%d unread]", c.UnreadCount)
		}
		fmt.Printf("%-24s  %-20s  %s%s\n", c.ID, c.Participant.DisplayName, preview, unread)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	linsta "github.com/Bhupesh-S/Linsta-sub003"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live notifications until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		session := getSession()
		defer session.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		session.Notifications.OnStateChange(func(state linsta.ChannelState) {
			fmt.Printf("-- channel %s\n", state)
		})
		session.Notifications.OnExhausted(func(err error) {
			fmt.Fprintf(os.Stderr, "-- notifications paused: %v\n", err)
			stop()
		})
		session.Notifications.OnNotification(func(n linsta.Notification) {
			actor := ""
			if n.Actor != nil {
				actor = n.Actor.Name + ": "
			}
			fmt.Printf("[%s] %s%s (ref %s)\n", n.Kind, actor, n.Message, n.ReferenceID)
		})

		session.StartNotifications(ctx)

		<-ctx.Done()
		fmt.Printf("\n%d notifications received this session\n", session.Notifications.UnreadCount())
		return nil
	},
}

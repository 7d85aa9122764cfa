package main

import (
	"context"
	"fmt"
	"time"

	linsta "github.com/Bhupesh-S/Linsta-sub003"

	"github.com/spf13/cobra"
)

var (
	sendReplyTo string
	sendImage   string
	sendVideo   string
)

func init() {
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "message id to reply to")
	sendCmd.Flags().StringVar(&sendImage, "image", "", "path to an image file to attach")
	sendCmd.Flags().StringVar(&sendVideo, "video", "", "path to a video file to attach")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <user-id> [text]",
	Short: "Send a message to a user",
	Long:  "Open (or create) the conversation with a user and send a text or media message.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		text := ""
		if len(args) > 1 {
			text = args[1]
		}
		if text == "" && sendImage == "" && sendVideo == "" {
			return fmt.Errorf("nothing to send: pass text or --image/--video")
		}

		session := getSession()
		defer session.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		conv, err := session.Store.OpenConversationWithUser(ctx, userID, "")
		if err != nil {
			return fmt.Errorf("failed to open conversation: %w", err)
		}

		var msg *linsta.Message
		switch {
		case sendImage != "":
			msg, err = session.Store.SendMediaMessage(ctx, conv.ID, linsta.MediaRef{Path: sendImage, Kind: linsta.MediaImage}, text, sendReplyTo)
		case sendVideo != "":
			msg, err = session.Store.SendMediaMessage(ctx, conv.ID, linsta.MediaRef{Path: sendVideo, Kind: linsta.MediaVideo}, text, sendReplyTo)
		default:
			msg, err = session.Store.SendMessage(ctx, conv.ID, text, sendReplyTo)
		}
		if err != nil {
			return fmt.Errorf("failed to send: %w", err)
		}

		fmt.Printf("Sent %s at %s\n", msg.ID, msg.Timestamp)
		return nil
	},
}

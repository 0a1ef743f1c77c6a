package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ramavan "github.com/ramavan-chat/ramavan-go"
	"github.com/spf13/cobra"
)

var sendFilePath string

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendFilePath, "file", "f", "", "attach a file")
}

var sendCmd = &cobra.Command{
	Use:   "send <group-id> <text>",
	Short: "Send a message to a group",
	Long:  "Send a text message to a group, optionally attaching a file.\nThe file is uploaded first, then the message referencing it is sent.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, text := args[0], args[1]

		client, cfg := getClient()
		if cfg.Auth.UserID == "" {
			return fmt.Errorf("no user identity configured; run 'ramavan init' with --user-id and --username")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		var file *ramavan.FileDescriptor
		if sendFilePath != "" {
			f, err := os.Open(sendFilePath)
			if err != nil {
				return fmt.Errorf("cannot open file: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			file, err = client.UploadFile(ctx, filepath.Base(sendFilePath), f, info.Size())
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			fmt.Printf("Uploaded %s (%d bytes)\n", file.OriginalName, file.Size)
		}

		rt := client.Transport()
		sess := ramavan.NewSession(client, rt, ramavan.SessionConfig{
			SelfID:       cfg.Auth.UserID,
			SelfUsername: cfg.Auth.Username,
		})
		if err := sess.Start(ctx); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer sess.Stop()

		if err := sess.SelectGroup(ctx, groupID); err != nil {
			return err
		}
		msg, err := sess.SendMessage(ctx, text, file)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		if msg != nil {
			fmt.Printf("Sent %s\n", msg.ID)
		} else {
			fmt.Println("Sent")
		}
		return nil
	},
}

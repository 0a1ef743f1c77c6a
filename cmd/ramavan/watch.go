package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	ramavan "github.com/ramavan-chat/ramavan-go"
	"github.com/spf13/cobra"
)

var (
	watchHistory int
	watchVerbose bool
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().IntVar(&watchHistory, "history", 20, "messages of history to print on start")
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "log connection events")
}

var watchCmd = &cobra.Command{
	Use:   "watch [group-id]",
	Short: "Follow a group live",
	Long:  "Join a group and print messages, typing indicators, and presence changes as they\nhappen. Without a group id, resumes the last watched group. Ctrl-C to exit.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		if cfg.Auth.UserID == "" {
			return fmt.Errorf("no user identity configured; run 'ramavan init' with --user-id and --username")
		}

		rt := client.Transport()
		sess := ramavan.NewSession(client, rt, ramavan.SessionConfig{
			SelfID:       cfg.Auth.UserID,
			SelfUsername: cfg.Auth.Username,
			Reconnect:    true,
			LastGroup:    configLastGroupStore{},
			Notice: func(text string) {
				fmt.Printf("--- %s\n", text)
			},
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := sess.Start(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer sess.Stop()

		if len(args) == 1 {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := sess.SelectGroup(ctx, args[0])
			cancel()
			if err != nil {
				return err
			}
		}

		active := sess.ActiveGroup()
		if active == nil {
			return fmt.Errorf("no group selected; pass a group id or run 'ramavan groups list'")
		}
		fmt.Printf("Watching %s (%d online)\n\n", active.Name, sess.OnlineCount())

		printTimeline(sess, watchHistory)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		lastCount := len(sess.Messages())
		lastBanner := ""
		for {
			select {
			case <-sigCh:
				fmt.Println("\nBye.")
				return nil
			case <-ticker.C:
				msgs := sess.Messages()
				for _, m := range msgs[min(lastCount, len(msgs)):] {
					printMessage(m)
				}
				lastCount = len(msgs)

				if banner := sess.TypingBanner(); banner != lastBanner {
					if banner != "" {
						fmt.Printf("... %s\n", banner)
					}
					lastBanner = banner
				}
				if watchVerbose {
					if n := sess.TotalUnread(); n > 0 {
						fmt.Printf("--- %d unread in other groups\n", n)
					}
				}
			}
		}
	},
}

func printTimeline(sess *ramavan.Session, limit int) {
	buckets := sess.Timeline()
	total := 0
	for _, b := range buckets {
		total += len(b.Messages)
	}
	skip := total - limit
	for _, b := range buckets {
		if skip >= len(b.Messages) {
			skip -= len(b.Messages)
			continue
		}
		fmt.Printf("-- %s --\n", b.Label)
		for _, m := range b.Messages[max(skip, 0):] {
			printMessage(m)
		}
		skip = 0
	}
}

func printMessage(m ramavan.Message) {
	ts := m.CreatedAt.Local().Format("15:04")
	if m.IsDeleted() {
		fmt.Printf("[%s] %s: (deleted)\n", ts, m.Sender.Username)
		return
	}
	text := m.Text
	if m.File != nil {
		text += " [file: " + m.File.OriginalName + "]"
	}
	edited := ""
	if m.Edited {
		edited = " (edited)"
	}
	fmt.Printf("[%s] %s: %s%s\n", ts, m.Sender.Username, text, edited)
}

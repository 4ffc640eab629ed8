package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dwizi/lurker/internal/adminclient"
	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/config"
	"github.com/dwizi/lurker/internal/tui"
)

const defaultTimeout = 15 * time.Second

func newStatusCommand() *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "status [group]",
		Short: "Show interaction state of all groups or one group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				group := ""
				if len(args) == 1 {
					group = args[0]
				}
				return runDashboard(tui.DefaultInterval, timeout, group)
			}
			client, err := newAdminClientFromEnv(timeout)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if len(args) == 1 {
				group, err := client.Group(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, group)
				}
				cmd.Println(renderGroup(group))
				return nil
			}

			status, err := client.Status(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, status)
			}
			health, err := client.Heartbeat(ctx)
			if err != nil {
				health.Overall = "unavailable"
			}
			cmd.Println(renderStatus(status, health.Overall))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	cmd.Flags().BoolVar(&watch, "watch", false, "open the live dashboard instead of printing once")
	return cmd
}

func newResetCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear all group, conversant and fatigue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv(timeout)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := client.Reset(ctx); err != nil {
				return err
			}
			cmd.Println("state reset")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "request timeout")
	return cmd
}

func newSendCommand() *cobra.Command {
	var (
		groupID  string
		userID   string
		name     string
		text     string
		mentions []string
		replyTo  string
		timeout  time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Simulate one group message against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(groupID) == "" {
				return fmt.Errorf("--group is required")
			}
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("--user is required")
			}
			if strings.TrimSpace(text) == "" && len(args) > 0 {
				text = strings.Join(args, " ")
			}
			client, err := newAdminClientFromEnv(timeout)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			decision, err := client.Send(ctx, chat.Message{
				ID:              uuid.NewString(),
				GroupID:         strings.TrimSpace(groupID),
				SenderID:        strings.TrimSpace(userID),
				SenderName:      strings.TrimSpace(name),
				Timestamp:       time.Now().UTC(),
				Text:            text,
				Mentions:        mentions,
				ReplyToSenderID: strings.TrimSpace(replyTo),
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, decision)
			}
			cmd.Println(renderDecision(decision))
			return nil
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "group id")
	cmd.Flags().StringVar(&userID, "user", "", "sender user id")
	cmd.Flags().StringVar(&name, "name", "", "sender display name")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().StringSliceVar(&mentions, "mention", nil, "mentioned user ids")
	cmd.Flags().StringVar(&replyTo, "reply-to-user", "", "user id of the message being replied to")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func newDecisionsCommand() *cobra.Command {
	var (
		groupID string
		kind    string
		limit   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List journaled decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv(timeout)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			records, err := client.Decisions(ctx, groupID, kind, limit)
			if err != nil {
				return err
			}
			cmd.Println(renderDecisions(records))
			return nil
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "filter by group id")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by decision kind (respond, defer, skip)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "request timeout")
	return cmd
}

func newAdminClientFromEnv(timeout time.Duration) (*adminclient.Client, error) {
	client, err := adminclient.New(config.FromEnv())
	if err != nil {
		return nil, err
	}
	return client.WithTimeout(timeout), nil
}

func printJSON(cmd *cobra.Command, payload any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

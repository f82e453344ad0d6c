package cli

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/directory"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/retry"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/store"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [database-path]",
		Short: "Count stored records by kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.OpenReadOnly(args[0])
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.Stats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, stats)
			}
			printf(out, "total keys:     %d\n", stats.Total)
			printf(out, "conversations:  %d\n", stats.Conversations)
			printf(out, "messages:       %d\n", stats.Messages)
			printf(out, "message index:  %d\n", stats.MessageIndex)
			printf(out, "memberships:    %d\n", stats.Memberships)
			printf(out, "last seen:      %d\n", stats.LastSeen)
			if stats.Other > 0 {
				printf(out, "unrecognised:   %d\n", stats.Other)
			}
			return nil
		},
	}
}

func newConversationsCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "conversations [database-path]",
		Short: "List a user's conversations, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.OpenReadOnly(args[0])
			if err != nil {
				return err
			}
			defer st.Close()

			dir := directory.New(st, 1, retry.DefaultPolicy)
			defer dir.Close()
			rows, err := dir.ListFor(user)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, rows)
			}
			if len(rows) == 0 {
				printf(out, "no conversations for %s\n", user)
				return nil
			}
			for _, r := range rows {
				last := "-"
				if r.LastMessage != nil {
					last = humanize.Time(time.UnixMilli(r.LastMessage.Timestamp))
				}
				printf(out, "%-24s unread=%-4d last=%-16s %s\n", r.Conversation.ID, r.UnreadCount, last, r.Conversation.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id whose conversations to list")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMessagesCmd() *cobra.Command {
	var after uint64
	cmd := &cobra.Command{
		Use:   "messages [database-path] [conversation-id]",
		Short: "Print a conversation's messages in order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.OpenReadOnly(args[0])
			if err != nil {
				return err
			}
			defer st.Close()

			if _, err := st.GetConversation(args[1]); err != nil {
				return err
			}
			msgs, err := st.ListMessages(args[1])
			if err != nil {
				return err
			}
			kept := msgs[:0]
			for _, m := range msgs {
				if m.Position > after {
					kept = append(kept, m)
				}
			}
			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, kept)
			}
			for _, m := range kept {
				flags := ""
				if m.Read {
					flags += " read"
				}
				if m.Attachment != nil {
					flags += " [" + m.Attachment.Name + ", " + humanize.Bytes(uint64(m.Attachment.SizeBytes)) + "]"
				}
				for emoji, users := range m.Reactions {
					flags += " " + emoji + "x" + humanize.Comma(int64(len(users)))
				}
				printf(out, "#%d %s: %s%s\n", m.Position, m.SenderName, strings.ReplaceAll(m.Text, "\n", " "), flags)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "only messages after this position")
	return cmd
}

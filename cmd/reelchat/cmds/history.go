package cmds

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newHistoryCommand(root *rootOptions) *cobra.Command {
	var (
		limit int
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "List recorded conversations, or print one of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(root)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.settings.SQLitePath == "" {
				return errors.New("history needs a transcript database; set --sqlite or sqlite-path")
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				msgs, err := rt.store.ListMessages(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					_, _ = fmt.Fprintf(out, "no messages recorded for %s\n", args[0])
					return nil
				}
				_, _ = io.WriteString(out, rt.renderer.Transcript(msgs))
				return nil
			}

			var sinceMs int64
			if since > 0 {
				sinceMs = time.Now().Add(-since).UnixMilli()
			}
			convs, err := rt.store.ListConversations(cmd.Context(), limit, sinceMs)
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				_, _ = fmt.Fprintln(out, "no conversations recorded")
				return nil
			}
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("CONVERSATION", "MESSAGES", "LAST ACTIVITY", "LAST MESSAGE")
			for _, c := range convs {
				t.Row(
					c.ConvID,
					strconv.Itoa(c.MessageCount),
					time.UnixMilli(c.LastActivityMs).Format(time.DateTime),
					truncate(c.LastMessage, 60),
				)
			}
			_, _ = fmt.Fprintln(out, t.Render())
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows (conversations or messages) to show")
	cmd.Flags().DurationVar(&since, "since", 0, "Only list conversations active within this duration")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

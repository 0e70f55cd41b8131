package cmds

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/reelchat/pkg/reply"
)

func newReplyCommand(root *rootOptions) *cobra.Command {
	var (
		extra      map[string]string
		noFallback bool
	)
	cmd := &cobra.Command{
		Use:   "reply message...",
		Short: "Send one message to the non-streaming reply endpoint",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(root)
			if err != nil {
				return err
			}
			defer rt.Close()

			sess, err := newSession(rt.settings, rt.store, true)
			if err != nil {
				return err
			}
			rs := sess.(*replySession)
			if noFallback {
				rs.client = reply.NewClient(rt.settings, reply.WithFallback(false))
			}

			ctxMap := make(map[string]any, len(extra))
			for k, v := range extra {
				ctxMap[k] = v
			}
			err = rs.Exchange(cmd.Context(), strings.Join(args, " "), ctxMap)
			msgs := rs.Transcript().Messages()
			if len(msgs) > 0 {
				_, _ = io.WriteString(cmd.OutOrStdout(), rt.renderer.Message(msgs[len(msgs)-1]))
			}
			return errors.Wrap(err, "reply")
		},
	}
	cmd.Flags().StringToStringVar(&extra, "context", nil, "Extra context as key=value pairs")
	cmd.Flags().BoolVar(&noFallback, "no-fallback", false, "Fail instead of answering from the built-in catalogue")
	return cmd
}

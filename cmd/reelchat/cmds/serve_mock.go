package cmds

import (
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/reelchat/pkg/mockbackend"
)

func newServeMockCommand(root *rootOptions) *cobra.Command {
	var (
		addr        string
		tokenDelay  time.Duration
		failPriming bool
	)
	cmd := &cobra.Command{
		Use:   "serve-mock",
		Short: "Run a local backend that answers from the built-in catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.settings.Resolve()
			if err != nil {
				return err
			}
			opts := []mockbackend.Option{mockbackend.WithTokenDelay(tokenDelay)}
			if failPriming {
				opts = append(opts, mockbackend.WithFailingPriming())
			}
			backend := mockbackend.New(s.Channels, opts...)

			eg, ctx := errgroup.WithContext(cmd.Context())
			serveHTTP(ctx, eg, addr, backend.Handler(), "mock backend")
			return eg.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":5000", "Listen address")
	cmd.Flags().DurationVar(&tokenDelay, "token-delay", 40*time.Millisecond, "Delay between streamed frames")
	cmd.Flags().BoolVar(&failPriming, "fail-priming", false, "Reject every priming call")
	return cmd
}

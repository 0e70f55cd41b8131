package cmds

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/reelchat/pkg/liveview"
	"github.com/go-go-golems/reelchat/pkg/redisstream"
)

func newWatchCommand(root *rootOptions) *cobra.Command {
	var (
		addr        string
		idleTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Serve live websocket views of conversations published over Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(root)
			if err != nil {
				return err
			}
			defer rt.Close()
			if !rt.settings.Redis.Enabled {
				log.Warn().Msg("redis is disabled; only conversations run inside this process can be watched")
			}

			ps, err := redisstream.BuildPubSub(rt.settings.Redis)
			if err != nil {
				return errors.Wrap(err, "build snapshot transport")
			}
			defer func() { _ = ps.Close() }()

			viewer, err := liveview.NewServer(ps, rt.store, liveview.WithIdleTimeout(idleTimeout))
			if err != nil {
				return err
			}
			defer viewer.Close()

			eg, ctx := errgroup.WithContext(cmd.Context())
			serveHTTP(ctx, eg, addr, viewer.Handler(), "live viewer")
			return eg.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8090", "Listen address")
	cmd.Flags().DurationVar(&idleTimeout, "viewer-idle-timeout", 30*time.Second, "Stop following a conversation after it has had no viewers this long")
	return cmd
}

package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/reelchat/pkg/liveview"
	"github.com/go-go-golems/reelchat/pkg/redisstream"
)

type askOptions struct {
	context    map[string]string
	forceReply bool
	viewerAddr string
}

func newAskCommand(root *rootOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [message...]",
		Short: "Ask for recommendations; without a message, start an interactive chat",
		Long: `Ask sends a message and prints the answer as it streams in.

Without arguments it reads one message per line from stdin. Typing the number
of a suggestion sends that suggestion's query. /history prints the
conversation so far and /quit exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), root, opts, args, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringToStringVar(&opts.context, "context", nil, "Extra priming context as key=value pairs")
	cmd.Flags().BoolVar(&opts.forceReply, "no-stream", false, "Use the non-streaming reply endpoint")
	cmd.Flags().StringVar(&opts.viewerAddr, "viewer-addr", "", "Serve live websocket views of this session on addr")
	return cmd
}

func runAsk(ctx context.Context, root *rootOptions, opts *askOptions, args []string, in io.Reader, out io.Writer) error {
	rt, err := newRuntime(root)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := newSession(rt.settings, rt.store, opts.forceReply)
	if err != nil {
		return err
	}
	defer sess.Close()

	printer := newLivePrinter(out, rt.renderer)
	sess.Transcript().Observe(printer.Observe)

	eg, egCtx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(egCtx)
	defer cancel()

	if rt.settings.Redis.Enabled || opts.viewerAddr != "" {
		ps, err := redisstream.BuildPubSub(rt.settings.Redis)
		if err != nil {
			return errors.Wrap(err, "build snapshot transport")
		}
		defer func() { _ = ps.Close() }()
		redisstream.NewSnapshotPublisher(ps.Publisher).Attach(sess.Transcript())

		if opts.viewerAddr != "" {
			viewer, err := liveview.NewServer(ps, rt.store)
			if err != nil {
				return err
			}
			defer viewer.Close()
			serveHTTP(runCtx, eg, opts.viewerAddr, viewer.Handler(), "live viewer")
		}
	}

	extra := make(map[string]any, len(opts.context))
	for k, v := range opts.context {
		extra[k] = v
	}

	eg.Go(func() error {
		defer cancel()
		if len(args) > 0 {
			return exchange(runCtx, sess, printer, strings.Join(args, " "), extra)
		}
		return repl(runCtx, sess, printer, rt, in, out, extra)
	})
	return eg.Wait()
}

func exchange(ctx context.Context, sess session, printer *livePrinter, text string, extra map[string]any) error {
	err := sess.Exchange(ctx, text, extra)
	printer.Finish()
	return err
}

func repl(ctx context.Context, sess session, printer *livePrinter, rt *runtime, in io.Reader, out io.Writer, extra map[string]any) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, _ = fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/history":
			_, _ = io.WriteString(out, rt.renderer.Transcript(sess.Transcript().Messages()))
			continue
		}
		if n, err := strconv.Atoi(line); err == nil {
			suggestions := printer.Suggestions()
			if n < 1 || n > len(suggestions) {
				_, _ = fmt.Fprintf(out, "no suggestion %d\n", n)
				continue
			}
			line = suggestions[n-1].Prompt()
			if line == "" {
				_, _ = fmt.Fprintf(out, "suggestion %d has nothing to send\n", n)
				continue
			}
			_, _ = fmt.Fprintln(out, line)
		}

		if err := exchange(ctx, sess, printer, line, extra); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Debug().Err(err).Msg("exchange failed")
		}
	}
}

// serveHTTP runs an HTTP server on eg until ctx is done.
func serveHTTP(ctx context.Context, eg *errgroup.Group, addr string, handler http.Handler, name string) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("server", name).Msg("server shutdown error")
			return err
		}
		return nil
	})
	eg.Go(func() error {
		log.Info().Str("addr", addr).Str("server", name).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("server", name).Msg("server listen error")
			return err
		}
		return nil
	})
}

package cmds

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/reelchat/pkg/settings"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	settings  *settings.Overrides
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "reelchat",
		Short:         "reelchat talks to a movie and TV recommendation assistant",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// reinitialize the logger because we can now parse --log-level and co
			// from the command line flag
			return InitLogger(opts.logLevel, opts.logFormat, os.Stderr)
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "console", "Log format (console, json)")
	opts.settings = settings.AddFlags(pf)

	rootCmd.AddCommand(
		newAskCommand(opts),
		newReplyCommand(opts),
		newHistoryCommand(opts),
		newServeMockCommand(opts),
		newWatchCommand(opts),
	)
	return rootCmd
}

// InitLogger configures the global zerolog logger.
func InitLogger(level, format string, w io.Writer) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)

	switch format {
	case "json":
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return errors.Errorf("unknown log format %q", format)
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

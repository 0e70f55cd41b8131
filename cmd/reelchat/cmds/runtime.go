package cmds

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reelchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/reelchat/pkg/render"
	"github.com/go-go-golems/reelchat/pkg/settings"
)

// runtime bundles what most commands resolve before they run.
type runtime struct {
	settings settings.Settings
	store    chatstore.TranscriptStore
	renderer *render.Renderer
}

func newRuntime(opts *rootOptions) (*runtime, error) {
	s, err := opts.settings.Resolve()
	if err != nil {
		return nil, err
	}
	store, err := openStore(s)
	if err != nil {
		return nil, err
	}
	renderer, err := render.New(render.Options{Styled: render.IsTerminal(os.Stdout)})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &runtime{settings: s, store: store, renderer: renderer}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		log.Warn().Err(err).Msg("closing transcript store")
	}
}

// openStore returns the SQLite store when a path is configured and an
// in-memory store otherwise.
func openStore(s settings.Settings) (chatstore.TranscriptStore, error) {
	if s.SQLitePath == "" {
		return chatstore.NewInMemoryTranscriptStore(0), nil
	}
	if dir := filepath.Dir(s.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create sqlite directory")
		}
	}
	dsn, err := chatstore.SQLiteTranscriptDSNForFile(s.SQLitePath)
	if err != nil {
		return nil, err
	}
	store, err := chatstore.NewSQLiteTranscriptStore(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open transcript store")
	}
	log.Debug().Str("path", s.SQLitePath).Msg("opened transcript store")
	return store, nil
}

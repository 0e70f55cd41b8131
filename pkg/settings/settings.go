package settings

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL        = "http://localhost:5000"
	DefaultPrimingTimeout = 30 * time.Second
	DefaultIdleTimeout    = 90 * time.Second
)

// Preferences are the onboarding answers sent along with every priming call.
type Preferences struct {
	Genres         []string `yaml:"genres" json:"genres"`
	FavoriteActors []string `yaml:"favorite-actors" json:"favoriteActors"`
	Languages      []string `yaml:"languages" json:"languages"`
	WatchFrequency string   `yaml:"watch-frequency" json:"watchFrequency"`
}

// Channels names the SSE event types of each logical channel.
type Channels struct {
	Answer      string `yaml:"answer"`
	Suggestions string `yaml:"suggestions"`
	Media       string `yaml:"media"`
}

// RedisSettings configures the optional Redis Streams fan-out of transcript snapshots.
type RedisSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

// Settings is handed to every component at construction time; nothing in the
// streaming path reads the environment on its own.
type Settings struct {
	BaseURL        string        `yaml:"base-url"`
	Credential     string        `yaml:"credential"`
	Streaming      bool          `yaml:"streaming"`
	ConversationID string        `yaml:"conversation-id"`
	Preferences    *Preferences  `yaml:"preferences,omitempty"`
	PrimingTimeout time.Duration `yaml:"priming-timeout"`
	IdleTimeout    time.Duration `yaml:"idle-timeout"`
	Channels       Channels      `yaml:"channels"`
	SQLitePath     string        `yaml:"sqlite-path"`
	Redis          RedisSettings `yaml:"redis"`
}

func Default() Settings {
	return Settings{
		BaseURL:        DefaultBaseURL,
		Streaming:      true,
		ConversationID: "default",
		PrimingTimeout: DefaultPrimingTimeout,
		IdleTimeout:    DefaultIdleTimeout,
		Channels: Channels{
			Answer:      "assistant",
			Suggestions: "suggestions",
			Media:       "movies",
		},
		Redis: RedisSettings{
			Addr:     "localhost:6379",
			Group:    "reelchat",
			Consumer: "viewer-1",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if any) and
// then with REELCHAT_* environment variables.
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, errors.Wrapf(err, "read settings %s", path)
		}
		if err := yaml.Unmarshal(b, &s); err != nil {
			return Settings{}, errors.Wrapf(err, "parse settings %s", path)
		}
	}
	if err := s.applyEnv(os.LookupEnv); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "parse %s", key)
		}
		*dst = d
		return nil
	}

	str("REELCHAT_BASE_URL", &s.BaseURL)
	if s.Credential == "" {
		str("OPENAI_API_KEY", &s.Credential)
	}
	str("REELCHAT_CREDENTIAL", &s.Credential)
	str("REELCHAT_CONVERSATION_ID", &s.ConversationID)
	str("REELCHAT_SQLITE_PATH", &s.SQLitePath)
	str("REELCHAT_REDIS_ADDR", &s.Redis.Addr)
	if v, ok := lookup("REELCHAT_STREAMING"); ok && v != "" {
		s.Streaming = parseBool(v)
	}
	if v, ok := lookup("REELCHAT_REDIS_ENABLED"); ok && v != "" {
		s.Redis.Enabled = parseBool(v)
	}
	if err := dur("REELCHAT_PRIMING_TIMEOUT", &s.PrimingTimeout); err != nil {
		return err
	}
	return dur("REELCHAT_IDLE_TIMEOUT", &s.IdleTimeout)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// ValidCredential mirrors the key check of the setup screen.
func ValidCredential(key string) bool {
	return strings.HasPrefix(key, "sk-") && len(key) > 20
}

// StreamingEnabled reports whether the streaming flow should be used instead
// of the request/response endpoint.
func (s Settings) StreamingEnabled() bool {
	return s.Streaming && ValidCredential(s.Credential)
}

func (s Settings) Validate() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return errors.Wrap(err, "invalid base-url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("base-url must be http or https, got %q", s.BaseURL)
	}
	if s.PrimingTimeout < 0 || s.IdleTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	c := s.Channels
	if c.Answer == "" || c.Suggestions == "" || c.Media == "" {
		return errors.New("channel names must not be empty")
	}
	if c.Answer == c.Suggestions || c.Answer == c.Media || c.Suggestions == c.Media {
		return errors.New("channel names must be distinct")
	}
	if strings.TrimSpace(s.ConversationID) == "" {
		return errors.New("conversation-id must not be empty")
	}
	return nil
}

// Endpoint joins path onto the base URL.
func (s Settings) Endpoint(path string) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// PrimingContext is the context object sent with a priming call: the caller's
// extra keys plus the stored preferences.
func (s Settings) PrimingContext(extra map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	if s.Preferences != nil {
		out["preferences"] = s.Preferences
	} else {
		out["preferences"] = nil
	}
	return out
}

package settings

import (
	"time"

	"github.com/spf13/pflag"
)

// Overrides holds command line values that win over file and environment.
type Overrides struct {
	fs *pflag.FlagSet

	ConfigPath     string
	baseURL        string
	credential     string
	streaming      bool
	conversationID string
	primingTimeout time.Duration
	idleTimeout    time.Duration
	sqlitePath     string
	redisEnabled   bool
	redisAddr      string
}

// AddFlags registers the settings flags on fs.
func AddFlags(fs *pflag.FlagSet) *Overrides {
	d := Default()
	o := &Overrides{fs: fs}
	fs.StringVar(&o.ConfigPath, "config", "", "YAML settings file")
	fs.StringVar(&o.baseURL, "base-url", d.BaseURL, "Recommendation backend base URL")
	fs.StringVar(&o.credential, "credential", "", "Opaque credential forwarded to the backend")
	fs.BoolVar(&o.streaming, "streaming", d.Streaming, "Use the streaming endpoint when a credential is set")
	fs.StringVar(&o.conversationID, "conversation", d.ConversationID, "Conversation id used for history")
	fs.DurationVar(&o.primingTimeout, "priming-timeout", d.PrimingTimeout, "Timeout for the priming call (0 disables)")
	fs.DurationVar(&o.idleTimeout, "idle-timeout", d.IdleTimeout, "Maximum silence between stream frames (0 disables)")
	fs.StringVar(&o.sqlitePath, "sqlite", "", "SQLite file for the transcript history")
	fs.BoolVar(&o.redisEnabled, "redis-enabled", false, "Fan transcript snapshots out over Redis Streams")
	fs.StringVar(&o.redisAddr, "redis-addr", d.Redis.Addr, "Redis address host:port")
	return o
}

// Resolve loads the settings file and environment, then applies every flag
// the user actually set.
func (o *Overrides) Resolve() (Settings, error) {
	s, err := Load(o.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	o.apply(&s)
	return s, s.Validate()
}

func (o *Overrides) apply(s *Settings) {
	changed := func(name string) bool { return o.fs != nil && o.fs.Changed(name) }
	if changed("base-url") {
		s.BaseURL = o.baseURL
	}
	if changed("credential") {
		s.Credential = o.credential
	}
	if changed("streaming") {
		s.Streaming = o.streaming
	}
	if changed("conversation") {
		s.ConversationID = o.conversationID
	}
	if changed("priming-timeout") {
		s.PrimingTimeout = o.primingTimeout
	}
	if changed("idle-timeout") {
		s.IdleTimeout = o.idleTimeout
	}
	if changed("sqlite") {
		s.SQLitePath = o.sqlitePath
	}
	if changed("redis-enabled") {
		s.Redis.Enabled = o.redisEnabled
	}
	if changed("redis-addr") {
		s.Redis.Addr = o.redisAddr
	}
}

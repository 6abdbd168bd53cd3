// Package config loads revsync settings from defaults, an optional YAML file
// and REVSYNC_* environment variables, and validates them against an
// embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/roach88/revsync/internal/httppeer"
	"github.com/roach88/revsync/internal/replicate"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix is the prefix of environment overrides, e.g. REVSYNC_DATABASE.
const EnvPrefix = "revsync"

// Settings is the full configuration.
type Settings struct {
	Database    string      `mapstructure:"database"`
	Listen      string      `mapstructure:"listen"`
	LogLevel    string      `mapstructure:"log_level"`
	Replication Replication `mapstructure:"replication"`
	Peers       []Peer      `mapstructure:"peers"`
}

// Replication holds replicator and HTTP client tuning.
type Replication struct {
	BatchSize         int           `mapstructure:"batch_size"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HTTPRetries       int           `mapstructure:"http_retries"`
	RevisionCacheSize int           `mapstructure:"revision_cache_size"`
}

// Peer is a named remote store.
type Peer struct {
	ID  string `mapstructure:"id"`
	URL string `mapstructure:"url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", "revsync.db")
	v.SetDefault("listen", "127.0.0.1:5984")
	v.SetDefault("log_level", "info")
	v.SetDefault("replication.batch_size", replicate.DefaultBatchSize)
	v.SetDefault("replication.max_attempts", replicate.DefaultMaxAttempts)
	v.SetDefault("replication.initial_backoff", replicate.DefaultInitialBackoff)
	v.SetDefault("replication.max_backoff", replicate.DefaultMaxBackoff)
	v.SetDefault("replication.poll_interval", replicate.DefaultPollInterval)
	v.SetDefault("replication.http_retries", 2)
	v.SetDefault("replication.revision_cache_size", 1024)
	v.SetDefault("peers", []map[string]string{})
}

// Load reads settings. path may be empty, in which case only defaults and
// the environment apply.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Default returns the built-in settings.
func Default() *Settings {
	v := viper.New()
	setDefaults(v)
	var s Settings
	// Defaults always decode.
	_ = v.Unmarshal(&s)
	return &s
}

// cueView is the shape the schema constrains.
type cueView struct {
	Database    string `json:"database"`
	Listen      string `json:"listen"`
	LogLevel    string `json:"log_level"`
	Replication struct {
		BatchSize         int   `json:"batch_size"`
		MaxAttempts       int   `json:"max_attempts"`
		InitialBackoffMS  int64 `json:"initial_backoff_ms"`
		MaxBackoffMS      int64 `json:"max_backoff_ms"`
		PollIntervalMS    int64 `json:"poll_interval_ms"`
		HTTPRetries       int   `json:"http_retries"`
		RevisionCacheSize int   `json:"revision_cache_size"`
	} `json:"replication"`
	Peers []cuePeer `json:"peers"`
}

type cuePeer struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (s *Settings) view() cueView {
	var v cueView
	v.Database = s.Database
	v.Listen = s.Listen
	v.LogLevel = strings.ToLower(s.LogLevel)
	v.Replication.BatchSize = s.Replication.BatchSize
	v.Replication.MaxAttempts = s.Replication.MaxAttempts
	v.Replication.InitialBackoffMS = s.Replication.InitialBackoff.Milliseconds()
	v.Replication.MaxBackoffMS = s.Replication.MaxBackoff.Milliseconds()
	v.Replication.PollIntervalMS = s.Replication.PollInterval.Milliseconds()
	v.Replication.HTTPRetries = s.Replication.HTTPRetries
	v.Replication.RevisionCacheSize = s.Replication.RevisionCacheSize
	v.Peers = make([]cuePeer, 0, len(s.Peers))
	for _, p := range s.Peers {
		v.Peers = append(v.Peers, cuePeer(p))
	}
	return v
}

// Validate checks s against the schema and the cross-field rules the schema
// cannot express. All violations are reported together.
func (s *Settings) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Settings"))

	var problems []string
	unified := def.Unify(ctx.Encode(s.view()))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			problems = append(problems, strings.Join(e.Path(), ".")+": "+fmt.Sprintf(format, args...))
		}
	}

	if s.Replication.MaxBackoff < s.Replication.InitialBackoff {
		problems = append(problems, "replication.max_backoff: must not be below initial_backoff")
	}
	seen := make(map[string]bool, len(s.Peers))
	for _, p := range s.Peers {
		if seen[p.ID] {
			problems = append(problems, fmt.Sprintf("peers: duplicate id %q", p.ID))
		}
		seen[p.ID] = true
	}

	if len(problems) > 0 {
		return errors.New("invalid config:\n  " + strings.Join(problems, "\n  "))
	}
	return nil
}

// Level returns the slog level for LogLevel.
func (s *Settings) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// ReplicationOptions converts the replication settings to replicator options.
func (s *Settings) ReplicationOptions() []replicate.Option {
	r := s.Replication
	return []replicate.Option{
		replicate.WithBatchSize(r.BatchSize),
		replicate.WithMaxAttempts(r.MaxAttempts),
		replicate.WithBackoff(r.InitialBackoff, r.MaxBackoff),
		replicate.WithPollInterval(r.PollInterval),
	}
}

// ClientOptions converts the replication settings to HTTP peer client options.
func (s *Settings) ClientOptions() []httppeer.ClientOption {
	r := s.Replication
	return []httppeer.ClientOption{
		httppeer.WithRetries(r.HTTPRetries, r.InitialBackoff, r.MaxBackoff),
		httppeer.WithCacheSize(r.RevisionCacheSize),
	}
}

// LookupPeer resolves ref to a peer: a configured id, or a URL used as is
// with its host as id.
func (s *Settings) LookupPeer(ref string) (Peer, error) {
	for _, p := range s.Peers {
		if p.ID == ref {
			return p, nil
		}
	}
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		for _, p := range s.Peers {
			if strings.TrimRight(p.URL, "/") == strings.TrimRight(ref, "/") {
				return p, nil
			}
		}
		return Peer{ID: u.Host, URL: ref}, nil
	}
	return Peer{}, fmt.Errorf("unknown peer %q", ref)
}

// ParsePeers parses "id=url,id=url".
func ParsePeers(list string) ([]Peer, error) {
	var peers []Peer
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, rawURL, ok := strings.Cut(item, "=")
		id, rawURL = strings.TrimSpace(id), strings.TrimSpace(rawURL)
		if !ok || id == "" || rawURL == "" {
			return nil, fmt.Errorf("invalid peer %q: expected id=url", item)
		}
		peers = append(peers, Peer{ID: id, URL: rawURL})
	}
	return peers, nil
}

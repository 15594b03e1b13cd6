// Package settings loads and validates the hub's configuration: a TOML
// file plus a companion <stem>.d/*.toml directory of channel
// fragments, with CONF_SECTION__KEY environment overrides layered on
// top via viper.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/pgnotifyhub/hub/errs"
)

// LogicalChannel is one configured subscription endpoint.
type LogicalChannel struct {
	ID               string   `mapstructure:"id" toml:"id"`
	AllowedEvents    []string `mapstructure:"allowed_events" toml:"allowed_events"`
	ConnectionString string   `mapstructure:"connection_string" toml:"connection_string"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Listen      string `mapstructure:"listen"`
	Title       string `mapstructure:"title"`
	NumWorkers  int    `mapstructure:"num_workers"`
	SSLEnabled  bool   `mapstructure:"ssl_enabled"`
	SSLKeyFile  string `mapstructure:"ssl_key_file"`
	SSLCertFile string `mapstructure:"ssl_cert_file"`
}

// PostgresTLS holds optional TLS material used when connecting to
// Postgres listener sessions.
type PostgresTLS struct {
	CAFile             string `mapstructure:"ca_file"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// Settings is the validated configuration root.
type Settings struct {
	Server           Server          `mapstructure:"server"`
	Channel          []LogicalChannel `mapstructure:"channel"`
	WorkerBufferSize int             `mapstructure:"worker_buffer_size"`
	EventsBufferSize int             `mapstructure:"events_buffer_size"`

	// ReconnectDelaySeconds is the wire representation: a plain integer
	// number of seconds (matching the original's `u16` seconds field),
	// not a Go duration string. ReconnectDelay is derived from it after
	// decoding.
	ReconnectDelaySeconds int64         `mapstructure:"reconnect_delay"`
	ReconnectDelay        time.Duration `mapstructure:"-"`

	PostgresTLS *PostgresTLS `mapstructure:"postgres_tls"`

	// dir is the directory the config file was loaded from, used to
	// resolve server.ssl_key_file / server.ssl_cert_file relative paths.
	dir string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.title", "pgnotifyhub")
	v.SetDefault("server.ssl_enabled", false)
	v.SetDefault("worker_buffer_size", 1)
	v.SetDefault("events_buffer_size", 1024)
	v.SetDefault("reconnect_delay", 60)
}

// Load reads path (a TOML file), merges every fragment found in the
// companion <stem>.d/ directory, applies CONF_SECTION__KEY environment
// overrides, and validates the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("CONF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errs.Wrap(errs.KindConfigFormat, "settings: read config file", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errs.Wrap(errs.KindConfigFormat, "settings: unmarshal config", err)
	}
	s.ReconnectDelay = time.Duration(s.ReconnectDelaySeconds) * time.Second
	s.dir = filepath.Dir(path)

	fragments, err := loadFragments(path)
	if err != nil {
		return nil, err
	}
	s.Channel = append(s.Channel, fragments...)

	if s.Server.NumWorkers == 0 {
		s.Server.NumWorkers = defaultNumWorkers()
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	s.resolveServerPaths()

	return &s, nil
}

// loadFragments scans <stem>.d/*.toml next to path for additional
// [[channel]] arrays, parsed directly with go-toml/v2 since viper has
// no notion of a directory-of-fragments merge.
func loadFragments(path string) ([]LogicalChannel, error) {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	dir := stem + ".d"

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindIO, "settings: read fragment directory", err)
	}

	var out []LogicalChannel
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, fmt.Sprintf("settings: read fragment %s", entry.Name()), err)
		}
		var frag struct {
			Channel []LogicalChannel `toml:"channel"`
		}
		if err := toml.Unmarshal(data, &frag); err != nil {
			return nil, errs.Wrap(errs.KindConfigFormat, fmt.Sprintf("settings: parse fragment %s", entry.Name()), err)
		}
		out = append(out, frag.Channel...)
	}
	return out, nil
}

func defaultNumWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

// resolveServerPaths rewrites relative TLS file paths against the
// config file's directory.
func (s *Settings) resolveServerPaths() {
	if s.Server.SSLKeyFile != "" && !filepath.IsAbs(s.Server.SSLKeyFile) {
		s.Server.SSLKeyFile = filepath.Join(s.dir, s.Server.SSLKeyFile)
	}
	if s.Server.SSLCertFile != "" && !filepath.IsAbs(s.Server.SSLCertFile) {
		s.Server.SSLCertFile = filepath.Join(s.dir, s.Server.SSLCertFile)
	}
}

// validate enforces testable property #1 (unique channel ids after
// trimming a leading slash) plus the other invariants named in the
// configuration section of the spec. Every failure is accumulated into
// a MultiError rather than returning on the first one, so a single
// Load run reports every problem at once.
func (s *Settings) validate() error {
	var merr errs.MultiError

	seen := make(map[string]struct{}, len(s.Channel))
	for i := range s.Channel {
		id := strings.TrimPrefix(s.Channel[i].ID, "/")
		s.Channel[i].ID = id
		if id == "" {
			merr.Errors = append(merr.Errors, errs.New(errs.KindConfig, "settings: channel id must not be empty"))
			continue
		}
		if _, dup := seen[id]; dup {
			merr.Errors = append(merr.Errors, errs.New(errs.KindConfig, fmt.Sprintf("settings: duplicate channel id %q", id)))
			continue
		}
		seen[id] = struct{}{}
		if s.Channel[i].ConnectionString == "" {
			merr.Errors = append(merr.Errors, errs.New(errs.KindConfig, fmt.Sprintf("settings: channel %q missing connection_string", id)))
		}
	}

	if s.ReconnectDelay <= 0 {
		merr.Errors = append(merr.Errors, errs.New(errs.KindConfig, "settings: reconnect_delay must be positive"))
	}
	if s.WorkerBufferSize < 1 {
		merr.Errors = append(merr.Errors, errs.New(errs.KindConfig, "settings: worker_buffer_size must be at least 1"))
	}
	if s.EventsBufferSize < 1 {
		merr.Errors = append(merr.Errors, errs.New(errs.KindConfig, "settings: events_buffer_size must be at least 1"))
	}
	if s.Server.NumWorkers < 1 {
		merr.Errors = append(merr.Errors, errs.New(errs.KindConfig, "settings: server.num_workers must be at least 1"))
	}
	if s.Server.SSLEnabled && (s.Server.SSLCertFile == "" || s.Server.SSLKeyFile == "") {
		merr.Errors = append(merr.Errors, errs.New(errs.KindConfig, "settings: ssl_enabled requires ssl_cert_file and ssl_key_file"))
	}

	return merr.OrNil()
}

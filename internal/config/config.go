package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"calnotes/internal/agenda"
	"calnotes/internal/model"
	"calnotes/internal/section"
)

// Fatal configuration errors.
var (
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidMarkers  = section.ErrInvalidMarkers
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// SourceConfig describes a single calendar source.
type SourceConfig struct {
	// Name identifies the source in logs, notes and the keyring.
	Name string `yaml:"name" toml:"name" json:"name"`
	// Kind is "ics" (default) or "caldav".
	Kind string `yaml:"kind,omitempty" toml:"kind,omitempty" json:"kind,omitempty"`

	// The locator is taken from the first of URL, URLEnv, Keyring that is set.
	URL     string `yaml:"url,omitempty" toml:"url,omitempty" json:"url,omitempty"`
	URLEnv  string `yaml:"url_env,omitempty" toml:"url_env,omitempty" json:"url_env,omitempty"`
	Keyring bool   `yaml:"keyring,omitempty" toml:"keyring,omitempty" json:"keyring,omitempty"`

	// CalDAV / basic auth credentials.
	Username     string `yaml:"username,omitempty" toml:"username,omitempty" json:"username,omitempty"`
	PasswordEnv  string `yaml:"password_env,omitempty" toml:"password_env,omitempty" json:"password_env,omitempty"`
	CalendarPath string `yaml:"calendar_path,omitempty" toml:"calendar_path,omitempty" json:"calendar_path,omitempty"`

	Emoji string `yaml:"emoji,omitempty" toml:"emoji,omitempty" json:"emoji,omitempty"`
	Label string `yaml:"label,omitempty" toml:"label,omitempty" json:"label,omitempty"`
	// Keywords enables title keyword classification for this source.
	Keywords bool `yaml:"keywords,omitempty" toml:"keywords,omitempty" json:"keywords,omitempty"`
	// LookaheadDays overrides the global lookahead for this source.
	LookaheadDays int `yaml:"lookahead_days,omitempty" toml:"lookahead_days,omitempty" json:"lookahead_days,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"password"`
}

// LogConfig controls logging.
type LogConfig struct {
	Debug bool   `yaml:"debug" toml:"debug" json:"debug"`
	File  string `yaml:"file,omitempty" toml:"file,omitempty" json:"file,omitempty"`
}

// VaultConfig describes where daily notes live.
type VaultConfig struct {
	Dir string `yaml:"dir" toml:"dir" json:"dir"`
	// FilenameLayout is a Go time layout for note file names.
	FilenameLayout string   `yaml:"filename_layout" toml:"filename_layout" json:"filename_layout"`
	Extension      string   `yaml:"extension" toml:"extension" json:"extension"`
	SkipDirs       []string `yaml:"skip_dirs" toml:"skip_dirs" json:"skip_dirs"`
	// CreateMissing defaults to true.
	CreateMissing *bool `yaml:"create_missing,omitempty" toml:"create_missing,omitempty" json:"create_missing,omitempty"`
	ClearStale    bool  `yaml:"clear_stale" toml:"clear_stale" json:"clear_stale"`
}

// SectionConfig holds the managed-section markers.
type SectionConfig struct {
	Begin     string `yaml:"begin" toml:"begin" json:"begin"`
	End       string `yaml:"end" toml:"end" json:"end"`
	Placement string `yaml:"placement" toml:"placement" json:"placement"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA timezone notes are organized in (e.g. "America/New_York").
	Timezone string `yaml:"timezone" toml:"timezone" json:"timezone"`

	LookaheadDays  int `yaml:"lookahead_days" toml:"lookahead_days" json:"lookahead_days"`
	LookbehindDays int `yaml:"lookbehind_days" toml:"lookbehind_days" json:"lookbehind_days"`

	DefaultEmoji string `yaml:"default_emoji" toml:"default_emoji" json:"default_emoji"`

	// RefreshCron is the cron schedule used by watch mode (e.g. "*/30 * * * *").
	RefreshCron string `yaml:"refresh" toml:"refresh" json:"refresh"`

	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" toml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`

	// CacheDir and StateDB default to locations next to the config file.
	CacheDir string `yaml:"cache_dir,omitempty" toml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	StateDB  string `yaml:"state_db,omitempty" toml:"state_db,omitempty" json:"state_db,omitempty"`

	// Listen is the status API address in watch mode. Empty disables it.
	Listen string `yaml:"listen,omitempty" toml:"listen,omitempty" json:"listen,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" toml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// EnvFile is an optional dotenv file consulted for url_env/password_env.
	EnvFile string `yaml:"env_file,omitempty" toml:"env_file,omitempty" json:"env_file,omitempty"`

	Log     LogConfig     `yaml:"log" toml:"log" json:"log"`
	Vault   VaultConfig   `yaml:"vault" toml:"vault" json:"vault"`
	Section SectionConfig `yaml:"section" toml:"section" json:"section"`

	// Keywords replaces the built-in keyword table when set.
	Keywords []agenda.Rule `yaml:"keywords,omitempty" toml:"keywords,omitempty" json:"keywords,omitempty"`

	Sources []SourceConfig `yaml:"sources" toml:"sources" json:"sources"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Timezone:            "UTC",
		LookaheadDays:       14,
		DefaultEmoji:        agenda.DefaultEmoji,
		RefreshCron:         "*/30 * * * *",
		FetchTimeoutSeconds: 30,
		EnvFile:             ".env",
		Vault: VaultConfig{
			Dir:            "notes",
			FilenameLayout: "2006-01-02",
			Extension:      ".md",
			SkipDirs:       []string{"Archive", "Weekly"},
		},
		Section: SectionConfig{
			Begin:     section.DefaultBegin,
			End:       section.DefaultEnd,
			Placement: string(section.Append),
		},
		Sources: []SourceConfig{
			{Name: "personal", URLEnv: "CALNOTES_PERSONAL_ICS", Emoji: "🗓️", Label: "Personal", Keywords: true},
		},
	}
	if tz, err := localZoneName(); err == nil {
		cfg.Timezone = tz
	}
	return cfg
}

// localZoneName returns the IANA name of time.Local when it has one.
func localZoneName() (string, error) {
	name := time.Local.String()
	if name == "" || name == "Local" {
		if tz := os.Getenv("TZ"); tz != "" {
			name = tz
		} else {
			return "", errors.New("local zone has no IANA name")
		}
	}
	if _, err := time.LoadLocation(name); err != nil {
		return "", err
	}
	return name, nil
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LookaheadDays <= 0 {
		c.LookaheadDays = 14
	}
	if c.LookbehindDays < 0 {
		c.LookbehindDays = 0
	}
	if c.DefaultEmoji == "" {
		c.DefaultEmoji = agenda.DefaultEmoji
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/30 * * * *"
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = 30
	}
	if c.Vault.FilenameLayout == "" {
		c.Vault.FilenameLayout = "2006-01-02"
	}
	if c.Vault.Extension == "" {
		c.Vault.Extension = ".md"
	}
	if c.Vault.SkipDirs == nil {
		c.Vault.SkipDirs = []string{"Archive", "Weekly"}
	}
	if c.Section.Begin == "" {
		c.Section.Begin = section.DefaultBegin
	}
	if c.Section.End == "" {
		c.Section.End = section.DefaultEnd
	}
	if c.Section.Placement == "" {
		c.Section.Placement = string(section.Append)
	}
	for i := range c.Sources {
		c.Sources[i].Name = strings.TrimSpace(c.Sources[i].Name)
		c.Sources[i].Kind = strings.ToLower(strings.TrimSpace(c.Sources[i].Kind))
		if c.Sources[i].Kind == "" {
			c.Sources[i].Kind = model.KindICS
		}
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
}

// Validate reports fatal configuration problems. It assumes Normalize has
// run.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if err := c.Markers().Validate(); err != nil {
		return err
	}
	if _, err := section.ParsePlacement(c.Section.Placement); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("%w: refresh %q: %v", ErrInvalidConfig, c.RefreshCron, err)
	}
	if strings.TrimSpace(c.Vault.Dir) == "" {
		return fmt.Errorf("%w: vault.dir is empty", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		switch {
		case s.Name == "":
			return fmt.Errorf("%w: sources[%d]: name is empty", ErrInvalidConfig, i)
		case seen[s.Name]:
			return fmt.Errorf("%w: duplicate source name %q", ErrInvalidConfig, s.Name)
		case s.Kind != model.KindICS && s.Kind != model.KindCalDAV:
			return fmt.Errorf("%w: source %q: unknown kind %q", ErrInvalidConfig, s.Name, s.Kind)
		case s.URL == "" && s.URLEnv == "" && !s.Keyring:
			return fmt.Errorf("%w: source %q: one of url, url_env or keyring is required", ErrInvalidConfig, s.Name)
		case s.LookaheadDays < 0:
			return fmt.Errorf("%w: source %q: lookahead_days is negative", ErrInvalidConfig, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return nil, fmt.Errorf("%w: timezone is empty", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, c.Timezone, err)
	}
	return loc, nil
}

// Markers returns the configured section markers.
func (c *Config) Markers() section.Markers {
	return section.Markers{Begin: c.Section.Begin, End: c.Section.End}
}

// Rules returns the keyword table: the configured one, or the built-in
// table.
func (c *Config) Rules() agenda.Rules {
	if len(c.Keywords) > 0 {
		return agenda.Rules(c.Keywords)
	}
	return agenda.DefaultRules()
}

// CreateMissing reports whether new notes may be created.
func (c *Config) CreateMissing() bool {
	return c.Vault.CreateMissing == nil || *c.Vault.CreateMissing
}

// FetchTimeout returns the per-source fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// resolvePaths fills path defaults and makes relative paths relative to
// the config file's directory.
func (c *Config) resolvePaths(base string) {
	if c.CacheDir == "" {
		c.CacheDir = "cache"
	}
	if c.StateDB == "" {
		c.StateDB = "state.db"
	}
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		if strings.HasPrefix(p, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				return filepath.Join(home, p[2:])
			}
		}
		return filepath.Join(base, p)
	}
	c.CacheDir = abs(c.CacheDir)
	c.StateDB = abs(c.StateDB)
	c.EnvFile = abs(c.EnvFile)
	c.Vault.Dir = abs(c.Vault.Dir)
	c.Log.File = abs(c.Log.File)
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "calnotes.yaml"
	}
	return filepath.Join(dir, "calnotes", "config.yaml")
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load loads configuration from the given path. Files ending in ".toml" are
// decoded as TOML, everything else as YAML.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the file is decoded and normalized.
//   - Relative paths are resolved against the config file's directory.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			cfg.resolvePaths(filepath.Dir(path))
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.resolvePaths(filepath.Dir(path))

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Encodes cfg as YAML or TOML depending on the extension.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(dir, ".calnotes-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

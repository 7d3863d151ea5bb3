package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/conduit/internal/errors"
)

const (
	// ConfigFileName is the default configuration file name.
	ConfigFileName = "conduit.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CONDUIT_"

	DefaultWebsocketURL  = "reactpy/"
	DefaultReconnectMax  = 259200
	DefaultCleanInterval = 604800
	DefaultAuthTimeout   = 30
	DefaultBasePath      = "/_conduit/"
	DefaultAddress       = ":8000"
	DefaultCache         = "default"
	DefaultPostprocessor = "json-normalize"
	DefaultAuthBackend   = "none"
	DefaultDatabasePath  = "conduit.db"
)

// Database driver names.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// Config is the complete runtime configuration.
type Config struct {
	// WebsocketURL is the URL prefix for persistent connections.
	WebsocketURL string `yaml:"websocket_url"`

	// ReconnectMax is the session resumption window in seconds.
	ReconnectMax int `yaml:"reconnect_max"`

	// SessionMaxAge is the cleanup TTL in seconds. Zero means ReconnectMax.
	SessionMaxAge int `yaml:"session_max_age"`

	// CleanInterval is the minimum spacing between cleaner passes in
	// seconds. Zero disables lazy cleaning.
	CleanInterval int `yaml:"clean_interval"`

	// Cache names the cache backend.
	Cache string `yaml:"cache"`

	// Database selects and configures the datastore.
	Database DatabaseConfig `yaml:"database"`

	// DefaultQueryPostprocessor names the postprocessor applied by queries
	// that do not set one. Empty disables it.
	DefaultQueryPostprocessor string `yaml:"default_query_postprocessor"`

	// AuthBackend names the backend that derives the user principal.
	AuthBackend string `yaml:"auth_backend"`

	// AuthSecret signs auth cookies for the jwt backend.
	AuthSecret string `yaml:"auth_secret"`

	// AuthHeader is the trusted header read by the header backend.
	AuthHeader string `yaml:"auth_header"`

	// BackhaulThread moves outbound writes onto a dedicated goroutine.
	BackhaulThread bool `yaml:"backhaul_thread"`

	// AuthTimeout is the session synchronization window in seconds.
	AuthTimeout int `yaml:"auth_timeout"`

	// Address is the listen address for `conduit serve`.
	Address string `yaml:"address"`

	// BasePath prefixes the HTTP endpoints (web_module, iframe, auth).
	BasePath string `yaml:"base_path"`

	// TemplateDirs are scanned for component references at startup.
	TemplateDirs []string `yaml:"template_dirs"`

	// TemplateExts restricts discovery to these file extensions.
	TemplateExts []string `yaml:"template_exts"`

	// ClientAsset is the path of the bundled client script.
	ClientAsset string `yaml:"client_asset"`

	// WebModules configures the web_module endpoint source.
	WebModules WebModulesConfig `yaml:"web_modules"`

	// Workers bounds the hook executor pool. Zero uses GOMAXPROCS.
	Workers int `yaml:"workers"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// TypeIssues records values dropped for having the wrong type.
	TypeIssues []TypeIssue `yaml:"-"`

	path string
}

// DatabaseConfig selects the datastore backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Path   string `yaml:"path"`

	// UsersTable is read by the SQL user directory.
	UsersTable string `yaml:"users_table"`
}

// WebModulesConfig configures where JS modules are served from.
type WebModulesConfig struct {
	Dir      string `yaml:"dir"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
}

// TypeIssue describes a configuration value of the wrong type.
type TypeIssue struct {
	Key  string
	Want string
	Got  string
}

func (t TypeIssue) String() string {
	return fmt.Sprintf("%s: expected %s, got %s", t.Key, t.Want, t.Got)
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		WebsocketURL:              DefaultWebsocketURL,
		ReconnectMax:              DefaultReconnectMax,
		CleanInterval:             DefaultCleanInterval,
		Cache:                     DefaultCache,
		DefaultQueryPostprocessor: DefaultPostprocessor,
		AuthBackend:               DefaultAuthBackend,
		AuthHeader:                "X-Forwarded-User",
		AuthTimeout:               DefaultAuthTimeout,
		Address:                   DefaultAddress,
		BasePath:                  DefaultBasePath,
		TemplateExts:              []string{".html", ".tmpl", ".gohtml"},
		Database: DatabaseConfig{
			Driver:     DriverBolt,
			Path:       DefaultDatabasePath,
			UsersTable: "users",
		},
		LogLevel: "info",
	}
}

// Load reads configuration from path and applies environment overrides.
// An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := New()
		cfg.applyEnv(os.LookupEnv)
		cfg.applyDefaults()
		return cfg, nil
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	return cfg, nil
}

// LoadFile reads configuration from a YAML file without consulting the
// environment.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("C100").
				WithDetail("no configuration at %s", path).
				WithSuggestion("Create " + ConfigFileName + " or run without --config")
		}
		return nil, errors.New("C100").Wrap(err).WithDetail("%v", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.path = path
	return cfg, nil
}

// Parse decodes YAML configuration on top of the defaults.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.New("C101").Wrap(err).WithDetail("%v", err)
	}

	cfg := New()
	cfg.TypeIssues = checkTypes("", raw, schema)

	// Re-encode the filtered document so mistyped keys keep their defaults.
	clean, err := yaml.Marshal(raw)
	if err != nil {
		return nil, errors.New("C101").Wrap(err).WithDetail("%v", err)
	}
	if err := yaml.Unmarshal(clean, cfg); err != nil {
		return nil, errors.New("C101").Wrap(err).WithDetail("%v", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Path returns the file the config was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) applyDefaults() {
	if c.WebsocketURL == "" {
		c.WebsocketURL = DefaultWebsocketURL
	}
	c.WebsocketURL = strings.Trim(c.WebsocketURL, "/") + "/"
	if c.BasePath == "" {
		c.BasePath = DefaultBasePath
	}
	if !strings.HasPrefix(c.BasePath, "/") {
		c.BasePath = "/" + c.BasePath
	}
	if !strings.HasSuffix(c.BasePath, "/") {
		c.BasePath += "/"
	}
	if c.ReconnectMax < 0 {
		c.ReconnectMax = 0
	}
	if c.CleanInterval < 0 {
		c.CleanInterval = 0
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverBolt
	}
	if c.Database.Driver == DriverBolt && c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Database.UsersTable == "" {
		c.Database.UsersTable = "users"
	}
}

// ReconnectMaxAge returns the resumption window.
func (c *Config) ReconnectMaxAge() time.Duration {
	return time.Duration(c.ReconnectMax) * time.Second
}

// SessionMaxAgeDuration returns the cleanup TTL.
func (c *Config) SessionMaxAgeDuration() time.Duration {
	if c.SessionMaxAge <= 0 {
		return c.ReconnectMaxAge()
	}
	return time.Duration(c.SessionMaxAge) * time.Second
}

// CleanIntervalDuration returns the lazy cleaning interval. Zero disables it.
func (c *Config) CleanIntervalDuration() time.Duration {
	return time.Duration(c.CleanInterval) * time.Second
}

// AuthTimeoutDuration returns the auth synchronization window.
func (c *Config) AuthTimeoutDuration() time.Duration {
	return time.Duration(c.AuthTimeout) * time.Second
}

// SlogLevel converts LogLevel to a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WebsocketPattern returns the mount path for the consumer route.
func (c *Config) WebsocketPattern() string {
	return "/" + strings.Trim(c.WebsocketURL, "/")
}

// ===========================================================================
// Type checking
// ===========================================================================

type kind string

const (
	kindString kind = "string"
	kindInt    kind = "integer"
	kindBool   kind = "boolean"
	kindList   kind = "list of strings"
	kindMap    kind = "mapping"
)

type field struct {
	kind   kind
	nested map[string]field
}

var schema = map[string]field{
	"websocket_url":               {kind: kindString},
	"reconnect_max":               {kind: kindInt},
	"session_max_age":             {kind: kindInt},
	"clean_interval":              {kind: kindInt},
	"cache":                       {kind: kindString},
	"default_query_postprocessor": {kind: kindString},
	"auth_backend":                {kind: kindString},
	"auth_secret":                 {kind: kindString},
	"auth_header":                 {kind: kindString},
	"backhaul_thread":             {kind: kindBool},
	"auth_timeout":                {kind: kindInt},
	"address":                     {kind: kindString},
	"base_path":                   {kind: kindString},
	"template_dirs":               {kind: kindList},
	"template_exts":               {kind: kindList},
	"client_asset":                {kind: kindString},
	"workers":                     {kind: kindInt},
	"log_level":                   {kind: kindString},
	"database": {kind: kindMap, nested: map[string]field{
		"driver":      {kind: kindString},
		"dsn":         {kind: kindString},
		"path":        {kind: kindString},
		"users_table": {kind: kindString},
	}},
	"web_modules": {kind: kindMap, nested: map[string]field{
		"dir":       {kind: kindString},
		"s3_bucket": {kind: kindString},
		"s3_prefix": {kind: kindString},
	}},
}

// checkTypes removes mistyped values from raw and reports them. Unknown keys
// are left alone. A null value for clean_interval or the postprocessor means
// "disabled" and is accepted.
func checkTypes(prefix string, raw map[string]any, fields map[string]field) []TypeIssue {
	var issues []TypeIssue
	for key, value := range raw {
		f, ok := fields[key]
		if !ok {
			continue
		}
		name := prefix + key
		if value == nil {
			switch name {
			case "clean_interval":
				raw[key] = 0
			case "default_query_postprocessor":
				raw[key] = ""
			default:
				delete(raw, key)
			}
			continue
		}
		if !matches(f.kind, value) {
			issues = append(issues, TypeIssue{Key: name, Want: string(f.kind), Got: describe(value)})
			delete(raw, key)
			continue
		}
		if f.kind == kindMap {
			issues = append(issues, checkTypes(name+".", value.(map[string]any), f.nested)...)
		}
	}
	return issues
}

func matches(k kind, value any) bool {
	switch k {
	case kindString:
		_, ok := value.(string)
		return ok
	case kindInt:
		_, ok := value.(int)
		return ok
	case kindBool:
		_, ok := value.(bool)
		return ok
	case kindMap:
		_, ok := value.(map[string]any)
		return ok
	case kindList:
		items, ok := value.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	}
	return false
}

func describe(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case int, int64, uint64:
		return "integer"
	case float64:
		return "float"
	case bool:
		return "boolean"
	case []any:
		return "list"
	case map[string]any:
		return "mapping"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// ===========================================================================
// Environment overrides
// ===========================================================================

// applyEnv applies CONDUIT_* overrides. Unparseable numbers and booleans are
// recorded as type issues and ignored.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			c.TypeIssues = append(c.TypeIssues, TypeIssue{Key: EnvPrefix + name, Want: string(kindInt), Got: strconv.Quote(v)})
			return
		}
		*dst = n
	}
	flag := func(name string, dst *bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			c.TypeIssues = append(c.TypeIssues, TypeIssue{Key: EnvPrefix + name, Want: string(kindBool), Got: strconv.Quote(v)})
			return
		}
		*dst = b
	}

	str("WEBSOCKET_URL", &c.WebsocketURL)
	num("RECONNECT_MAX", &c.ReconnectMax)
	num("SESSION_MAX_AGE", &c.SessionMaxAge)
	num("CLEAN_INTERVAL", &c.CleanInterval)
	str("CACHE", &c.Cache)
	str("DATABASE", &c.Database.Driver)
	str("DATABASE_DSN", &c.Database.DSN)
	str("DATABASE_PATH", &c.Database.Path)
	str("DEFAULT_QUERY_POSTPROCESSOR", &c.DefaultQueryPostprocessor)
	str("AUTH_BACKEND", &c.AuthBackend)
	str("AUTH_SECRET", &c.AuthSecret)
	flag("BACKHAUL_THREAD", &c.BackhaulThread)
	num("AUTH_TIMEOUT", &c.AuthTimeout)
	str("ADDRESS", &c.Address)
	str("BASE_PATH", &c.BasePath)
	str("CLIENT_ASSET", &c.ClientAsset)
	str("WEB_MODULES_DIR", &c.WebModules.Dir)
	str("WEB_MODULES_S3_BUCKET", &c.WebModules.S3Bucket)
	str("WEB_MODULES_S3_PREFIX", &c.WebModules.S3Prefix)
	num("WORKERS", &c.Workers)
	str("LOG_LEVEL", &c.LogLevel)
	if v, ok := lookup(EnvPrefix + "TEMPLATE_DIRS"); ok {
		c.TemplateDirs = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, string(os.PathListSeparator)) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

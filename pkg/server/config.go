package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/vango-dev/conduit/internal/config"
)

// ServerConfig holds transport and lifecycle settings.
type ServerConfig struct {
	// Address is the listen address for ListenAndServe.
	// Default: ":8000".
	Address string

	// WebsocketURL prefixes consumer routes.
	// Default: "reactpy/".
	WebsocketURL string

	// BasePath prefixes the HTTP endpoints.
	// Default: "/_conduit/".
	BasePath string

	// ReconnectMax is how old a component session may be when resumed.
	// Default: 259200 seconds.
	ReconnectMax time.Duration

	// BackhaulThread writes outbound frames from a dedicated goroutine.
	BackhaulThread bool

	// ClientAsset is the client bundle served at <base>client.js.
	ClientAsset string

	// Timeouts

	// ReadTimeout is how long a connection may stay silent, pongs included.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds each frame write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10 seconds.
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout is passed to http.Server.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// Limits

	// MaxMessageSize is the largest inbound frame.
	// Default: 64KB.
	MaxMessageSize int64

	// ReadBufferSize and WriteBufferSize size the websocket buffers.
	// Default: 1024 each.
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin validates the Origin header of upgrades.
	// Default: same host or no Origin header.
	CheckOrigin func(r *http.Request) bool
}

// DefaultServerConfig returns a ServerConfig with defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           config.DefaultAddress,
		WebsocketURL:      config.DefaultWebsocketURL,
		BasePath:          config.DefaultBasePath,
		ReconnectMax:      config.DefaultReconnectMax * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxMessageSize:    64 * 1024,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       sameOrigin,
	}
}

// FromConfig maps the runtime configuration onto a ServerConfig.
func FromConfig(cfg *config.Config) *ServerConfig {
	c := DefaultServerConfig()
	c.Address = cfg.Address
	c.WebsocketURL = cfg.WebsocketURL
	c.BasePath = cfg.BasePath
	c.ReconnectMax = cfg.ReconnectMaxAge()
	c.BackhaulThread = cfg.BackhaulThread
	c.ClientAsset = cfg.ClientAsset
	return c
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// fill copies defaults into unset fields. ReconnectMax and BackhaulThread
// are taken as given.
func (c *ServerConfig) fill() {
	d := DefaultServerConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.WebsocketURL == "" {
		c.WebsocketURL = d.WebsocketURL
	}
	if c.BasePath == "" {
		c.BasePath = d.BasePath
	}
	c.BasePath = "/" + strings.Trim(c.BasePath, "/") + "/"
	if c.BasePath == "//" {
		c.BasePath = "/"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = d.ReadHeaderTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = d.CheckOrigin
	}
}

// websocketPrefix returns the mount path of consumer routes, "" for root.
func (c *ServerConfig) websocketPrefix() string {
	p := strings.Trim(c.WebsocketURL, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	return strings.EqualFold(host, r.Host)
}

package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-dev/conduit/internal/config"
)

func TestServerConfigFill(t *testing.T) {
	c := &ServerConfig{BasePath: "conduit", ReconnectMax: time.Minute}
	c.fill()

	if c.BasePath != "/conduit/" {
		t.Errorf("BasePath = %q, want /conduit/", c.BasePath)
	}
	if c.WebsocketURL != config.DefaultWebsocketURL {
		t.Errorf("WebsocketURL = %q", c.WebsocketURL)
	}
	if c.ReconnectMax != time.Minute {
		t.Errorf("ReconnectMax = %v, want as given", c.ReconnectMax)
	}
	if c.ReadTimeout != 60*time.Second || c.WriteTimeout != 10*time.Second {
		t.Errorf("timeouts = %v/%v", c.ReadTimeout, c.WriteTimeout)
	}
	if c.CheckOrigin == nil {
		t.Error("CheckOrigin not defaulted")
	}

	root := &ServerConfig{BasePath: "/"}
	root.fill()
	if root.BasePath != "/" {
		t.Errorf("root BasePath = %q", root.BasePath)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.New()
	cfg.ReconnectMax = 120
	cfg.BackhaulThread = true
	cfg.WebsocketURL = "live/"

	c := FromConfig(cfg)
	if c.ReconnectMax != 2*time.Minute {
		t.Errorf("ReconnectMax = %v", c.ReconnectMax)
	}
	if !c.BackhaulThread {
		t.Error("BackhaulThread not copied")
	}
	if c.websocketPrefix() != "/live" {
		t.Errorf("websocketPrefix = %q", c.websocketPrefix())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := DefaultServerConfig()
	b := a.Clone()
	b.Address = ":9999"
	if a.Address == b.Address {
		t.Error("Clone shares state")
	}
	var nilCfg *ServerConfig
	if nilCfg.Clone() != nil {
		t.Error("nil Clone should be nil")
	}
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://example.com", true},
		{"https://EXAMPLE.com", true},
		{"http://evil.test", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "http://example.com/reactpy/", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := sameOrigin(r); got != tt.want {
			t.Errorf("sameOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

package server

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/vango-dev/conduit/internal/config"
	cerrors "github.com/vango-dev/conduit/internal/errors"
	"github.com/vango-dev/conduit/pkg/registry"
	"github.com/vango-dev/conduit/pkg/store"
)

func codes(issues []*cerrors.Error) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Code)
	}
	return out
}

func TestCheckDefaults(t *testing.T) {
	srv := New(nil, WithRegistry(registry.New()))

	got := codes(srv.Check())
	if !slices.Equal(got, []string{"C001", "C002"}) {
		t.Errorf("before mounting = %v, want [C001 C002]", got)
	}

	srv.Handler()
	got = codes(srv.Check())
	if !slices.Equal(got, []string{"C001"}) {
		t.Errorf("after mounting = %v, want [C001]", got)
	}
	if !cerrors.HasErrors(srv.Check()) {
		t.Error("in-memory datastore should block startup")
	}
}

func TestCheckPersistentStoreIsClean(t *testing.T) {
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "conduit.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	srv := New(nil, WithRegistry(registry.New()), WithStore(st), WithAppConfig(config.New()))
	srv.Handler()
	if issues := srv.Check(); len(issues) != 0 {
		t.Errorf("Check = %v, want none", codes(issues))
	}
}

func TestCheckConfigurationIssues(t *testing.T) {
	cfg := config.New()
	cfg.DefaultQueryPostprocessor = "no.such.postprocessor"
	cfg.AuthBackend = "kerberos"
	cfg.SessionMaxAge = 60
	cfg.ReconnectMax = 3600
	cfg.TypeIssues = []config.TypeIssue{{Key: "workers", Want: "int", Got: `"four"`}}

	reg := registry.New()
	_, _ = reg.Register("missing.Thing")

	srv := New(&ServerConfig{ClientAsset: filepath.Join(t.TempDir(), "client.js")},
		WithRegistry(reg), WithAppConfig(cfg))
	srv.Handler()

	got := codes(srv.Check())
	want := []string{"C001", "C003", "C004", "C005", "C006", "C006", "C007"}
	if !slices.Equal(got, want) {
		t.Errorf("Check = %v, want %v", got, want)
	}
}

func TestCheckClientAssetPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.js")
	if err := os.WriteFile(path, []byte("export {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := New(&ServerConfig{ClientAsset: path}, WithRegistry(registry.New()))
	srv.Handler()
	if slices.Contains(codes(srv.Check()), "C003") {
		t.Error("C003 reported for an existing bundle")
	}
}

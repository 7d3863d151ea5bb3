package server

import (
	"os"
	"slices"

	cerrors "github.com/vango-dev/conduit/internal/errors"
	"github.com/vango-dev/conduit/pkg/auth"
	"github.com/vango-dev/conduit/pkg/hooks"
	"github.com/vango-dev/conduit/pkg/store"
)

// Check runs the startup checks and returns every issue found, in code
// order. Call it after Handler so route mounting is observed.
func (s *Server) Check() []*cerrors.Error {
	var issues []*cerrors.Error

	if store.IsInMemory(s.store) {
		issues = append(issues, cerrors.New("C001").
			WithDetail("component parameters are kept in process memory").
			WithSuggestion("Set database.driver to bolt or postgres so sessions survive restarts and are shared between workers."))
	}
	if !s.mounted.Load() {
		issues = append(issues, cerrors.New("C002").
			WithDetail("no request can reach a consumer until Handler is mounted").
			WithSuggestion("Mount server.Handler() at the site root."))
	}
	if path := s.config.ClientAsset; path != "" {
		if _, err := os.Stat(path); err != nil {
			issues = append(issues, cerrors.New("C003").
				Wrap(err).
				WithDetail("%s", path).
				WithSuggestion("Build the client bundle or point client_asset at it."))
		}
	}

	if cfg := s.appConfig; cfg != nil {
		for _, ti := range cfg.TypeIssues {
			issues = append(issues, cerrors.New("C004").
				WithDetail("%s", ti))
		}
	}

	for _, id := range s.registry.Failed() {
		issues = append(issues, cerrors.New("C005").
			WithDetail("%s", id).
			WithSuggestion("Check the identifier referenced by the template."))
	}

	if cfg := s.appConfig; cfg != nil {
		if name := cfg.DefaultQueryPostprocessor; name != "" {
			if _, ok := hooks.LookupPostprocessor(name); !ok {
				issues = append(issues, cerrors.New("C006").
					WithDetail("default_query_postprocessor %q", name))
			}
		}
		if name := cfg.AuthBackend; name != "" && !slices.Contains(auth.BackendNames(), name) {
			issues = append(issues, cerrors.New("C006").
				WithDetail("auth_backend %q", name).
				WithSuggestion("Use one of none, header or jwt."))
		}
		if cfg.SessionMaxAge > 0 && cfg.SessionMaxAge < cfg.ReconnectMax {
			issues = append(issues, cerrors.New("C007").
				WithDetail("session_max_age %ds < reconnect_max %ds", cfg.SessionMaxAge, cfg.ReconnectMax).
				WithSuggestion("Sessions may be deleted while a client is still allowed to reconnect."))
		}
	}
	return issues
}

package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/vango-dev/conduit/pkg/connection"
	"github.com/vango-dev/conduit/pkg/layout"
)

// UseUser returns the connection's user principal: the one set by a login
// on this connection, else the scope's "user" entry, else the carrier's.
func UseUser(s *layout.Scope) (connection.User, error) {
	return userOf(connection.FromScope(s))
}

func userOf(conn *connection.Connection) (connection.User, error) {
	if u := conn.User(); u != nil {
		return u, nil
	}
	return nil, ErrUserNotFound
}

// DefaultFunc computes a default user data value.
type DefaultFunc func(ctx context.Context) (any, error)

// UserDataOptions configures UseUserData.
type UserDataOptions struct {
	// Defaults fills keys missing from the stored data. Values may be a
	// DefaultFunc, evaluated on read.
	Defaults map[string]any

	// SaveDefaults persists the filled-in defaults on first read.
	SaveDefaults bool
}

// UserDataState is what UseUserData returns. Query.Data is nil for
// anonymous visitors; Set fails for them with ErrAnonymousUser.
type UserDataState struct {
	Query QueryState[map[string]any]
	Set   MutationState[map[string]any]
}

var (
	userDataQuery    = NewQuery("user_data", getUserData)
	userDataMutation = NewMutation("set_user_data", setUserData)
)

// UseUserData reads and writes the per-user JSON document.
func UseUserData(s *layout.Scope, opts UserDataOptions) UserDataState {
	kwargs := map[string]any{
		"defaults":      opts.Defaults,
		"save_defaults": opts.SaveDefaults,
	}
	q := UseQuery(s, userDataQuery, kwargs, NoPostprocessor())
	m := UseMutation(s, userDataMutation, Refetch(userDataQuery))
	return UserDataState{Query: q, Set: m}
}

func userPK(ctx context.Context) (*env, string, error) {
	e := envFrom(ctx)
	if e == nil {
		return nil, "", ErrUserNotFound
	}
	u, err := userOf(e.conn)
	if err != nil {
		return nil, "", err
	}
	if u.IsAnonymous() {
		return e, "", ErrAnonymousUser
	}
	if e.rt.Store == nil {
		return nil, "", ErrNoStore
	}
	return e, u.UserID(), nil
}

func getUserData(ctx context.Context, kwargs map[string]any) (map[string]any, error) {
	e, pk, err := userPK(ctx)
	if errors.Is(err, ErrAnonymousUser) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	raw, _, err := e.rt.Store.GetUserData(ctx, pk)
	if err != nil {
		return nil, fmt.Errorf("loading user data: %w", err)
	}
	data := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decoding user data: %w", err)
		}
	}

	defaults, _ := kwargs["defaults"].(map[string]any)
	changed := false
	for key, def := range defaults {
		if _, ok := data[key]; ok {
			continue
		}
		if fn, ok := def.(DefaultFunc); ok {
			def, err = fn(ctx)
			if err != nil {
				return nil, fmt.Errorf("computing default %q: %w", key, err)
			}
		} else if fn, ok := def.(func(context.Context) (any, error)); ok {
			def, err = fn(ctx)
			if err != nil {
				return nil, fmt.Errorf("computing default %q: %w", key, err)
			}
		}
		data[key] = def
		changed = true
	}

	if save, _ := kwargs["save_defaults"].(bool); save && changed {
		if err := writeUserData(ctx, e, pk, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func setUserData(ctx context.Context, data map[string]any) error {
	e, pk, err := userPK(ctx)
	if err != nil {
		return err
	}
	return writeUserData(ctx, e, pk, maps.Clone(data))
}

func writeUserData(ctx context.Context, e *env, pk string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding user data: %w", err)
	}
	if err := e.rt.Store.UpsertUserData(ctx, pk, raw); err != nil {
		return fmt.Errorf("saving user data: %w", err)
	}
	return nil
}

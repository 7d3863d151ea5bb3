package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/vango-dev/conduit/pkg/connection"
	"github.com/vango-dev/conduit/pkg/layout"
	"github.com/vango-dev/conduit/pkg/vdom"
)

func TestUseUser(t *testing.T) {
	rt := newTestRuntime(t)

	var err box[error]
	root := layout.New("root", func(s *layout.Scope) *vdom.VNode {
		_, e := UseUser(s)
		err.Set(e)
		return nil
	})
	run(t, root, rt)
	eventually(t, "render", func() bool { return err.Get() != nil })
	if !errors.Is(err.Get(), ErrUserNotFound) {
		t.Errorf("err = %v", err.Get())
	}

	var user box[connection.User]
	withCarrier := layout.New("root", func(s *layout.Scope) *vdom.VNode {
		u, _ := UseUser(s)
		user.Set(u)
		return nil
	})
	run(t, withCarrier, rt, withUser(testUser{id: "42"}))
	eventually(t, "user", func() bool { return user.Get() != nil })
	if user.Get().UserID() != "42" {
		t.Errorf("user = %v", user.Get())
	}
}

func TestUseUserDataDefaults(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	_ = rt.Store.UpsertUserData(ctx, "42", []byte(`{"theme":"dark"}`))

	var seen box[UserDataState]
	root := layout.New("root", func(s *layout.Scope) *vdom.VNode {
		seen.Set(UseUserData(s, UserDataOptions{
			Defaults: map[string]any{
				"theme": "light",
				"lang": DefaultFunc(func(context.Context) (any, error) {
					return "en", nil
				}),
			},
			SaveDefaults: true,
		}))
		return nil
	})
	run(t, root, rt, withUser(testUser{id: "42"}))

	eventually(t, "user data", func() bool { return seen.Get().Query.Data != nil })
	data := seen.Get().Query.Data
	if data["theme"] != "dark" || data["lang"] != "en" {
		t.Errorf("data = %v", data)
	}
	raw, _, _ := rt.Store.GetUserData(ctx, "42")
	if string(raw) != `{"lang":"en","theme":"dark"}` {
		t.Errorf("saved = %s", raw)
	}

	seen.Get().Set.Execute(map[string]any{"theme": "blue"})
	eventually(t, "refetched after set", func() bool { return seen.Get().Query.Data["theme"] == "blue" })
}

func TestUseUserDataAnonymous(t *testing.T) {
	rt := newTestRuntime(t)
	var seen box[UserDataState]
	root := layout.New("root", func(s *layout.Scope) *vdom.VNode {
		seen.Set(UseUserData(s, UserDataOptions{}))
		return nil
	})
	run(t, root, rt, withUser(testUser{anon: true}))

	eventually(t, "loaded", func() bool { st := seen.Get(); return st.Set.Execute != nil && !st.Query.Loading })
	if seen.Get().Query.Data != nil {
		t.Errorf("anonymous data = %v, want nil", seen.Get().Query.Data)
	}

	seen.Get().Set.Execute(map[string]any{"x": 1})
	eventually(t, "set error", func() bool { return seen.Get().Set.Err != nil })
	if !errors.Is(seen.Get().Set.Err, ErrAnonymousUser) {
		t.Errorf("err = %v", seen.Get().Set.Err)
	}
}

func TestAccessors(t *testing.T) {
	rt := newTestRuntime(t)
	type snapshot struct {
		loc    connection.Location
		rootID string
		conn   *connection.Connection
	}
	var seen box[*snapshot]
	root := layout.New("root", func(s *layout.Scope) *vdom.VNode {
		seen.Set(&snapshot{loc: UseLocation(s), rootID: UseRootID(s), conn: UseConnection(s)})
		return nil
	})
	run(t, root, rt, withUser(testUser{id: "1"}))
	eventually(t, "render", func() bool { return seen.Get() != nil })

	snap := seen.Get()
	if snap.loc.Pathname != "/page" || snap.loc.Search != "?a=1" {
		t.Errorf("location = %+v", snap.loc)
	}
	if snap.rootID != "abc" {
		t.Errorf("root id = %q", snap.rootID)
	}
	if snap.conn == nil || snap.conn.Carrier.ComponentID() != "test.root" {
		t.Errorf("connection = %+v", snap.conn)
	}
}

package registry

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/vango-dev/conduit/pkg/layout"
	"github.com/vango-dev/conduit/pkg/vdom"
)

func hello(*layout.Scope) *vdom.VNode { return vdom.Text("hello") }

func TestRegisterIdempotent(t *testing.T) {
	r := New()
	c := Static("app.hello", hello)
	r.Provide("app.hello", c)

	got1, err := r.Register("app.hello")
	if err != nil {
		t.Fatal(err)
	}
	got2, err := r.Register("app.hello")
	if err != nil {
		t.Fatal(err)
	}
	if got1 != c || got2 != c {
		t.Error("Register should return the provided constructor every time")
	}
	if ids := r.IDs(); !reflect.DeepEqual(ids, []string{"app.hello"}) {
		t.Errorf("IDs = %v", ids)
	}
}

func TestRegisterMissingIsRecorded(t *testing.T) {
	r := New()
	_, err := r.Register("app.missing")

	var regErr *RegistrationError
	if !errors.As(err, &regErr) || regErr.ID != "app.missing" {
		t.Fatalf("err = %v, want *RegistrationError", err)
	}
	if !errors.Is(err, ErrImportFailed) {
		t.Errorf("err = %v, want ErrImportFailed", err)
	}
	if _, ok := r.Lookup("app.missing"); ok {
		t.Error("failed id should not be looked up")
	}
	if f := r.Failed(); !reflect.DeepEqual(f, []string{"app.missing"}) {
		t.Errorf("Failed = %v", f)
	}

	r.Provide("app.missing", Static("app.missing", hello))
	if _, err := r.Register("app.missing"); err != nil {
		t.Fatal(err)
	}
	if len(r.Failed()) != 0 {
		t.Error("a later successful registration should clear the failure")
	}
}

func TestRegisterConstructorConflict(t *testing.T) {
	r := New()
	a := Static("a", hello)
	b := Static("b", hello)

	if err := r.RegisterConstructor("x.y", a); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterConstructor("x.y", a); err != nil {
		t.Errorf("same constructor again: %v", err)
	}
	if err := r.RegisterConstructor("x.y", b); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("err = %v, want ErrAlreadyRegistered", err)
	}
	if c, _ := r.Lookup("x.y"); c != a {
		t.Error("registry entry was overwritten")
	}
}

func TestInvalidID(t *testing.T) {
	r := New()
	if _, err := r.Register("../etc"); !errors.Is(err, ErrImportFailed) {
		t.Errorf("err = %v", err)
	}
	for _, id := range []string{"a", "a.b_c", "_x.Y2"} {
		if !ValidID(id) {
			t.Errorf("ValidID(%q) = false", id)
		}
	}
	for _, id := range []string{"", "a.", ".a", "a..b", "1a", "a-b"} {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true", id)
		}
	}
}

func TestBind(t *testing.T) {
	c := WithParams("app.greet", []Param{
		{Name: "name", Required: true},
		{Name: "greeting", Default: "hello"},
	}, func(b Bound) (layout.RenderFunc, error) {
		return func(*layout.Scope) *vdom.VNode { return vdom.Text(b.String("greeting") + " " + b.String("name")) }, nil
	})

	tests := []struct {
		name   string
		args   []any
		kwargs map[string]any
		want   Bound
		err    bool
	}{
		{name: "positional", args: []any{"ann"}, want: Bound{"name": "ann", "greeting": "hello"}},
		{name: "keyword", kwargs: map[string]any{"name": "bo", "greeting": "hi"}, want: Bound{"name": "bo", "greeting": "hi"}},
		{name: "too many", args: []any{"a", "b", "c"}, err: true},
		{name: "unknown keyword", args: []any{"a"}, kwargs: map[string]any{"color": 1}, err: true},
		{name: "duplicate", args: []any{"a"}, kwargs: map[string]any{"name": "b"}, err: true},
		{name: "missing required", kwargs: map[string]any{"greeting": "yo"}, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Bind(tt.args, tt.kwargs)
			if tt.err {
				if !errors.Is(err, ErrComponentParamMismatch) {
					t.Errorf("err = %v, want ErrComponentParamMismatch", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Bind = %v, want %v", got, tt.want)
			}
		})
	}

	if !c.HasParams() || Static("s", hello).HasParams() {
		t.Error("HasParams mismatch")
	}
	comp, err := c.New([]any{"ann"}, nil)
	if err != nil || comp.Name != "app.greet" {
		t.Errorf("New = %v, %v", comp, err)
	}
}

func TestScan(t *testing.T) {
	src := `
<div>{% component "app.one" %}</div>
{% component 'app.two' key="x" %}
<!-- {% component "app.hidden" %} -->
{# {% component "app.hidden2" %} #}
{% comment %}
  {% component "app.hidden3" %}
{% endcomment %}
{% component "app.one" %}
{% component "mixed.quote' %}
`
	got := Scan(src)
	want := []string{"app.one", "app.two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scan = %v, want %v", got, want)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("index.html", `{% component "app.hello" %}`)
	write("sub/page.tmpl", `{% component "app.gone" %}{% component "app.hello" %}`)
	write("notes.txt", `{% component "app.ignored" %}`)

	r := New()
	r.Provide("app.hello", Static("app.hello", hello))

	found, failed, err := r.Discover([]string{dir, filepath.Join(dir, "absent")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(found, []string{"app.gone", "app.hello"}) {
		t.Errorf("found = %v", found)
	}
	if !reflect.DeepEqual(failed, []string{"app.gone"}) {
		t.Errorf("failed = %v", failed)
	}
	if _, ok := r.Lookup("app.hello"); !ok {
		t.Error("app.hello not registered")
	}
}

func TestManifest(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteManifest(&buf, []string{"b.x", "a.y"}); err != nil {
		t.Fatal(err)
	}
	ids, err := ReadManifest(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"a.y", "b.x"}) {
		t.Errorf("ids = %v", ids)
	}

	if _, err := ReadManifest(bytes.NewBufferString(`{"manifestVersion":9}`)); err == nil {
		t.Error("unknown version should fail")
	}
}

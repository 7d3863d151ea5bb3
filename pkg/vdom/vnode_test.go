package vdom

import (
	"context"
	"errors"
	"testing"
)

type fakeComponent struct{ name, key string }

func (f fakeComponent) ComponentName() string { return f.name }
func (f fakeComponent) ComponentKey() string  { return f.key }

func TestCreateElement(t *testing.T) {
	node := Div(
		ID("main"),
		Class("a", "b"),
		Key("k1"),
		nil,
		OnClick(func() {}),
		Span(Text("hi")),
		"tail",
		fakeComponent{name: "child", key: "c"},
	)

	if node.Kind != KindElement || node.Tag != "div" {
		t.Fatalf("got %s %q", node.Kind, node.Tag)
	}
	if node.Key != "k1" {
		t.Errorf("Key = %q, want k1", node.Key)
	}
	if _, ok := node.Attrs["key"]; ok {
		t.Error("key should not be an attribute")
	}
	if node.Attrs["className"] != "a b" {
		t.Errorf("className = %v", node.Attrs["className"])
	}
	if !node.IsInteractive() {
		t.Error("node with handler should be interactive")
	}
	if len(node.Children) != 3 {
		t.Fatalf("children = %d, want 3", len(node.Children))
	}
	if node.Children[1].Kind != KindText || node.Children[1].Text != "tail" {
		t.Errorf("string child = %+v", node.Children[1])
	}
	comp := node.Children[2]
	if comp.Kind != KindComponent || comp.Key != "c" {
		t.Errorf("component child = %+v", comp)
	}
}

func TestVoidElementDropsChildren(t *testing.T) {
	node := Input(Type("text"), Text("ignored"))
	if len(node.Children) != 0 {
		t.Errorf("void element kept %d children", len(node.Children))
	}
	if !IsVoidElement("br") || IsVoidElement("div") {
		t.Error("IsVoidElement mismatch")
	}
}

func TestFragmentIgnoresAttributes(t *testing.T) {
	f := Fragment(ID("x"), Text("a"), []*VNode{Text("b"), nil}, OnClick(nil))
	if f.Attrs != nil || f.Handlers != nil {
		t.Error("fragment should not carry attributes or handlers")
	}
	if len(f.Children) != 2 {
		t.Errorf("children = %d, want 2", len(f.Children))
	}
}

func TestOnAdaptsHandlers(t *testing.T) {
	ctx := context.Background()
	called := 0
	sentinel := errors.New("boom")

	cases := []any{
		func() { called++ },
		func() error { called++; return nil },
		func(data []any) { called += len(data) },
		func(context.Context, []any) error { return sentinel },
	}
	for _, h := range cases[:3] {
		if err := On("click", h).Func(ctx, []any{1}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if called != 3 {
		t.Errorf("called = %d, want 3", called)
	}
	if err := On("click", cases[3]).Func(ctx, nil); !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for unsupported handler")
		}
	}()
	On("click", 42)
}

func TestSubmitPreventsDefault(t *testing.T) {
	if !OnSubmit(nil).PreventDefault {
		t.Error("OnSubmit should prevent default")
	}
	h := OnClick(nil).WithStopPropagation()
	if h.Event != "onclick" || !h.StopPropagation {
		t.Errorf("handler = %+v", h)
	}
}

func TestModelHelpers(t *testing.T) {
	m := &Model{
		TagName: "div",
		Children: []any{
			"a",
			&Model{TagName: "span", Key: "s", Children: []any{"b"}},
		},
	}
	if m.TextContent() != "ab" {
		t.Errorf("TextContent = %q", m.TextContent())
	}
	if m.Child(0) != nil || m.Child(1).TagName != "span" || m.Child(5) != nil {
		t.Error("Child lookup mismatch")
	}
	if found := m.Find(func(x *Model) bool { return x.Key == "s" }); found == nil {
		t.Error("Find should locate keyed span")
	}
}

func TestRange(t *testing.T) {
	items := Range([]string{"a", "", "c"}, func(s string, i int) *VNode {
		return If(s != "", Li(Key(s), Text(s)))
	})
	if len(items) != 2 {
		t.Errorf("Range returned %d nodes, want 2", len(items))
	}
}

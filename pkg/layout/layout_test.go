package layout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/conduit/pkg/vdom"
)

func render(t *testing.T, l *Layout) Update {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	u, err := l.Render(ctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return u
}

func clickTarget(t *testing.T, m *vdom.Model, event string) string {
	t.Helper()
	node := m.Find(func(n *vdom.Model) bool { _, ok := n.EventHandlers[event]; return ok })
	if node == nil {
		t.Fatalf("no %s handler in model", event)
	}
	return node.EventHandlers[event].Target
}

func counter() *Component {
	return New("test.Counter", func(s *Scope) *vdom.VNode {
		count := UseState(s, 0)
		return vdom.Div(
			vdom.Button(vdom.OnClick(func() { count.Update(func(n int) int { return n + 1 }) })),
			vdom.Textf("count=%d", count.Get()),
		)
	})
}

func TestFirstRenderIsRoot(t *testing.T) {
	l := NewLayout(counter())
	defer l.Close()

	u := render(t, l)
	if u.Type != TypeLayoutUpdate || u.Path != "" {
		t.Fatalf("first update = %+v", u)
	}
	if u.Model.TagName != "" {
		t.Errorf("root wrapper tag = %q, want empty", u.Model.TagName)
	}
	div := u.Model.Child(0)
	if div == nil || div.TagName != "div" {
		t.Fatalf("root child = %+v", div)
	}
	if got := u.Model.TextContent(); got != "count=0" {
		t.Errorf("text = %q", got)
	}
}

func TestEventTriggersRender(t *testing.T) {
	l := NewLayout(counter())
	defer l.Close()

	u := render(t, l)
	target := clickTarget(t, u.Model, "onclick")

	if err := l.Deliver(context.Background(), Event{Type: TypeLayoutEvent, Target: target}); err != nil {
		t.Fatal(err)
	}
	u = render(t, l)
	if u.Path != "" {
		t.Errorf("path = %q, want root", u.Path)
	}
	if got := u.Model.TextContent(); got != "count=1" {
		t.Errorf("text = %q, want count=1", got)
	}
	if clickTarget(t, u.Model, "onclick") != target {
		t.Error("handler target should be stable across renders")
	}
}

func TestChildRendersAtItsPath(t *testing.T) {
	var setChild State[string]
	child := New("test.Child", func(s *Scope) *vdom.VNode {
		st := UseState(s, "a")
		setChild = st
		return vdom.Span(vdom.Text(st.Get()))
	})
	parentRenders := 0
	root := New("test.Parent", func(s *Scope) *vdom.VNode {
		parentRenders++
		return vdom.Div(vdom.P(vdom.Text("title")), child)
	})

	l := NewLayout(root)
	defer l.Close()
	render(t, l)

	setChild.Set("b")
	u := render(t, l)
	if u.Path != "/children/0/children/1" {
		t.Errorf("path = %q", u.Path)
	}
	if u.Model.TextContent() != "b" {
		t.Errorf("text = %q", u.Model.TextContent())
	}
	if parentRenders != 1 {
		t.Errorf("parent rendered %d times, want 1", parentRenders)
	}
}

func TestShallowestDirtyRendersFirst(t *testing.T) {
	var parentState, childState State[int]
	childRenders := 0
	child := New("test.Child", func(s *Scope) *vdom.VNode {
		childRenders++
		childState = UseState(s, 0)
		return vdom.Text("child")
	})
	root := New("test.Parent", func(s *Scope) *vdom.VNode {
		parentState = UseState(s, 0)
		return vdom.Div(child)
	})

	l := NewLayout(root)
	defer l.Close()
	render(t, l)

	childState.Set(1)
	parentState.Set(1)
	u := render(t, l)
	if u.Path != "" {
		t.Errorf("path = %q, want root", u.Path)
	}
	if childRenders != 2 {
		t.Errorf("child renders = %d, want 2", childRenders)
	}

	// The child's dirty mark was consumed by the parent render.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Render(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected no pending render, got %v", err)
	}
}

func TestUnmountRunsCleanup(t *testing.T) {
	var show State[bool]
	mounted, cleaned := 0, 0
	var childCtx context.Context

	child := New("test.Child", func(s *Scope) *vdom.VNode {
		childCtx = s.Context()
		UseEffect(s, func() func() {
			mounted++
			return func() { cleaned++ }
		})
		return vdom.Text("child")
	})
	root := New("test.Root", func(s *Scope) *vdom.VNode {
		show = UseState(s, true)
		if show.Get() {
			return vdom.Div(child)
		}
		return vdom.Div()
	})

	l := NewLayout(root)
	defer l.Close()
	render(t, l)
	if mounted != 1 {
		t.Fatalf("mounted = %d", mounted)
	}

	show.Set(false)
	render(t, l)
	if cleaned != 1 {
		t.Errorf("cleaned = %d, want 1", cleaned)
	}
	if childCtx.Err() == nil {
		t.Error("child context should be cancelled at unmount")
	}
}

func TestEffectDeps(t *testing.T) {
	var dep State[int]
	var other State[int]
	runs := 0
	root := New("test.Effect", func(s *Scope) *vdom.VNode {
		dep = UseState(s, 0)
		other = UseState(s, 0)
		UseEffect(s, func() func() { runs++; return nil }, dep.Get())
		return vdom.Text("x")
	})
	l := NewLayout(root)
	defer l.Close()
	render(t, l)

	other.Set(1)
	render(t, l)
	if runs != 1 {
		t.Errorf("runs = %d after unrelated change, want 1", runs)
	}

	dep.Set(1)
	render(t, l)
	if runs != 2 {
		t.Errorf("runs = %d after dep change, want 2", runs)
	}
}

func TestKeyedChildrenKeepState(t *testing.T) {
	var order State[[]string]
	item := func(key string) *Component {
		return New("test.Item", func(s *Scope) *vdom.VNode {
			label := UseRef(s, key)
			return vdom.Li(vdom.Text(label.Current))
		}).WithKey(key)
	}
	root := New("test.List", func(s *Scope) *vdom.VNode {
		order = UseState(s, []string{"a", "b"})
		var items []*vdom.VNode
		for _, k := range order.Get() {
			items = append(items, vdom.Mount(item(k)))
		}
		return vdom.Ul(items)
	})
	l := NewLayout(root)
	defer l.Close()
	render(t, l)

	order.Set([]string{"b", "a"})
	u := render(t, l)
	if got := u.Model.TextContent(); got != "ba" {
		t.Errorf("text = %q, want ba", got)
	}
}

func TestHookOrderViolation(t *testing.T) {
	var toggle State[bool]
	var errs []*RenderError
	root := New("test.Bad", func(s *Scope) *vdom.VNode {
		toggle = UseState(s, false)
		if toggle.Get() {
			UseRef(s, 1)
		}
		return vdom.Text("ok")
	})

	l := NewLayout(root, OnRenderError(func(err *RenderError) { errs = append(errs, err) }))
	defer l.Close()
	first := render(t, l)

	toggle.Set(true)
	u := render(t, l)
	if len(errs) != 1 || !errors.Is(errs[0], ErrHookOrder) {
		t.Fatalf("errs = %v, want hook order error", errs)
	}
	if u.Model != first.Model {
		t.Error("failed render should keep the previous model")
	}
}

func TestRenderPanicRecovered(t *testing.T) {
	var errs []*RenderError
	root := New("test.Panic", func(s *Scope) *vdom.VNode {
		panic("boom")
	})
	l := NewLayout(root, OnRenderError(func(err *RenderError) { errs = append(errs, err) }))
	defer l.Close()

	u := render(t, l)
	if u.Model == nil || len(u.Model.Children) != 0 {
		t.Errorf("model = %+v, want empty", u.Model)
	}
	if len(errs) != 1 || errs[0].Component != "test.Panic" || len(errs[0].Stack) == 0 {
		t.Errorf("errs = %+v", errs)
	}
}

func TestDeliverUnknownTargetIgnored(t *testing.T) {
	l := NewLayout(counter())
	defer l.Close()
	render(t, l)
	if err := l.Deliver(context.Background(), Event{Target: "missing"}); err != nil {
		t.Errorf("Deliver unknown target: %v", err)
	}
}

func TestCloseStopsRender(t *testing.T) {
	l := NewLayout(counter())
	render(t, l)

	done := make(chan error, 1)
	go func() {
		_, err := l.Render(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	l.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Render did not return after Close")
	}
	if err := l.Deliver(context.Background(), Event{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Deliver after close = %v", err)
	}
}

func TestServeDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []any
	root := New("test.Recorder", func(s *Scope) *vdom.VNode {
		return vdom.Button(vdom.OnClick(func(data []any) {
			mu.Lock()
			seen = append(seen, data[0])
			mu.Unlock()
		}))
	})
	l := NewLayout(root)
	defer l.Close()

	updates := make(chan Update, 4)
	events := make(chan Event, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, l,
			func(_ context.Context, u Update) error { updates <- u; return nil },
			func(ctx context.Context) (Event, error) {
				select {
				case ev := <-events:
					return ev, nil
				case <-ctx.Done():
					return Event{}, ctx.Err()
				}
			})
	}()

	first := <-updates
	target := clickTarget(t, first.Model, "onclick")
	for i := 0; i < 10; i++ {
		events <- Event{Type: TypeLayoutEvent, Target: target, Data: []any{i}}
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 10 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 10 {
		t.Fatalf("seen %d events", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("event %d = %v, out of order: %v", i, v, seen)
		}
	}
}

func TestServeReturnsSendError(t *testing.T) {
	l := NewLayout(counter())
	defer l.Close()
	boom := errors.New("send failed")
	err := Serve(context.Background(), l,
		func(context.Context, Update) error { return boom },
		func(ctx context.Context) (Event, error) { <-ctx.Done(); return Event{}, ctx.Err() })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want send error", err)
	}
}

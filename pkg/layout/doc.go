// Package layout owns a component tree, renders it to vdom models and routes
// client events to handlers.
//
// A Layout is driven by two loops that Serve runs together:
//
//	render → send: Render blocks until some component is dirty, re-renders
//	               the shallowest dirty component and returns an Update
//	               addressed by a JSON pointer.
//	recv → deliver: Deliver looks up the handler named by an Event's target
//	                and calls it.
//
// Render and Deliver are serialized by the layout; state setters may be
// called from any goroutine and only enqueue work.
//
// # Hooks
//
// Components keep state across renders through hooks that must be called in
// the same order on every render:
//
//	counter := layout.New("app.Counter", func(s *layout.Scope) *vdom.VNode {
//	    count := layout.UseState(s, 0)
//	    return vdom.Button(
//	        vdom.OnClick(func() { count.Update(func(n int) int { return n + 1 }) }),
//	        vdom.Textf("clicked %d times", count.Get()),
//	    )
//	})
package layout

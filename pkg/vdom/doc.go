// Package vdom provides the virtual DOM node types rendered by conduit
// components and the JSON model sent to the client.
//
// # Core Types
//
// VNode represents elements, text, fragments and nested components.
// Attributes are plain values; event handlers are *EventHandler values keyed
// by their lowercase "on" name.
//
// # Element API
//
// Elements are created using variadic factory functions:
//
//	Div(Class("card"), ID("main"),
//	    H1(Text("Title")),
//	    Button(OnClick(increment), Text("+1")),
//	)
//
// # Model
//
// Model is the wire form of a rendered tree. The layout engine converts VNodes
// to Models, assigning each handler an opaque target address that the client
// echoes back in layout-event messages.
package vdom

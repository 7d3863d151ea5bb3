// Package hooks provides the data and transport hooks available to
// components: queries, mutations, channel layers, user data and read-only
// accessors for the connection.
//
// Hooks follow the layout rules: call them unconditionally and in the same
// order on every render.
//
//	var getItems = hooks.NewQuery("get_items", func(ctx context.Context, _ map[string]any) ([]string, error) {
//		return db.Items(ctx)
//	})
//
//	func list(s *layout.Scope) *vdom.VNode {
//		items := hooks.UseQuery(s, getItems, nil)
//		if items.Loading {
//			return vdom.Text("loading")
//		}
//		...
//	}
//
// A Runtime holds the state hooks share across layouts: the worker pool,
// the refetch registry, the channel layers and the datastore. The server
// installs one into every layout it creates.
package hooks

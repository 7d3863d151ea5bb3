// Package conduit hosts server-driven components.
//
// A component is registered under a dotted identifier, referenced from a
// template, and rendered on the server. The browser opens one websocket per
// component instance; state changes are sent as layout updates and browser
// events come back as layout events.
//
// Build an App from configuration and mount it:
//
//	cfg, err := config.Load("conduit.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	registry.Provide("shop.Cart", cart.Constructor())
//
//	app, err := conduit.New(cfg, conduit.WithHandler(pages))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Close()
//	log.Fatal(app.ListenAndServe(ctx))
//
// Templates call App.Server().PrepareComponent to obtain the URL a client
// connects to.
package conduit

// Version is the module version reported by the CLI.
const Version = "0.4.0"

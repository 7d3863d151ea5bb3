// Package config loads conduit's runtime configuration.
//
// Configuration is read from a YAML file (conduit.yaml by default) and then
// overridden by CONDUIT_* environment variables. Durations are whole seconds.
//
//	websocket_url: reactpy/
//	reconnect_max: 259200
//	clean_interval: 604800
//	database:
//	  driver: postgres
//	  dsn: postgres://localhost/conduit?sslmode=disable
//	auth_backend: jwt
//	auth_secret: change-me
//
// Values of the wrong scalar type are not fatal while loading. They are
// dropped, the default is kept, and the problem is recorded in
// Config.TypeIssues so startup checks can report it.
//
// # Usage
//
//	cfg, err := config.Load("conduit.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("reconnect window:", cfg.ReconnectMaxAge())
package config

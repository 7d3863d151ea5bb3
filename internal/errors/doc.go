// Package errors provides coded, structured diagnostics for conduit.
//
// Startup checks and registration failures are reported as *Error values
// rather than plain strings so that the CLI, logs and tests can match on a
// stable code:
//
//	issue := errors.New("C001").
//	    WithDetail(`database driver "memory" is not shared between processes`).
//	    WithSuggestion("Configure database.driver as bolt or postgres")
//
//	fmt.Print(issue.Format())
//	// WARNING C001: Datastore is not concurrency safe
//	//
//	//   database driver "memory" is not shared between processes
//	//
//	//   Hint: Configure database.driver as bolt or postgres
//
// # Severity
//
// Every code carries a default Severity. Errors abort `conduit check` with a
// non-zero exit status; warnings are printed and logged only.
package errors

// Package registry maps dotted component identifiers to constructors.
//
// Constructors are offered to the process with Provide, usually from an
// init function, and become addressable once registered:
//
//	func init() {
//		registry.Provide("shop.cart", registry.Static("shop.cart", cartView))
//	}
//
// Registration is append-only. Registering an identifier nothing provides
// records it as failed instead of aborting, so a broken template reference
// degrades one widget rather than the whole process.
//
// Discover scans template directories for component tags and registers
// every identifier it finds. The same scan can run at build time through
// WriteManifest, leaving the server a plain table read at startup.
package registry

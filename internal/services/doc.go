// Package services implements the business logic layer of the key service.
// It provides a clean separation between HTTP handlers and the store, so
// the lifecycle rules live in one testable place.
//
// The key lifecycle service owns the one piece of real policy in the system:
// issuance with collision retry, and validation with first-use device
// binding. Everything else maps one operation to one store call.
//
// Services return typed errors (see Error and ErrorKind); the HTTP transport
// performs the single translation to status codes. Lookup misses on the
// list, validate, and batch-delete paths are payload facts, not errors.
package services

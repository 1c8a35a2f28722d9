// Package app wires the application together: configuration, logging,
// telemetry, the key store, services, the HTTP router, and the server
// lifecycle. Everything is constructed in NewApplication and torn down in
// Stop.
package app

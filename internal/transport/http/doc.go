// Package http contains the HTTP handlers for the key management API.
// Handlers bind and validate request payloads, call one service operation,
// and render the result; all error translation goes through a single helper
// per handler so no status-code logic leaks into individual endpoints.
package http

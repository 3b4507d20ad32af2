// Package auth owns the session credential and keeps the real-time
// connection supplied with a valid token.
//
// The Coordinator loads persisted credentials, refreshes them through a
// single-flight call, reacts to authentication failures reported by the
// connection manager and ends the session when a refresh is impossible.
package auth

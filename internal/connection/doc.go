// Package connection implements the ConnectionManager.
//
// The ConnectionManager:
//   - Owns at most one authenticated real-time channel
//   - Classifies failures as network or authentication errors
//   - Reconnects after network errors with capped exponential backoff
//   - Blocks connects for a cooldown after repeated authentication errors
//   - Runs a watchdog that repairs a silently dead channel
//   - Publishes lifecycle and server events on the local event bus
//
// State machine:
//
//	disconnected -> connecting -> connected
//	connected -> disconnected (network drop) -> connecting (backoff fires)
//	connecting/connected -> authBlocked (auth errors) -> disconnected (cooldown)
package connection

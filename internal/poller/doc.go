// Package poller periodically checks the signed-in profile over REST.
//
// The real-time channel only learns that a credential was revoked when
// it reconnects. The profile poller asks GET /auth/perfil on an interval
// and hands a rejected credential to the auth coordinator for a refresh,
// so a revoked session is noticed while the channel is still up.
// Temporary sessions are skipped because they cannot be refreshed.
package poller

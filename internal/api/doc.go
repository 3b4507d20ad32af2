// Package api provides the inventory REST client for session management.
//
// Endpoints (relative to the configured base URL, e.g. http://localhost:3001/api):
//   - POST /auth/login    {email, password}  -> {usuario, accessToken, refreshToken}
//   - POST /auth/refresh  {refreshToken}     -> {accessToken, refreshToken}
//   - POST /auth/logout   {refreshToken}
//   - GET  /auth/perfil   (Bearer access token)
//
// Every response is wrapped in an envelope {exito, mensaje, datos}.
package api

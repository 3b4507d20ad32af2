package api

import "encoding/json"

// envelope wraps every API response.
type envelope struct {
	Exito   bool            `json:"exito"`
	Mensaje string          `json:"mensaje"`
	Datos   json.RawMessage `json:"datos"`
}

// Session is the result of a successful login.
type Session struct {
	User         json.RawMessage `json:"usuario"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
}

// TokenPair is the result of a refresh. The refresh token rotates.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// User holds the profile fields the client uses. The full object is kept
// as raw JSON alongside the credentials.
type User struct {
	ID            json.Number `json:"id"`
	Email         string      `json:"email"`
	Nombre        string      `json:"nombre"`
	NombreUsuario string      `json:"nombreUsuario"`
	Rol           string      `json:"rol"`
}

type loginRequest struct {
	Email    string `json:"email"` // email or username
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

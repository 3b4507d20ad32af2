package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://inventario.example.com/api/")

		if c.baseURL != "https://inventario.example.com/api" {
			t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("https://inventario.example.com/api",
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
		)
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.maxRetries != 10 || c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retries = %d/%v, want 10/500ms", c.maxRetries, c.retryBackoff)
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("https://inventario.example.com/api", WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 401, Message: "Credenciales inválidas"}
		expected := "api error 401: Credenciales inválidas"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{502, true},
			{503, true},
			{429, true},
			{400, false},
			{401, false},
			{403, false},
			{404, false},
			{200, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})

	t.Run("IsUnauthorized through wrapping", func(t *testing.T) {
		err := errors.Join(errors.New("refresh"), &APIError{StatusCode: 401})
		if !IsUnauthorized(err) {
			t.Error("expected wrapped 401 to be unauthorized")
		}
		if IsUnauthorized(&APIError{StatusCode: 500}) {
			t.Error("500 should not be unauthorized")
		}
		if IsUnauthorized(errors.New("dial tcp: refused")) {
			t.Error("plain error should not be unauthorized")
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("unwraps envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if !strings.HasPrefix(r.Header.Get("User-Agent"), "livesync/") {
				t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
			}
			w.Write([]byte(`{"exito":true,"mensaje":"ok","datos":{"status":"ok"}}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		data, err := c.doRequest(context.Background(), http.MethodGet, "/test", "", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"status":"ok"}` {
			t.Errorf("datos = %q, want %q", string(data), `{"status":"ok"}`)
		}
	})

	t.Run("bearer token and JSON body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Errorf("Authorization header = %q, want %q", r.Header.Get("Authorization"), "Bearer tok")
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"a":1}` {
				t.Errorf("body = %q", body)
			}
			w.Write([]byte(`{"exito":true,"datos":null}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if _, err := c.doRequest(context.Background(), http.MethodPost, "/test", "tok", []byte(`{"a":1}`)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error takes message from envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"exito":false,"mensaje":"Token expirado"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", "", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 401 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 401)
		}
		if apiErr.Message != "Token expirado" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "Token expirado")
		}
	})

	t.Run("5xx with non-JSON body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`<html>bad gateway</html>`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", "", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.Message != "Bad Gateway" {
			t.Errorf("Message = %q, want status text", apiErr.Message)
		}
		if !strings.Contains(string(apiErr.Body), "bad gateway") {
			t.Errorf("Body = %q", apiErr.Body)
		}
	})

	t.Run("exito false on 200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"exito":false,"mensaje":"Operación rechazada"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", "", nil)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "Operación rechazada" {
			t.Fatalf("expected APIError with server message, got %v", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		_, err := c.doRequest(ctx, http.MethodGet, "/test", "", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("error should contain 'context canceled', got %v", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`error`))
				return
			}
			w.Write([]byte(`{"exito":true,"datos":{"ok":true}}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		data, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", "", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"ok":true}` {
			t.Errorf("datos = %q", data)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("retries on 429", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{"exito":true,"datos":{}}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", "", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	})

	t.Run("does not retry on 401", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"exito":false,"mensaje":"Refresh token inválido"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodPost, "/test", "", []byte(`{}`))
		if !IsUnauthorized(err) {
			t.Fatalf("expected unauthorized error, got %v", err)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", "", nil)
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Fatalf("expected max retries error, got %v", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("resends body on retry", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"refreshToken":"r"}` {
				t.Errorf("attempt body = %q", body)
			}
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"exito":true,"datos":null}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(2, 10*time.Millisecond))
		if err := c.post(context.Background(), "/test", refreshRequest{RefreshToken: "r"}, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(5, 50*time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := c.doWithRetry(ctx, http.MethodGet, "/test", "", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context") {
			t.Errorf("error should be context-related, got %v", err)
		}
	})
}

func TestLogin(t *testing.T) {
	t.Run("successful login", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
				t.Errorf("request = %s %s", r.Method, r.URL.Path)
			}
			var req loginRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if req.Email != "ana" || req.Password != "secreto" {
				t.Errorf("credentials = %+v", req)
			}
			w.Write([]byte(`{"exito":true,"mensaje":"Login exitoso","datos":{
				"usuario":{"id":7,"email":"ana@example.com","nombre":"Ana","rol":"administrador"},
				"accessToken":"acc","refreshToken":"ref"}}`))
		}))
		defer server.Close()

		c := NewClient(server.URL + "/api")
		s, err := c.Login(context.Background(), "ana", "secreto")
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if s.AccessToken != "acc" || s.RefreshToken != "ref" {
			t.Errorf("tokens = %q/%q", s.AccessToken, s.RefreshToken)
		}

		var u User
		if err := json.Unmarshal(s.User, &u); err != nil {
			t.Fatalf("decode user: %v", err)
		}
		if u.ID.String() != "7" || u.Rol != "administrador" {
			t.Errorf("user = %+v", u)
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"exito":false,"mensaje":"Credenciales inválidas"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.Login(context.Background(), "ana", "mal")
		if !IsUnauthorized(err) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
		if !strings.Contains(err.Error(), "Credenciales inválidas") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("missing tokens", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"exito":true,"datos":{"usuario":{}}}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if _, err := c.Login(context.Background(), "ana", "x"); !errors.Is(err, ErrMissingTokens) {
			t.Fatalf("expected ErrMissingTokens, got %v", err)
		}
	})
}

func TestRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.RefreshToken != "old" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"exito":false,"mensaje":"Refresh token inválido"}`))
			return
		}
		w.Write([]byte(`{"exito":true,"mensaje":"Tokens renovados","datos":{"accessToken":"a2","refreshToken":"r2"}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)

	tp, err := c.Refresh(context.Background(), "old")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if tp.AccessToken != "a2" || tp.RefreshToken != "r2" {
		t.Errorf("pair = %+v", tp)
	}

	if _, err := c.Refresh(context.Background(), "stale"); !IsUnauthorized(err) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestRefresh_NotRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"exito":false,"mensaje":"upstream caído"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRetries(3, time.Millisecond))

	_, err := c.Refresh(context.Background(), "old")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("requests = %d, want 1 (refresh must not be retried)", got)
	}
}

func TestLogout(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/logout" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req refreshRequest
		json.NewDecoder(r.Body).Decode(&req)
		got = req.RefreshToken
		w.Write([]byte(`{"exito":true,"mensaje":"Logout exitoso","datos":null}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	if err := c.Logout(context.Background(), "ref"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if got != "ref" {
		t.Errorf("refresh token sent = %q, want %q", got, "ref")
	}
}

func TestProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/auth/perfil" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer acc" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"exito":false,"mensaje":"Token inválido"}`))
			return
		}
		w.Write([]byte(`{"exito":true,"datos":{"id":3,"email":"luis@example.com","nombreUsuario":"luis","rol":"colaborador"}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	u, err := c.Profile(context.Background(), "acc")
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if u.NombreUsuario != "luis" || u.Rol != "colaborador" {
		t.Errorf("user = %+v", u)
	}

	if _, err := c.Profile(context.Background(), "bad"); !IsUnauthorized(err) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

// signUpAndVerify walks the dev-bypass signup flow and returns the signin
// response payload (accessToken, refreshToken, userId).
func signUpAndVerify(t *testing.T, handler http.Handler, email, password string) map[string]any {
	t.Helper()

	recorder := doRequest(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       email,
		"password":    password,
		"displayName": "Test User",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	signup := decodeResponse(t, recorder)
	verifyToken, _ := signup["devVerificationToken"].(string)
	if verifyToken == "" {
		t.Fatal("expected devVerificationToken when SMTP is not configured")
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/verify-email", "", map[string]any{"token": verifyToken})
	if recorder.Code != http.StatusOK {
		t.Fatalf("verify-email status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    email,
		"password": password,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("signin status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	return decodeResponse(t, recorder)
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore()), "*")
	recorder := doRequest(t, server.Handler(), http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("health status = %d", recorder.Code)
	}
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	ms := newMemStore()
	ms.pingErr = errDatabaseDown
	server := NewHTTPServer(newTestService(ms), "*")
	recorder := doRequest(t, server.Handler(), http.MethodGet, "/api/ready", "", nil)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["ok"] != false {
		t.Fatalf("expected ok=false, got %v", payload["ok"])
	}
}

func TestSignUpThenSignInFlow(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore()), "*")
	handler := server.Handler()

	recorder := doRequest(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":    "ana@example.com",
		"password": "correct-horse",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	signup := decodeResponse(t, recorder)
	verifyToken, _ := signup["devVerificationToken"].(string)
	if verifyToken == "" {
		t.Fatal("expected devVerificationToken")
	}

	// Unverified accounts cannot sign in.
	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "ana@example.com",
		"password": "correct-horse",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("pre-verification signin status = %d, want 403", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["code"] != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("expected EMAIL_NOT_VERIFIED, got %v", payload["code"])
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/verify-email", "", map[string]any{"token": verifyToken})
	if recorder.Code != http.StatusOK {
		t.Fatalf("verify status = %d", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "ana@example.com",
		"password": "correct-horse",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("signin status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	signin := decodeResponse(t, recorder)
	if signin["accessToken"] == "" || signin["refreshToken"] == "" {
		t.Fatalf("expected tokens, got %v", signin)
	}
	if signin["tier"] != "free" {
		t.Fatalf("new accounts start on the free tier, got %v", signin["tier"])
	}

	// Wrong password is rejected without revealing which field was wrong.
	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "ana@example.com",
		"password": "wrong",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", recorder.Code)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore()), "*")
	handler := server.Handler()

	signUpAndVerify(t, handler, "dup@example.com", "first-password")

	recorder := doRequest(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":    "dup@example.com",
		"password": "second-password",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d, want 409", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["code"] != "EMAIL_EXISTS" {
		t.Fatalf("expected EMAIL_EXISTS, got %v", payload["code"])
	}
}

func TestSessionEndpointReflectsToken(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore()), "*")
	handler := server.Handler()

	recorder := doRequest(t, handler, http.MethodGet, "/api/session", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("anonymous session status = %d", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["authenticated"] != false {
		t.Fatalf("expected unauthenticated, got %v", payload)
	}

	signin := signUpAndVerify(t, handler, "sess@example.com", "long-password")
	token := signin["accessToken"].(string)

	recorder = doRequest(t, handler, http.MethodGet, "/api/session", token, nil)
	payload := decodeResponse(t, recorder)
	if payload["authenticated"] != true {
		t.Fatalf("expected authenticated session, got %v", payload)
	}
	if payload["tier"] != "free" {
		t.Fatalf("expected tier from database, got %v", payload["tier"])
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore()), "*")
	handler := server.Handler()

	signin := signUpAndVerify(t, handler, "rot@example.com", "long-password")
	refreshToken := signin["refreshToken"].(string)

	recorder := doRequest(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": refreshToken})
	if recorder.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	refreshed := decodeResponse(t, recorder)
	if refreshed["refreshToken"] == refreshToken {
		t.Fatal("refresh must rotate the refresh token")
	}

	// The old refresh token is single-use.
	recorder = doRequest(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": refreshToken})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh token status = %d, want 401", recorder.Code)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore()), "*")
	handler := server.Handler()

	signin := signUpAndVerify(t, handler, "out@example.com", "long-password")
	token := signin["accessToken"].(string)
	refreshToken := signin["refreshToken"].(string)

	recorder := doRequest(t, handler, http.MethodPost, "/api/session/logout", token, map[string]any{"refreshToken": refreshToken})
	if recorder.Code != http.StatusOK {
		t.Fatalf("logout status = %d", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodGet, "/api/sites", token, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token status = %d, want 401", recorder.Code)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore()), "*")
	handler := server.Handler()

	signUpAndVerify(t, handler, "reset@example.com", "old-password-1")

	recorder := doRequest(t, handler, http.MethodPost, "/api/auth/reset-password/request", "", map[string]any{"email": "reset@example.com"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("reset request status = %d", recorder.Code)
	}
	resetToken, _ := decodeResponse(t, recorder)["devResetToken"].(string)
	if resetToken == "" {
		t.Fatal("expected devResetToken when SMTP is not configured")
	}

	// Unknown addresses get the same response with no token.
	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/reset-password/request", "", map[string]any{"email": "ghost@example.com"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("reset request for unknown email status = %d", recorder.Code)
	}
	if _, ok := decodeResponse(t, recorder)["devResetToken"]; ok {
		t.Fatal("unknown email must not yield a reset token")
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/reset-password", "", map[string]any{
		"token":       resetToken,
		"newPassword": "new-password-1",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("reset status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "reset@example.com",
		"password": "new-password-1",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("signin with new password status = %d", recorder.Code)
	}

	// Reset tokens are single-use.
	recorder = doRequest(t, handler, http.MethodPost, "/api/auth/reset-password", "", map[string]any{
		"token":       resetToken,
		"newPassword": "another-password",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("reused reset token status = %d, want 400", recorder.Code)
	}
}

func TestRequireSessionRejectsMissingAndGarbageTokens(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore()), "*")
	handler := server.Handler()

	for _, token := range []string{"", "not-a-token", "payload.badsignature"} {
		recorder := doRequest(t, handler, http.MethodGet, "/api/sites", token, nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("token %q status = %d, want 401", token, recorder.Code)
		}
	}
}

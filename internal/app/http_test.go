package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"attest/api/internal/authpw"
)

func newTestServer(fs *fakeStore, deps Deps) http.Handler {
	if deps.AuthPW == nil {
		deps.AuthPW = authpw.NewService(fs)
	}
	return NewHTTPServer(newTestService(fs, deps), "*").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func signUpAndIn(t *testing.T, handler http.Handler) (token string, orgID string) {
	t.Helper()
	rr := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"organizationName": "Acme Corp",
		"email":            "admin@acme.test",
		"password":         "s3cret-pass",
		"displayName":      "Alex Admin",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	orgID, _ = payload["organizationId"].(string)
	if payload["role"] != "SYSTEM_ADMIN" {
		t.Fatalf("expected first user to be SYSTEM_ADMIN, got %v", payload["role"])
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "admin@acme.test",
		"password": "s3cret-pass",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("signin: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	token, _ = decodeJSON(t, rr)["token"].(string)
	if token == "" {
		t.Fatalf("expected a session token")
	}
	return token, orgID
}

func TestHealthAndReady(t *testing.T) {
	handler := newTestServer(newFakeStore(), Deps{})

	rr := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decodeJSON(t, rr)["status"] != "ready" {
		t.Fatalf("expected ready status, got %s", rr.Body.String())
	}
}

func TestAuthFlowAndSessionEndpoint(t *testing.T) {
	handler := newTestServer(newFakeStore(), Deps{})
	token, orgID := signUpAndIn(t, handler)

	rr := doJSON(t, handler, http.MethodGet, "/api/session", token, nil)
	payload := decodeJSON(t, rr)
	if payload["authenticated"] != true || payload["organizationId"] != orgID {
		t.Fatalf("unexpected session payload %v", payload)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/session", "not-a-token", nil)
	if decodeJSON(t, rr)["authenticated"] != false {
		t.Fatalf("expected unauthenticated for a bad token")
	}

	// Duplicate email across organizations conflicts.
	rr = doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"organizationName": "Other Org",
		"email":            "admin@acme.test",
		"password":         "another-pass",
		"displayName":      "Imposter",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "admin@acme.test",
		"password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rr.Code)
	}
}

func TestSessionRefreshRotation(t *testing.T) {
	fs := newFakeStore()
	handler := newTestServer(fs, Deps{Sessions: newFakeSessions()})
	_, _ = signUpAndIn(t, handler)

	rr := doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "admin@acme.test",
		"password": "s3cret-pass",
	})
	refreshToken, _ := decodeJSON(t, rr)["refreshToken"].(string)
	if refreshToken == "" {
		t.Fatalf("expected refresh token when a session store is wired")
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]any{
		"refreshToken": refreshToken,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rotated, _ := decodeJSON(t, rr)["refreshToken"].(string)
	if rotated == "" || rotated == refreshToken {
		t.Fatalf("expected a rotated refresh token")
	}

	// The old token is revoked on use.
	rr = doJSON(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]any{
		"refreshToken": refreshToken,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for replayed refresh token, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/session/logout", "", map[string]any{
		"refreshToken": rotated,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]any{
		"refreshToken": rotated,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	handler := newTestServer(newFakeStore(), Deps{})

	rr := doJSON(t, handler, http.MethodGet, "/api/v1/disclosure-forms", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if decodeJSON(t, rr)["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED code")
	}
}

func TestRBACDeniesWritesForReadOnlyRoles(t *testing.T) {
	handler := newTestServer(newFakeStore(), Deps{})
	adminToken, _ := signUpAndIn(t, handler)

	rr := doJSON(t, handler, http.MethodPost, "/api/v1/users/invite", adminToken, map[string]any{
		"email":       "emp@acme.test",
		"password":    "employee-pass",
		"displayName": "Evan Employee",
		"role":        "EMPLOYEE",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("invite: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "emp@acme.test",
		"password": "employee-pass",
	})
	empToken, _ := decodeJSON(t, rr)["token"].(string)

	rr = doJSON(t, handler, http.MethodPost, "/api/v1/disclosure-forms", empToken, giftFormInput())
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for employee template create, got %d", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodGet, "/api/v1/cases", empToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for employee case listing, got %d", rr.Code)
	}

	// Employees cannot invite either.
	rr = doJSON(t, handler, http.MethodPost, "/api/v1/users/invite", empToken, map[string]any{
		"email": "x@acme.test", "password": "x-pass-123", "displayName": "X", "role": "EMPLOYEE",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for employee invite, got %d", rr.Code)
	}
}

func TestTemplateLifecycleOverHTTP(t *testing.T) {
	handler := newTestServer(newFakeStore(), Deps{})
	token, _ := signUpAndIn(t, handler)

	rr := doJSON(t, handler, http.MethodPost, "/api/v1/disclosure-forms", token, giftFormInput())
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	id, _ := decodeJSON(t, rr)["id"].(string)

	rr = doJSON(t, handler, http.MethodPost, "/api/v1/disclosure-forms", token, giftFormInput())
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate create: expected 409, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/v1/disclosure-forms/"+id+"/publish", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("publish: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decodeJSON(t, rr)["version"] != float64(1) {
		t.Fatalf("expected version 1")
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/v1/disclosure-forms/published/Gift%20Policy?language=en", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("published lookup: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decodeJSON(t, rr)["status"] != "PUBLISHED" {
		t.Fatalf("expected PUBLISHED row")
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/v1/disclosure-forms/"+id+"/versions", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("versions: expected 200, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/v1/disclosure-forms/"+id+"/archive", token, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("archive: expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/v1/disclosure-forms/"+id+"/publish", token, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("publish archived: expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "clone") {
		t.Fatalf("expected the error to point at cloning, got %s", rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/v1/disclosure-forms/tpl_missing", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rr.Code)
	}
}

func TestCSVExportDownload(t *testing.T) {
	fs := newFakeStore()
	handler := newTestServer(fs, Deps{})
	token, _ := signUpAndIn(t, handler)

	rr := doJSON(t, handler, http.MethodPost, "/api/v1/disclosure-forms", token, giftFormInput())
	id, _ := decodeJSON(t, rr)["id"].(string)
	if rr = doJSON(t, handler, http.MethodPost, "/api/v1/disclosure-forms/"+id+"/publish", token, nil); rr.Code != http.StatusOK {
		t.Fatalf("publish: %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/portal/reports", "", map[string]any{
		"organizationId": orgIDFromStore(fs),
		"templateName":   "Gift Policy",
		"answers":        map[string]any{"received": "yes", "giftValue": 125.5},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("portal submit: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/v1/disclosure-forms/"+id+"/export", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "Gift-Policy.csv") {
		t.Fatalf("unexpected disposition %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "submission_id,case_reference,submitted_at") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], "$125.50") {
		t.Fatalf("expected formatted currency value, got %q", lines[1])
	}
}

func TestPortalReportOverHTTP(t *testing.T) {
	fs := newFakeStore()
	handler := newTestServer(fs, Deps{Objects: newFakeObjects()})
	token, _ := signUpAndIn(t, handler)

	rr := doJSON(t, handler, http.MethodPost, "/api/v1/disclosure-forms", token, giftFormInput())
	id, _ := decodeJSON(t, rr)["id"].(string)
	if rr = doJSON(t, handler, http.MethodPost, "/api/v1/disclosure-forms/"+id+"/publish", token, nil); rr.Code != http.StatusOK {
		t.Fatalf("publish: %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/portal/reports", "", map[string]any{
		"organizationId": orgIDFromStore(fs),
		"templateName":   "Gift Policy",
		"answers":        map[string]any{"received": "yes"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("portal submit: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	accessKey, _ := payload["accessKey"].(string)
	if accessKey == "" {
		t.Fatalf("expected access key")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/portal/reports/status", nil)
	req.Header.Set("X-Report-Key", accessKey)
	statusRR := httptest.NewRecorder()
	handler.ServeHTTP(statusRR, req)
	if statusRR.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", statusRR.Code)
	}
	if decodeJSON(t, statusRR)["reference"] != payload["reference"] {
		t.Fatalf("expected matching reference")
	}

	// Multipart attachment upload.
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "receipt.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fmt.Fprint(part, "fake pdf bytes")
	writer.Close()

	req = httptest.NewRequest(http.MethodPost, "/api/portal/reports/attachments", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Report-Key", accessKey)
	uploadRR := httptest.NewRecorder()
	handler.ServeHTTP(uploadRR, req)
	if uploadRR.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d body=%s", uploadRR.Code, uploadRR.Body.String())
	}
}

func orgIDFromStore(fs *fakeStore) string {
	for id := range fs.orgs {
		return id
	}
	return ""
}

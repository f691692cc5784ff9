package statusapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cfilipov/edged/internal/executor"
	"github.com/cfilipov/edged/internal/model"
	"github.com/cfilipov/edged/internal/state"
	"github.com/cfilipov/edged/internal/step"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := state.Open(filepath.Join(dir, "agent.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	const key = "test-device-key"
	hash, err := HashAPIKey(key)
	if err != nil {
		t.Fatal(err)
	}
	auth := NewDeviceAuth(hash, []byte("jwt-secret"))
	return NewServer(auth, st), key
}

func authToken(t *testing.T, s *Server, key string) string {
	t.Helper()
	mux := s.Mux()

	body, _ := json.Marshal(authRequest{Key: key})
	req := httptest.NewRequest("POST", "/auth", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("auth failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

func TestAuthRejectsWrongKey(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.Mux()

	body, _ := json.Marshal(authRequest{Key: "wrong"})
	req := httptest.NewRequest("POST", "/auth", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStatusRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.Mux()

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestStatusReturnsPublishedSnapshot(t *testing.T) {
	s, key := newTestServer(t)
	mux := s.Mux()
	token := authToken(t, s, key)

	current := []model.App{{AppID: 1}}
	target := []model.App{{AppID: 1, IsTarget: true}}
	steps := []step.Step{step.Kill(model.Service{AppID: 1, ServiceName: "main"})}
	results := []executor.Result{{Step: steps[0]}}
	s.Publish(current, target, steps, results)

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.CurrentApps) != 1 || resp.CurrentApps[0].AppID != 1 {
		t.Errorf("unexpected current apps: %+v", resp.CurrentApps)
	}
	if len(resp.LastSteps) != 1 || resp.LastSteps[0].Action != step.ActionKill {
		t.Errorf("unexpected last steps: %+v", resp.LastSteps)
	}
}

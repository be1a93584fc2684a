package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/session"
	"github.com/BTreeMap/ShopPipe/internal/testutil"
)

const customer = "5566999000111@s.whatsapp.net"

func newTestServer(t *testing.T) (*Server, *session.Store, *testutil.Clock) {
	t.Helper()
	st, clock := testutil.NewSessionStore(t)
	sweeper := session.NewSweeper(st, 30*time.Minute, time.Minute)
	return NewServer(st, sweeper), st, clock
}

func do(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, testutil.APIResult) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	return rr, testutil.DecodeAPIResponse(t, rr)
}

func sessionPath(id string, suffix string) string {
	return "/sessions/" + url.PathEscape(id) + suffix
}

func TestHealthHandler(t *testing.T) {
	s, st, _ := newTestServer(t)
	if err := st.AddMessage(customer, models.RoleUser, "oi"); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" || body["sessions"] != float64(1) {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestListSessions(t *testing.T) {
	s, st, _ := newTestServer(t)
	for _, id := range []string{"b@s.whatsapp.net", "a@s.whatsapp.net"} {
		if err := st.AddMessage(id, models.RoleUser, "hi"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := st.EnterHumanMode("b@s.whatsapp.net"); err != nil {
		t.Fatal(err)
	}

	rr, res := do(t, s, http.MethodGet, "/sessions")
	if rr.Code != http.StatusOK || res.Status != models.APIStatusOK {
		t.Fatalf("unexpected response %d %+v", rr.Code, res)
	}
	var rows []SessionSummary
	if err := json.Unmarshal(res.Result, &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].ID != "a@s.whatsapp.net" || rows[1].Status != models.StatusHuman {
		t.Errorf("unexpected rows: %+v", rows)
	}

	_, res = do(t, s, http.MethodGet, "/sessions?status=human")
	rows = nil
	if err := json.Unmarshal(res.Result, &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != "b@s.whatsapp.net" {
		t.Errorf("status filter returned %+v", rows)
	}

	rr, _ = do(t, s, http.MethodGet, "/sessions?status=sleeping")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad filter, got %d", rr.Code)
	}
}

func TestGetSession(t *testing.T) {
	s, st, _ := newTestServer(t)
	if err := st.UpdateUserInfo(customer, func(u *models.UserInfo) { u.Name = "Ana" }); err != nil {
		t.Fatal(err)
	}

	rr, res := do(t, s, http.MethodGet, sessionPath(customer, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var sess models.Session
	if err := json.Unmarshal(res.Result, &sess); err != nil {
		t.Fatal(err)
	}
	if sess.ID != customer || sess.UserInfo.Name != "Ana" {
		t.Errorf("unexpected session %+v", sess)
	}

	rr, res = do(t, s, http.MethodGet, sessionPath("nobody@s.whatsapp.net", ""))
	if rr.Code != http.StatusNotFound || res.Status != models.APIStatusError {
		t.Errorf("expected 404 error, got %d %+v", rr.Code, res)
	}
	if _, err := st.Get("nobody@s.whatsapp.net"); err == nil {
		t.Error("a lookup must not create the session")
	}
}

func TestSessionContext(t *testing.T) {
	s, st, _ := newTestServer(t)
	_ = st.AddMessage(customer, models.RoleUser, "hello")
	_ = st.AddMessage(customer, models.RoleAssistant, "hi there")

	tests := []struct {
		name  string
		query string
		code  int
		want  string
	}{
		{"default budget", "", http.StatusOK, "user: hello\n\nassistant: hi there\n\n"},
		{"small budget", "?max_tokens=6", http.StatusOK, "assistant: hi there\n\n"},
		{"zero budget", "?max_tokens=0", http.StatusOK, ""},
		{"negative budget", "?max_tokens=-1", http.StatusBadRequest, ""},
		{"non numeric", "?max_tokens=lots", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, res := do(t, s, http.MethodGet, sessionPath(customer, "/context")+tt.query)
			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rr.Code)
			}
			if tt.code != http.StatusOK {
				return
			}
			var body struct {
				Context string `json:"context"`
			}
			if err := json.Unmarshal(res.Result, &body); err != nil {
				t.Fatal(err)
			}
			if body.Context != tt.want {
				t.Errorf("context = %q, want %q", body.Context, tt.want)
			}
		})
	}

	rr, _ := do(t, s, http.MethodGet, sessionPath("ghost@s.whatsapp.net", "/context"))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", rr.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	s, st, _ := newTestServer(t)
	_ = st.AddMessage(customer, models.RoleUser, "hello")

	for i, want := range []bool{true, false} {
		rr, res := do(t, s, http.MethodDelete, sessionPath(customer, ""))
		if rr.Code != http.StatusOK {
			t.Fatalf("delete %d: expected 200, got %d", i, rr.Code)
		}
		var body map[string]bool
		if err := json.Unmarshal(res.Result, &body); err != nil {
			t.Fatal(err)
		}
		if body["existed"] != want {
			t.Errorf("delete %d: existed = %v, want %v", i, body["existed"], want)
		}
	}
}

func TestReleaseSession(t *testing.T) {
	s, st, _ := newTestServer(t)
	if _, err := st.EnterHumanMode(customer); err != nil {
		t.Fatal(err)
	}

	rr, res := do(t, s, http.MethodPost, sessionPath(customer, "/release"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(res.Result, &body); err != nil {
		t.Fatal(err)
	}
	if !body["released"] || st.IsHuman(customer) {
		t.Errorf("session should be released, body=%v", body)
	}
	msgs := st.Load(customer).Messages
	if last := msgs[len(msgs)-1]; last.Role != models.RoleSystem || last.Content != session.ReleaseReason {
		t.Errorf("expected release reason in history, got %+v", last)
	}

	_, res = do(t, s, http.MethodPost, sessionPath(customer, "/release"))
	if res.Message == "" {
		t.Error("second release should report the session was already automated")
	}

	rr, _ = do(t, s, http.MethodPost, sessionPath("ghost@s.whatsapp.net", "/release"))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestSweepHandler(t *testing.T) {
	s, st, clock := newTestServer(t)
	if _, err := st.EnterHumanMode(customer); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Hour)

	rr, res := do(t, s, http.MethodPost, "/sweep")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Reverted []string `json:"reverted"`
	}
	if err := json.Unmarshal(res.Result, &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Reverted) != 1 || body.Reverted[0] != customer {
		t.Errorf("reverted = %v", body.Reverted)
	}

	_, res = do(t, s, http.MethodPost, "/sweep")
	body.Reverted = nil
	if err := json.Unmarshal(res.Result, &body); err != nil {
		t.Fatal(err)
	}
	if body.Reverted == nil || len(body.Reverted) != 0 {
		t.Errorf("second sweep should return an empty list, got %v", body.Reverted)
	}
}

func TestRouting_UnknownAndWrongMethod(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr, res := do(t, s, http.MethodGet, "/nope")
	if rr.Code != http.StatusNotFound || res.Status != models.APIStatusError {
		t.Errorf("expected JSON 404, got %d %+v", rr.Code, res)
	}
	rr, _ = do(t, s, http.MethodPut, "/sweep")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWriteJSONResponse_MarshalFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]interface{}{"bad": make(chan int)})
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 fallback, got %d", rr.Code)
	}
	if !bytes.Equal(rr.Body.Bytes(), fallbackErrorResponse) {
		t.Errorf("unexpected fallback body %s", rr.Body.String())
	}
}

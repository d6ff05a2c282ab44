package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v4"

	"github.com/relayline/relayline/internal/ledger"
	"github.com/relayline/relayline/internal/provider"
)

// setupKey bootstraps the first operator key through the setup endpoint and
// returns the full credential.
func setupKey(t *testing.T, env *testEnv) string {
	t.Helper()
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/setup", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("setup: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data struct {
			KeyID string `json:"key_id"`
			Key   string `json:"key"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding setup response: %v", err)
	}
	if !strings.HasPrefix(resp.Data.Key, resp.Data.KeyID+".") {
		t.Fatalf("key %q does not start with its id %q", resp.Data.Key, resp.Data.KeyID)
	}
	return resp.Data.Key
}

// authedRequest sends a JSON request with the given API key.
func authedRequest(t *testing.T, env *testEnv, key, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	return rr
}

func seedCall(t *testing.T, env *testEnv, id string) {
	t.Helper()
	dur := 47
	_, err := env.ledger.Upsert(context.Background(), ledger.Payload{
		CallID:    id,
		From:      "+15550199000",
		To:        "+15550200",
		Direction: "inbound",
		Status:    "completed",
		Duration:  &dur,
		AgentID:   "agent-7",
	})
	if err != nil {
		t.Fatalf("seeding call %s: %v", id, err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health body: %s", rr.Body.String())
	}
}

func TestSetupOnlyOnce(t *testing.T) {
	env := newTestEnv(t)

	key := setupKey(t, env)

	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/setup", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("second setup: expected 409, got %d", rr.Code)
	}

	// The issued key authenticates.
	if rr := authedRequest(t, env, key, http.MethodGet, "/api/v1/calls", nil); rr.Code != http.StatusOK {
		t.Fatalf("issued key rejected: %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCallsRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rr.Code)
	}
}

func TestListCallsPaginatedAndFiltered(t *testing.T) {
	env := newTestEnv(t)
	key := setupKey(t, env)

	seedCall(t, env, testCallSID)
	seedCall(t, env, testChildSID)

	rr := authedRequest(t, env, key, http.MethodGet, "/api/v1/calls?limit=1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data struct {
			Items []callResponse `json:"items"`
			Total int64          `json:"total"`
			Limit int            `json:"limit"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding list response: %v", err)
	}
	if resp.Data.Total != 2 || len(resp.Data.Items) != 1 || resp.Data.Limit != 1 {
		t.Fatalf("total=%d items=%d limit=%d, want 2/1/1",
			resp.Data.Total, len(resp.Data.Items), resp.Data.Limit)
	}

	rr = authedRequest(t, env, key, http.MethodGet, "/api/v1/calls?agent_id=nobody", nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding filtered response: %v", err)
	}
	if resp.Data.Total != 0 {
		t.Fatalf("agent filter: total = %d, want 0", resp.Data.Total)
	}
}

func TestGetCall(t *testing.T) {
	env := newTestEnv(t)
	key := setupKey(t, env)
	seedCall(t, env, testCallSID)

	rr := authedRequest(t, env, key, http.MethodGet, "/api/v1/calls/"+testCallSID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data callResponse `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding call: %v", err)
	}
	if resp.Data.ID != testCallSID || resp.Data.AgentID != "agent-7" {
		t.Fatalf("unexpected call payload: %+v", resp.Data)
	}

	if rr := authedRequest(t, env, key, http.MethodGet, "/api/v1/calls/"+testChildSID, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown call: expected 404, got %d", rr.Code)
	}
	if rr := authedRequest(t, env, key, http.MethodGet, "/api/v1/calls/not-a-sid", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", rr.Code)
	}
}

func TestGetRecordingMediaStreamsAudio(t *testing.T) {
	env := newTestEnv(t)
	key := setupKey(t, env)
	seedCall(t, env, testCallSID)

	mediaURL := "https://media.example.com/" + testRecordingSID
	if _, err := env.ledger.Upsert(context.Background(), ledger.Payload{
		CallID:       testCallSID,
		RecordingID:  testRecordingSID,
		RecordingURL: mediaURL,
	}); err != nil {
		t.Fatalf("linking recording: %v", err)
	}
	audio := []byte("RIFFfakeaudio")
	env.prov.media[mediaURL] = audio

	rr := authedRequest(t, env, key, http.MethodGet, "/api/v1/calls/"+testCallSID+"/recording", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/x-wav" {
		t.Fatalf("Content-Type = %q, want audio/x-wav", got)
	}
	if !bytes.Equal(rr.Body.Bytes(), audio) {
		t.Fatalf("body = %q, want raw audio bytes", rr.Body.Bytes())
	}
}

func TestGetRecordingMediaWithoutRecording(t *testing.T) {
	env := newTestEnv(t)
	key := setupKey(t, env)
	seedCall(t, env, testCallSID)

	rr := authedRequest(t, env, key, http.MethodGet, "/api/v1/calls/"+testCallSID+"/recording", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("call without recording: expected 404, got %d", rr.Code)
	}
	if rr := authedRequest(t, env, key, http.MethodGet, "/api/v1/calls/"+testChildSID+"/recording", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown call: expected 404, got %d", rr.Code)
	}
}

func TestDeleteCalls(t *testing.T) {
	env := newTestEnv(t)
	key := setupKey(t, env)
	seedCall(t, env, testCallSID)
	seedCall(t, env, testChildSID)

	rr := authedRequest(t, env, key, http.MethodDelete, "/api/v1/calls",
		map[string]any{"ids": []string{testCallSID, testChildSID}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data map[string]int64 `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding delete response: %v", err)
	}
	if resp.Data["deleted"] != 2 {
		t.Fatalf("deleted = %d, want 2", resp.Data["deleted"])
	}

	if rr := authedRequest(t, env, key, http.MethodGet, "/api/v1/calls/"+testCallSID, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("deleted call still present: %d", rr.Code)
	}

	rr = authedRequest(t, env, key, http.MethodDelete, "/api/v1/calls",
		map[string]any{"ids": []string{"bogus"}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bogus id: expected 400, got %d", rr.Code)
	}
}

func TestTranscribeCallCompletes(t *testing.T) {
	env := newTestEnv(t)
	key := setupKey(t, env)

	seedCall(t, env, testCallSID)
	dur := 38
	ch := 2
	if _, err := env.ledger.Upsert(context.Background(), ledger.Payload{
		CallID:            testCallSID,
		RecordingID:       testRecordingSID,
		RecordingURL:      "https://media.example.com/" + testRecordingSID,
		RecordingDuration: &dur,
		RecordingChannels: &ch,
	}); err != nil {
		t.Fatalf("linking recording: %v", err)
	}

	// The fake completes jobs immediately; sentences carry channel data so
	// roles resolve (channel 2 is the agent on an inbound call).
	env.prov.sentences[testIntelSID] = []provider.Sentence{
		{Transcript: "Hi, I saw your pricing page.", MediaChannel: 1, StartTime: 0, EndTime: 3},
		{Transcript: "Happy to walk you through it.", MediaChannel: 2, StartTime: 3, EndTime: 6},
	}

	rr := authedRequest(t, env, key, http.MethodPost, "/api/v1/calls/"+testCallSID+"/transcribe", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data struct {
			Status       string `json:"status"`
			TranscriptID string `json:"transcript_id"`
			Text         string `json:"text"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding transcribe response: %v", err)
	}
	if resp.Data.Status != "completed" || resp.Data.TranscriptID != testIntelSID {
		t.Fatalf("status=%q transcript=%q, want completed/%s",
			resp.Data.Status, resp.Data.TranscriptID, testIntelSID)
	}
	if !strings.Contains(resp.Data.Text, "customer: Hi, I saw your pricing page.") ||
		!strings.Contains(resp.Data.Text, "agent: Happy to walk you through it.") {
		t.Fatalf("unexpected transcript text:\n%s", resp.Data.Text)
	}

	// The transcript endpoint reports the stored result without re-creating.
	rr = authedRequest(t, env, key, http.MethodGet, "/api/v1/calls/"+testCallSID+"/transcript", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("transcript poll: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rec, err := env.ledger.Get(context.Background(), testCallSID)
	if err != nil {
		t.Fatalf("fetching record: %v", err)
	}
	if rec.TranscriptStatus != "completed" || rec.TranscriptID != testIntelSID {
		t.Fatalf("ledger transcript status=%q id=%q", rec.TranscriptStatus, rec.TranscriptID)
	}
}

func TestTranscribeWithoutRecordingNotReady(t *testing.T) {
	env := newTestEnv(t)
	key := setupKey(t, env)
	seedCall(t, env, testCallSID)

	rr := authedRequest(t, env, key, http.MethodPost, "/api/v1/calls/"+testCallSID+"/transcribe", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "not-ready") {
		t.Fatalf("expected not-ready status, got: %s", rr.Body.String())
	}
}

func TestBrowserTokenIssuedAndCached(t *testing.T) {
	env := newTestEnv(t)
	key := setupKey(t, env)

	rr := authedRequest(t, env, key, http.MethodPost, "/api/v1/token",
		map[string]string{"agent_id": "agent-7"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data browserTokenResponse `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding token response: %v", err)
	}
	if resp.Data.Identity != "agent-7" || resp.Data.Token == "" {
		t.Fatalf("unexpected token payload: %+v", resp.Data)
	}

	var claims BrowserClaims
	_, err := jwt.ParseWithClaims(resp.Data.Token, &claims, func(*jwt.Token) (any, error) {
		return []byte("0123456789abcdef0123456789abcdef"), nil
	})
	if err != nil {
		t.Fatalf("parsing issued token: %v", err)
	}
	if claims.Identity != "agent-7" || claims.Subject != "agent-7" {
		t.Fatalf("claims identity=%q subject=%q", claims.Identity, claims.Subject)
	}

	// The same agent gets the cached token back.
	rr2 := authedRequest(t, env, key, http.MethodPost, "/api/v1/token",
		map[string]string{"agent_id": "agent-7"})
	var resp2 struct {
		Data browserTokenResponse `json:"data"`
	}
	if err := json.Unmarshal(rr2.Body.Bytes(), &resp2); err != nil {
		t.Fatalf("decoding second token response: %v", err)
	}
	if resp2.Data.Token != resp.Data.Token {
		t.Fatal("expected the cached token on the second request")
	}

	rr = authedRequest(t, env, key, http.MethodPost, "/api/v1/token", map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing agent_id: expected 400, got %d", rr.Code)
	}
}

func TestRegisterDevice(t *testing.T) {
	env := newTestEnv(t)
	key := setupKey(t, env)

	rr := authedRequest(t, env, key, http.MethodPost, "/api/v1/devices",
		map[string]string{"agent_id": "agent-7", "token": "fcm-token-1"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	devs, err := env.devices.ListByAgent(context.Background(), "agent-7")
	if err != nil {
		t.Fatalf("listing devices: %v", err)
	}
	if len(devs) != 1 || devs[0].Platform != "fcm" || devs[0].Token != "fcm-token-1" {
		t.Fatalf("unexpected devices: %+v", devs)
	}

	rr = authedRequest(t, env, key, http.MethodPost, "/api/v1/devices",
		map[string]string{"agent_id": "agent-7"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing token: expected 400, got %d", rr.Code)
	}
}

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		AccountSID: "AC00000000000000000000000000000000",
		AuthToken:  "secret",
		BaseURL:    srv.URL,
		IntelURL:   srv.URL + "/v2",
	})
}

func TestCreateCallSendsFormAndAuth(t *testing.T) {
	var gotTo, gotFrom, gotUser string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _, _ = r.BasicAuth()
		r.ParseForm()
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		json.NewEncoder(w).Encode(map[string]any{"sid": "CA" + hex32("1"), "status": "queued"})
	}))

	call, err := c.CreateCall(context.Background(), CreateCallParams{
		To:   "+15550199",
		From: "+15550100",
	})
	if err != nil {
		t.Fatalf("CreateCall() error: %v", err)
	}
	if call.Sid == "" || call.Status != "queued" {
		t.Errorf("call = %+v", call)
	}
	if gotTo != "+15550199" || gotFrom != "+15550100" {
		t.Errorf("form To=%q From=%q", gotTo, gotFrom)
	}
	if gotUser != "AC00000000000000000000000000000000" {
		t.Errorf("basic auth user = %q", gotUser)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"sid": "CA" + hex32("2"), "status": "completed"})
	}))

	call, err := c.FetchCall(context.Background(), "CA"+hex32("2"))
	if err != nil {
		t.Fatalf("FetchCall() error after retries: %v", err)
	}
	if call.Status != "completed" {
		t.Errorf("status = %q", call.Status)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"code": 20404, "message": "not found"})
	}))

	_, err := c.FetchCall(context.Background(), "CA"+hex32("3"))
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 404 || apiErr.Code != 20404 {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1 (no retry on 4xx)", got)
	}
}

func TestIntStrUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"number", `{"duration": 47}`, 47},
		{"string", `{"duration": "47"}`, 47},
		{"empty string", `{"duration": ""}`, 0},
		{"null", `{"duration": null}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Duration IntStr `json:"duration"`
			}
			if err := json.Unmarshal([]byte(tt.in), &out); err != nil {
				t.Fatalf("Unmarshal() error: %v", err)
			}
			if out.Duration.Int() != tt.want {
				t.Errorf("Duration = %d, want %d", out.Duration.Int(), tt.want)
			}
		})
	}
}

// hex32 pads a suffix to a 32-char hex tail for fake SIDs.
func hex32(suffix string) string {
	const zeros = "00000000000000000000000000000000"
	return zeros[:32-len(suffix)] + suffix
}

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"namesweep/internal/config"
	"namesweep/internal/domain"
	"namesweep/internal/server"
	"namesweep/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewMemory()
	h, err := server.New(server.Config{Store: st, Conf: config.Default(), BasePath: "/v0"})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, st
}

func seedRun(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	state, err := st.Load(ctx, "v1", []string{"a", "b"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, res := range []domain.QueryResult{
		{Query: "a", Names: []string{"ann", "al"}, FetchedAt: time.Now(), Attempts: 1},
		{Query: "b", Names: []string{"bob"}, FetchedAt: time.Now(), Attempts: 2},
	} {
		state.Complete(res)
		if err := st.RecordCompletion(ctx, "v1", res); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := st.Checkpoint(ctx, "v1", state); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := st.SetStatus(ctx, "v1", domain.RunStatusFinished); err != nil {
		t.Fatalf("status: %v", err)
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer res.Body.Close()
	if out != nil && res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return res.StatusCode
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	var body map[string]string
	if code := getJSON(t, ts.URL+"/v0/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestGetRun(t *testing.T) {
	ts, st := newTestServer(t)
	seedRun(t, st)

	var run domain.Run
	if code := getJSON(t, ts.URL+"/v0/runs/v1", &run); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if run.Version != "v1" || run.Completed != 2 || run.Status != domain.RunStatusFinished {
		t.Fatalf("run = %+v", run)
	}
}

func TestGetRunNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	if code := getJSON(t, ts.URL+"/v0/runs/v9", nil); code != http.StatusNotFound {
		t.Fatalf("status = %d", code)
	}
}

func TestListRuns(t *testing.T) {
	ts, st := newTestServer(t)
	seedRun(t, st)

	var body struct {
		Items []domain.Run `json:"items"`
	}
	if code := getJSON(t, ts.URL+"/v0/runs", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Items) != 1 || body.Items[0].Version != "v1" {
		t.Fatalf("items = %+v", body.Items)
	}
}

func TestGetNames(t *testing.T) {
	ts, st := newTestServer(t)
	seedRun(t, st)

	var body struct {
		Version    string              `json:"version"`
		Count      int                 `json:"count"`
		Names      []string            `json:"names"`
		Provenance map[string][]string `json:"provenance,omitempty"`
	}
	if code := getJSON(t, ts.URL+"/v0/runs/v1/names", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != 3 {
		t.Fatalf("count = %d", body.Count)
	}
	want := []string{"al", "ann", "bob"}
	for i, n := range want {
		if body.Names[i] != n {
			t.Fatalf("names = %v, want %v", body.Names, want)
		}
	}
	if body.Provenance != nil {
		t.Fatalf("provenance included without flag: %v", body.Provenance)
	}

	if code := getJSON(t, ts.URL+"/v0/runs/v1/names?provenance=true", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got := body.Provenance["ann"]; len(got) != 1 || got[0] != "a" {
		t.Fatalf("provenance[ann] = %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	res, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

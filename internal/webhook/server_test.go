package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Mobizinc/changegate/internal/collector"
	"github.com/Mobizinc/changegate/internal/pipeline"
	"github.com/Mobizinc/changegate/internal/queue"
	"github.com/Mobizinc/changegate/internal/servicenow"
	"github.com/Mobizinc/changegate/internal/storage/memory"
	"github.com/Mobizinc/changegate/internal/synthesis"
	"github.com/Mobizinc/changegate/internal/types"
)

type testFetcher struct{}

func (testFetcher) GetRecord(ctx context.Context, table, sysID string, fields []string) (servicenow.Record, error) {
	switch table {
	case "change_request":
		return servicenow.Record{"sys_id": sysID, "number": "CHG0007", "state": "assess"}, nil
	case "sc_cat_item":
		return servicenow.Record{
			"sys_id": sysID, "name": "VPN access", "category": "Network",
			"workflow": "wf1", "active": "true",
		}, nil
	}
	return nil, nil
}

func (testFetcher) QueryTable(ctx context.Context, table, query string, limit int, fields []string) ([]servicenow.Record, error) {
	if table == "sys_clone_history" {
		return []servicenow.Record{{
			"sys_id":              "clone-1",
			"state":               "completed",
			"last_completed_time": time.Now().UTC().Add(-24 * time.Hour).Format("2006-01-02 15:04:05"),
		}}, nil
	}
	return nil, nil
}

type recordingQueue struct {
	changeIDs []string
}

func (q *recordingQueue) Enqueue(ctx context.Context, changeID string) error {
	q.changeIDs = append(q.changeIDs, changeID)
	return nil
}

func newTestPipeline(store *memory.MemoryStore) *pipeline.Pipeline {
	return pipeline.New(pipeline.Config{
		Store: store,
		Collector: collector.New(collector.Config{
			Client:         testFetcher{},
			TargetInstance: "acmeuat",
			FetchTimeout:   200 * time.Millisecond,
			OverallTimeout: time.Second,
		}),
		Synthesizer: synthesis.New(synthesis.Config{}),
	})
}

func setupTestServer(t *testing.T, auth *Authenticator) (*Server, *memory.MemoryStore, *recordingQueue) {
	t.Helper()

	store := memory.New()
	q := &recordingQueue{}
	server := NewServer(ServerConfig{
		Pipeline:  newTestPipeline(store),
		Queue:     q,
		Auth:      auth,
		Enabled:   true,
		AsyncMode: true,
	})
	return server, store, q
}

func validBody() []byte {
	return []byte(`{
		"change_sys_id": "chg-1",
		"change_number": "CHG0007",
		"state": "assess",
		"component_type": "catalog_item",
		"component_sys_id": "cat-1"
	}`)
}

func postWebhook(server *Server, body []byte, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/validations/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func TestWebhookAccepted(t *testing.T) {
	server, store, q := setupTestServer(t, nil)

	w := postWebhook(server, validBody(), nil)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp webhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.Status != "received" {
		t.Errorf("expected status received, got %q", resp.Status)
	}
	if resp.ChangeSysID != "chg-1" || resp.ChangeNumber != "CHG0007" {
		t.Errorf("unexpected identifiers in response: %+v", resp)
	}
	if resp.RequestID == "" {
		t.Error("expected a request_id")
	}
	if resp.ProcessingMode != "async" {
		t.Errorf("expected processing_mode async, got %q", resp.ProcessingMode)
	}

	if len(q.changeIDs) != 1 || q.changeIDs[0] != "chg-1" {
		t.Errorf("expected one enqueue for chg-1, got %v", q.changeIDs)
	}
	if _, err := store.GetByChangeID(context.Background(), "chg-1"); err != nil {
		t.Errorf("request was not persisted: %v", err)
	}
}

func TestWebhookDuplicateStillAccepted(t *testing.T) {
	server, _, q := setupTestServer(t, nil)

	first := postWebhook(server, validBody(), nil)
	second := postWebhook(server, validBody(), nil)

	if first.Code != http.StatusAccepted || second.Code != http.StatusAccepted {
		t.Fatalf("expected 202/202, got %d/%d", first.Code, second.Code)
	}

	var a, b webhookResponse
	_ = json.Unmarshal(first.Body.Bytes(), &a)
	_ = json.Unmarshal(second.Body.Bytes(), &b)
	if a.RequestID != b.RequestID {
		t.Errorf("duplicate delivery created a second request: %q vs %q", a.RequestID, b.RequestID)
	}
	if len(q.changeIDs) != 2 {
		t.Errorf("expected both deliveries to enqueue (queue coalesces), got %v", q.changeIDs)
	}
}

func TestWebhookMalformedJSON(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	w := postWebhook(server, []byte(`{not json`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWebhookMissingField(t *testing.T) {
	server, _, q := setupTestServer(t, nil)

	w := postWebhook(server, []byte(`{"change_sys_id":"chg-1","change_number":"CHG0007","state":"assess"}`), nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	if len(q.changeIDs) != 0 {
		t.Errorf("invalid payload must not be enqueued, got %v", q.changeIDs)
	}
}

func TestWebhookDisabledFeature(t *testing.T) {
	store := memory.New()
	server := NewServer(ServerConfig{
		Pipeline: newTestPipeline(store),
		Queue:    &recordingQueue{},
		Enabled:  false,
	})

	w := postWebhook(server, validBody(), nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/validations/webhook", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestWebhookHMACAuth(t *testing.T) {
	secret := []byte("shhh")
	server, _, _ := setupTestServer(t, NewAuthenticator(secret, ""))
	body := validBody()

	// Unsigned request is rejected.
	w := postWebhook(server, body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned request, got %d", w.Code)
	}

	// Correctly signed request is accepted.
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	w = postWebhook(server, body, func(r *http.Request) {
		r.Header.Set(signatureHeader, sig)
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for signed request, got %d: %s", w.Code, w.Body.String())
	}

	// Tampered body fails verification.
	w = postWebhook(server, append(body, ' '), func(r *http.Request) {
		r.Header.Set(signatureHeader, sig)
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered body, got %d", w.Code)
	}
}

func TestWebhookStaticKeyAuth(t *testing.T) {
	server, _, _ := setupTestServer(t, NewAuthenticator(nil, "letmein"))

	w := postWebhook(server, validBody(), func(r *http.Request) {
		r.Header.Set(keyHeader, "letmein")
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with key header, got %d", w.Code)
	}

	w = postWebhook(server, validBody(), func(r *http.Request) {
		r.Header.Set(keyHeader, "wrong")
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", w.Code)
	}
}

func TestWorkerProcessesChange(t *testing.T) {
	server, store, _ := setupTestServer(t, nil)

	// Receive via the webhook first.
	if w := postWebhook(server, validBody(), nil); w.Code != http.StatusAccepted {
		t.Fatalf("webhook setup failed: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/validations/worker",
		bytes.NewReader([]byte(`{"change_id":"chg-1","change_number":"CHG0007"}`)))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp workerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.OverallStatus != types.VerdictPassed {
		t.Errorf("expected PASSED, got %q", resp.OverallStatus)
	}

	row, err := store.GetByChangeID(context.Background(), "chg-1")
	if err != nil {
		t.Fatalf("get stored row: %v", err)
	}
	if row.Status != types.StatusCompleted {
		t.Errorf("expected completed, got %s", row.Status)
	}
}

func TestWorkerUnknownChange(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/validations/worker",
		bytes.NewReader([]byte(`{"change_id":"nope"}`)))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestWorkerMissingChangeID(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/validations/worker",
		bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestInlineModeCompletesBeforeResponding(t *testing.T) {
	store := memory.New()
	p := newTestPipeline(store)
	server := NewServer(ServerConfig{
		Pipeline: p,
		Queue: &queue.Inline{Process: func(ctx context.Context, changeID string) error {
			_, err := p.Process(ctx, changeID)
			return err
		}},
		Enabled: true,
	})

	w := postWebhook(server, validBody(), nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp webhookResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ProcessingMode != "inline" {
		t.Errorf("expected processing_mode inline, got %q", resp.ProcessingMode)
	}
	if resp.Status != string(types.StatusCompleted) {
		t.Errorf("inline response should report the final state, got %q", resp.Status)
	}

	row, err := store.GetByChangeID(context.Background(), "chg-1")
	if err != nil {
		t.Fatalf("get stored row: %v", err)
	}
	if row.Status != types.StatusCompleted {
		t.Errorf("inline mode should complete before responding, got %s", row.Status)
	}
}

package api

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/romstack/romstack/pkg/broadcast"
	"github.com/romstack/romstack/pkg/catalog/store"
	"github.com/romstack/romstack/pkg/content"
	"github.com/romstack/romstack/pkg/upload"
)

type fakeProcessor struct{}

func (fakeProcessor) Enqueue(string) {}
func (fakeProcessor) Abort(string)   {}

func newTestServer(t *testing.T) (*httptest.Server, *broadcast.Broadcaster) {
	t.Helper()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "catalog.db")},
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	root := t.TempDir()
	cs, err := content.NewStore(filepath.Join(root, "tmp"), filepath.Join(root, "roms"), 0)
	if err != nil {
		t.Fatalf("content.NewStore: %v", err)
	}

	bus := broadcast.New(broadcast.DefaultQueueDepth)
	coord := upload.New(upload.Config{}, st, cs, bus, nil)
	coord.SetProcessor(fakeProcessor{})

	router := NewRouter(Config{}, Deps{
		Coordinator: coord,
		Store:       st,
		Bus:         bus,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, bus
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var envelope map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope
}

func initiateUpload(t *testing.T, server *httptest.Server) (string, []byte) {
	t.Helper()
	payload := make([]byte, 40)
	if _, err := rand.Read(payload); err != nil {
		t.Fatalf("rand: %v", err)
	}

	resp := postJSON(t, server.URL+"/upload/initiate", map[string]any{
		"file_name":     "game.nes",
		"declared_size": 40,
		"chunk_size":    16,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("initiate status = %d", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp)
	data := envelope["data"].(map[string]any)
	return data["id"].(string), payload
}

func sendChunk(t *testing.T, server *httptest.Server, uploadID string, index int, data []byte) *http.Response {
	t.Helper()
	url := fmt.Sprintf("%s/upload/chunk/%s/%d", server.URL, uploadID, index)
	resp, err := http.Post(url, "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST chunk: %v", err)
	}
	return resp
}

func TestUploadLifecycle(t *testing.T) {
	server, _ := newTestServer(t)
	uploadID, payload := initiateUpload(t, server)

	for i, part := range [][]byte{payload[:16], payload[16:32], payload[32:]} {
		resp := sendChunk(t, server, uploadID, i, part)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("chunk %d status = %d", i, resp.StatusCode)
		}
		envelope := decodeEnvelope(t, resp)
		data := envelope["data"].(map[string]any)
		if got := int(data["uploaded_chunks"].(float64)); got != i+1 {
			t.Errorf("uploaded_chunks = %d, want %d", got, i+1)
		}
	}

	resp, err := http.Get(server.URL + "/upload/status/" + uploadID)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status status = %d", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp)
	data := envelope["data"].(map[string]any)
	up := data["upload"].(map[string]any)
	if up["state"] != "PROCESSING" {
		t.Errorf("state = %v, want PROCESSING", up["state"])
	}
	bitmap := data["chunk_bitmap"].([]any)
	if len(bitmap) != 3 {
		t.Errorf("bitmap = %v", bitmap)
	}
}

func TestErrorMapping(t *testing.T) {
	server, _ := newTestServer(t)

	// Unsupported extension -> 400 with a stable kind.
	resp := postJSON(t, server.URL+"/upload/initiate", map[string]any{
		"file_name":     "notes.txt",
		"declared_size": 10,
		"chunk_size":    16,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unsupported format status = %d", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp)
	if envelope["error_kind"] != "UnsupportedFormat" {
		t.Errorf("error_kind = %v", envelope["error_kind"])
	}

	// Oversize -> 413.
	resp = postJSON(t, server.URL+"/upload/initiate", map[string]any{
		"file_name":     "huge.nes",
		"declared_size": 5 << 20,
		"chunk_size":    1 << 20,
	})
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversize status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown upload -> 404.
	resp = sendChunk(t, server, "no-such-upload", 0, bytes.Repeat([]byte{1}, 16))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown upload status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Cancel then cancel again stays 200; chunk after cancel conflicts.
	uploadID, payload := initiateUpload(t, server)
	req, err := http.NewRequest(http.MethodDelete, server.URL+"/upload/cancel/"+uploadID, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE cancel: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("cancel status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = sendChunk(t, server, uploadID, 0, payload[:16])
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("post-cancel chunk status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCatalogEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/catalog/")
	if err != nil {
		t.Fatalf("GET catalog: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("catalog status = %d", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp)
	data := envelope["data"].(map[string]any)
	if int(data["total"].(float64)) != 0 {
		t.Errorf("total = %v, want 0", data["total"])
	}

	resp, err = http.Get(server.URL + "/catalog/platforms")
	if err != nil {
		t.Fatalf("GET platforms: %v", err)
	}
	envelope = decodeEnvelope(t, resp)
	platforms := envelope["data"].([]any)
	if len(platforms) < 5 {
		t.Errorf("platforms = %d entries", len(platforms))
	}

	resp, err = http.Get(server.URL + "/catalog/does-not-exist")
	if err != nil {
		t.Fatalf("GET entry: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing entry status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/health/")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSSEStreamDeliversEvents(t *testing.T) {
	server, bus := newTestServer(t)
	uploadID, payload := initiateUpload(t, server)

	resp, err := http.Get(server.URL + "/upload/events/" + uploadID)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %s", ct)
	}

	// Drive the upload while the stream is open.
	go func() {
		for i, part := range [][]byte{payload[:16], payload[16:32], payload[32:]} {
			sendChunk(t, server, uploadID, i, part).Body.Close()
		}
		// The fake processor never finishes, so emit the terminal event by
		// hand to close the stream.
		bus.Publish(uploadID, broadcast.Event{
			Type:     broadcast.EventCompleted,
			State:    "COMPLETED",
			Progress: 1,
		})
	}()

	scanner := bufio.NewScanner(resp.Body)
	var types []string
	deadline := time.AfterFunc(5*time.Second, func() { resp.Body.Close() })
	defer deadline.Stop()
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}

	if len(types) == 0 {
		t.Fatal("no SSE events received")
	}
	if types[len(types)-1] != "completed" {
		t.Errorf("event types = %v, want trailing completed", types)
	}
}

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func capture(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	InitWithWriter(&buf, level, format, false)
	t.Cleanup(func() {
		InitWithWriter(&buf, "INFO", "text", false)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, "WARN", "text")

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("below-threshold messages leaked: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("expected warn and error in output: %q", out)
	}
}

func TestStructuredFieldsTextFormat(t *testing.T) {
	buf := capture(t, "INFO", "text")

	Info("Upload initiated", KeyUploadID, "abc-123", KeySize, int64(42))

	out := buf.String()
	if !strings.Contains(out, "upload_id=abc-123") {
		t.Errorf("missing upload_id field: %q", out)
	}
	if !strings.Contains(out, "size=42") {
		t.Errorf("missing size field: %q", out)
	}
}

func TestTextFormatQuotesSpacedValues(t *testing.T) {
	buf := capture(t, "INFO", "text")

	Info("Entry created", KeyTitle, "Super Mario Bros")

	if !strings.Contains(buf.String(), `title="Super Mario Bros"`) {
		t.Errorf("spaced value not quoted: %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, "INFO", "json")

	Info("Chunk received", KeyUploadID, "u1", KeyChunkIndex, 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "Chunk received" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["upload_id"] != "u1" {
		t.Errorf("upload_id = %v", rec["upload_id"])
	}
	if rec["chunk_index"] != float64(3) {
		t.Errorf("chunk_index = %v", rec["chunk_index"])
	}
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	buf := capture(t, "INFO", "text")

	SetLevel("not-a-level")
	Info("still works")

	if !strings.Contains(buf.String(), "still works") {
		t.Error("invalid SetLevel broke logging")
	}
}

func TestContextFieldInjection(t *testing.T) {
	buf := capture(t, "INFO", "text")

	lc := NewLogContext("10.0.0.7").WithRequestID("req-9").WithUploadID("up-1")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "Handled request")

	out := buf.String()
	for _, want := range []string{"request_id=req-9", "client_ip=10.0.0.7", "upload_id=up-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestContextHelpersNilSafe(t *testing.T) {
	var lc *LogContext
	if lc.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
	if lc.DurationMs() != 0 {
		t.Error("DurationMs of nil should be 0")
	}
	if FromContext(context.Background()) != nil {
		t.Error("FromContext without value should be nil")
	}
}

func TestErrAttrNilError(t *testing.T) {
	if !Err(nil).Equal(slog.Attr{}) {
		t.Error("Err(nil) should produce the zero attr")
	}
}

package responseformat

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

type sample struct {
	DeviceID string  `json:"device_id"`
	DeltaZ   float64 `json:"delta_z"`
}

func TestWriteResponseFormats(t *testing.T) {
	f := NewFormatter()
	want := sample{DeviceID: "SB-001", DeltaZ: 0.042}

	t.Run("json", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
		if err := f.WriteResponse(rr, req, http.StatusCreated, want); err != nil {
			t.Fatal(err)
		}
		if rr.Code != http.StatusCreated || rr.Header().Get("Content-Type") != ContentTypeJSON {
			t.Fatalf("code %d, content type %q", rr.Code, rr.Header().Get("Content-Type"))
		}
		var got sample
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("msgpack", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/devices?format=msgpack", nil)
		if err := f.WriteResponse(rr, req, http.StatusOK, want); err != nil {
			t.Fatal(err)
		}
		if rr.Header().Get("Content-Type") != ContentTypeMsgPack {
			t.Fatalf("content type %q", rr.Header().Get("Content-Type"))
		}
		var got map[string]any
		if err := msgpack.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got["device_id"] != "SB-001" {
			t.Errorf("json tag names not used: %v", got)
		}
	})
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/data", nil)
	NewFormatter().WriteError(rr, req, http.StatusServiceUnavailable, "storage unavailable", errors.New("connection refused"))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rr.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "storage unavailable" || body.Details != "connection refused" || body.Status != 503 {
		t.Errorf("body = %+v", body)
	}
}

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/blang/semver"
	"github.com/gin-gonic/gin"

	"github.com/Macmod/go-nbfx/dictionary"
)

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(Config{Version: semver.MustParse("1.2.3")})
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := do(testRouter(), http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	var body struct {
		OK      bool   `json:"ok"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.OK || body.Version != "1.2.3" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestDecodeEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		ok     bool
		kind   string
		text   string
	}{
		{
			name:   "plain",
			body:   `{"payload":"QAFhQAFimQJoaQE=","compression":"none"}`,
			status: http.StatusOK, ok: true, kind: "xml", text: "<a><b>hi</b></a>",
		},
		{
			name:   "default compression",
			body:   `{"payload":"QAFhQAFimQJoaQE=","prettyPrint":true}`,
			status: http.StatusOK, ok: true, kind: "xml", text: "<a>\n  <b>hi</b>\n</a>",
		},
		{
			name:   "custom rows",
			body:   `{"payload":"QgIB","rows":[{"key":"1","value":"Order"},{"key":"?","value":"skip"}]}`,
			status: http.StatusOK, ok: true, kind: "xml", text: "<Order></Order>",
		},
		{
			name:   "built-in dictionary",
			body:   `{"payload":"QgIB","useBuiltInDictionary":true}`,
			status: http.StatusOK, ok: true, kind: "xml", text: "<Envelope></Envelope>",
		},
		{
			name:   "bad base64",
			body:   `{"payload":"not-base64!!"}`,
			status: http.StatusOK, ok: false, kind: "error",
		},
		{
			name:   "bad compression mode",
			body:   `{"payload":"QAFhQAFimQJoaQE=","compression":"zip"}`,
			status: http.StatusBadRequest, ok: false, kind: "error",
		},
		{
			name:   "bad json",
			body:   `{`,
			status: http.StatusBadRequest, ok: false, kind: "error",
		},
	}

	r := testRouter()
	for _, tc := range tests {
		w := do(r, http.MethodPost, "/api/decode", tc.body)
		if w.Code != tc.status {
			t.Fatalf("%s: unexpected status %d: %s", tc.name, w.Code, w.Body.String())
		}
		var body struct {
			OK   bool   `json:"ok"`
			Kind string `json:"kind"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if body.OK != tc.ok || body.Kind != tc.kind {
			t.Fatalf("%s: unexpected body %s", tc.name, w.Body.String())
		}
		if tc.text != "" && body.Text != tc.text {
			t.Fatalf("%s: unexpected text %q", tc.name, body.Text)
		}
		if !tc.ok && body.Text == "" {
			t.Fatalf("%s: error without message", tc.name)
		}
	}
}

func TestDecodeEndpointEnvelope(t *testing.T) {
	body := `{"payload":"VgILAWEGCwFzBFYIRAoeAIKYBmFjdGlvbgEBVg5ACUludmVudG9yeYABAQE=","useBuiltInDictionary":true}`
	w := do(testRouter(), http.MethodPost, "/api/decode", body)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	var resp struct {
		OK       bool `json:"ok"`
		Envelope *struct {
			Action string `json:"action"`
			Body   string `json:"body"`
		} `json:"envelope"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK || resp.Envelope == nil || resp.Envelope.Action != "action" || resp.Envelope.Body != "Inventory" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	w = do(testRouter(), http.MethodPost, "/api/decode", `{"payload":"QAFhQAFimQJoaQE="}`)
	if strings.Contains(w.Body.String(), `"envelope"`) {
		t.Fatalf("plain XML must not carry an envelope summary: %s", w.Body.String())
	}
}

func TestWellKnownEndpoint(t *testing.T) {
	w := do(testRouter(), http.MethodGet, "/api/dictionary/wellknown", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	rows, err := dictionary.Import(w.Body)
	if err != nil {
		t.Fatalf("export is not importable: %v", err)
	}
	if len(rows) != dictionary.WellKnown.Len() || rows[0].Value != "mustUnderstand" {
		t.Fatalf("unexpected export: %d rows", len(rows))
	}
}

func TestImportEndpoint(t *testing.T) {
	r := testRouter()
	w := do(r, http.MethodPost, "/api/dictionary/import", `[{"Item1":3,"Item2":"x"},{"Item1":"bad","Item2":"y"},[7,"z"]]`)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		OK   bool             `json:"ok"`
		Rows []dictionary.Row `json:"rows"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	want := []dictionary.Row{{Key: "3", Value: "x"}, {Key: "7", Value: "z"}}
	if !body.OK || len(body.Rows) != len(want) || body.Rows[0] != want[0] || body.Rows[1] != want[1] {
		t.Fatalf("unexpected rows %+v", body.Rows)
	}

	w = do(r, http.MethodPost, "/api/dictionary/import", `{"not":"an array"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

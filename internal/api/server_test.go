package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/mae/internal/store"
	"github.com/pbaille/mae/internal/task"
)

const neTask = `
name: NE
tags:
  - name: PERSON
    attributes:
      - name: role
        values: [leader, member]
        default: member
        required: true
  - name: REL
    link: true
    arguments:
      - name: from
        required: true
      - name: to
        required: true
`

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.New("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tk, err := task.Parse(strings.NewReader(neTask))
	require.NoError(t, err)
	require.NoError(t, tk.Apply(s))
	require.NoError(t, s.SetPrimaryText("Alice met Bob in Zürich."))
	s.MarkSaved()
	return New(s, ":0"), s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Handler(), "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGetTask(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Handler(), "GET", "/task", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "NE", body["task_name"])
	assert.Equal(t, "Alice met Bob in Zürich.", body["primary_text"])
	assert.Len(t, body["tag_types"], 2)
}

func TestAnnotateOverHTTP(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, "POST", "/tags/extent", `{"type":"PERSON","spans":"0~5","attributes":{"role":"leader"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "0~5", body["spans"])
	tag := body["tag"].(map[string]interface{})
	assert.Equal(t, "P0", tag["id"])
	assert.Equal(t, "Alice", tag["text"])
	assert.Nil(t, body["underspec"])

	rec = do(t, h, "POST", "/tags/extent", `{"type":"PERSON","spans":"10~13"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, "POST", "/tags/link", `{"type":"REL","arguments":{"from":"P0"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []interface{}{"to"}, decode(t, rec)["underspec"])

	rec = do(t, h, "GET", "/underspec", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"R0": []interface{}{"to"}}, decode(t, rec)["underspecified"])

	rec = do(t, h, "PUT", "/tags/R0/arguments/to", `{"value":"P1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, decode(t, rec)["underspec"])

	rec = do(t, h, "GET", "/tags?at=11", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tags := decode(t, rec)["tags"].([]interface{})
	require.Len(t, tags, 1)
	assert.Equal(t, "P1", tags[0].(map[string]interface{})["id"])

	rec = do(t, h, "GET", "/tags?begin=0&end=24&within=true&type=PERSON", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["tags"], 2)

	rec = do(t, h, "GET", "/tags", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["tags"], 3)

	rec = do(t, h, "PUT", "/tags/P1/spans", `{"value":"17~23"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Zürich", decode(t, rec)["tag"].(map[string]interface{})["text"])

	rec = do(t, h, "GET", "/status", "")
	assert.Equal(t, true, decode(t, rec)["changed"])

	rec = do(t, h, "GET", "/document", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, rec.Body.String(), `<PERSON id="P0" spans="0~5" text="Alice" role="leader" />`)
	assert.True(t, s.Changed())

	// deleting an argument target empties the slot
	rec = do(t, h, "DELETE", "/tags/P1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, "GET", "/tags/R0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"to"}, decode(t, rec)["underspec"])
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	require.Equal(t, http.StatusCreated, do(t, h, "POST", "/tags/extent", `{"type":"PERSON","spans":"0~5"}`).Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown tag", "GET", "/tags/P9", "", http.StatusNotFound},
		{"unknown type", "POST", "/tags/extent", `{"type":"PLACE","spans":"0~5"}`, http.StatusNotFound},
		{"missing type", "POST", "/tags/extent", `{"spans":"0~5"}`, http.StatusBadRequest},
		{"bad body", "POST", "/tags/link", `{`, http.StatusBadRequest},
		{"bad spans", "POST", "/tags/extent", `{"type":"PERSON","spans":"x"}`, http.StatusBadRequest},
		{"spans past text", "POST", "/tags/extent", `{"type":"PERSON","spans":"20~40"}`, http.StatusBadRequest},
		{"duplicate id", "POST", "/tags/extent", `{"id":"P0","type":"PERSON","spans":"6~9"}`, http.StatusConflict},
		{"value outside set", "PUT", "/tags/P0/attributes/role", `{"value":"boss"}`, http.StatusBadRequest},
		{"bad location", "GET", "/tags?at=x", "", http.StatusBadRequest},
		{"unknown target", "POST", "/tags/link", `{"type":"REL","arguments":{"from":"P7"}}`, http.StatusNotFound},
		{"argument on extent tag", "PUT", "/tags/P0/arguments/from", `{"value":"P0"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Handler(), "OPTIONS", "/tags", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetDocumentFailureIsJSON(t *testing.T) {
	s, err := store.New("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rec := do(t, New(s, ":0").Handler(), "GET", "/document", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.NotEmpty(t, decode(t, rec)["error"])
}

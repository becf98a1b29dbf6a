// Package api exposes one annotation store over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/domain"
	"github.com/pbaille/mae/internal/logging"
	"github.com/pbaille/mae/internal/span"
	"github.com/pbaille/mae/internal/store"
)

// Server handles HTTP requests for one annotation document
type Server struct {
	mu    sync.Mutex
	store *store.Store
	addr  string
}

// New creates a new API server
func New(s *store.Store, addr string) *Server {
	return &Server{store: s, addr: addr}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	logging.Info("starting server", "addr", s.addr, "session", s.store.SessionID())
	return http.ListenAndServe(s.addr, s.Handler())
}

// Handler returns the routes wrapped with CORS and request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Task
	mux.HandleFunc("GET /task", s.locked(s.getTask))
	mux.HandleFunc("GET /status", s.locked(s.status))
	mux.HandleFunc("GET /document", s.locked(s.getDocument))

	// Tags
	mux.HandleFunc("GET /tags", s.locked(s.listTags))
	mux.HandleFunc("POST /tags/extent", s.locked(s.addExtentTag))
	mux.HandleFunc("POST /tags/link", s.locked(s.addLinkTag))
	mux.HandleFunc("GET /tags/{id}", s.locked(s.getTag))
	mux.HandleFunc("DELETE /tags/{id}", s.locked(s.deleteTag))
	mux.HandleFunc("PUT /tags/{id}/attributes/{name}", s.locked(s.setAttribute))
	mux.HandleFunc("PUT /tags/{id}/arguments/{name}", s.locked(s.setArgument))
	mux.HandleFunc("PUT /tags/{id}/spans", s.locked(s.setSpans))
	mux.HandleFunc("GET /underspec", s.locked(s.underspec))

	// Health check
	mux.HandleFunc("GET /health", s.health)

	return logging.CombinedMiddleware(withCORS(mux))
}

// locked serializes handlers over the single store
func (s *Server) locked(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		h(w, r)
	}
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"session": s.store.SessionID(),
		"driver":  store.Driver(),
	})
}

// TaskResponse describes the task and the text being annotated
type TaskResponse struct {
	TaskName    string            `json:"task_name"`
	PrimaryText string            `json:"primary_text"`
	TagTypes    []*domain.TagType `json:"tag_types"`
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.Schema()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	text, err := s.store.PrimaryText()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TaskResponse{TaskName: sc.TaskName, PrimaryText: text, TagTypes: sc.TagTypes})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	file, err := s.store.AnnotationFileName()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"changed": s.store.Changed(),
		"file":    file,
	})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.store.Export(&buf); err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// listTags answers ?at=N, ?begin=B&end=E (add &within=true to require the
// whole tag inside), optionally narrowed by ?type=T. Without a location it
// lists every tag.
func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tagType := q.Get("type")

	var tags interface{}
	var err error
	switch {
	case q.Has("at"):
		at, perr := strconv.Atoi(q.Get("at"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "query parameter 'at' must be an integer")
			return
		}
		if tagType != "" {
			tags, err = s.store.TagsOfTypeAt(tagType, at)
		} else {
			tags, err = s.store.TagsAt(at)
		}
	case q.Has("begin") || q.Has("end"):
		begin, berr := strconv.Atoi(q.Get("begin"))
		end, eerr := strconv.Atoi(q.Get("end"))
		if berr != nil || eerr != nil {
			writeError(w, http.StatusBadRequest, "query parameters 'begin' and 'end' must be integers")
			return
		}
		within := q.Get("within") == "true"
		switch {
		case within && tagType != "":
			tags, err = s.store.TagsOfTypeBetween(tagType, begin, end)
		case within:
			tags, err = s.store.TagsBetween(begin, end)
		case tagType != "":
			tags, err = s.store.TagsOfTypeIn(tagType, begin, end)
		default:
			tags, err = s.store.TagsIn(begin, end)
		}
	case tagType != "":
		tags, err = s.store.AllTagsOfType(tagType)
	default:
		tags, err = s.store.AllTags()
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tags": tags,
	})
}

// TagResponse is a tag with the required slots it leaves empty
type TagResponse struct {
	Tag       domain.Tag `json:"tag"`
	Spans     string     `json:"spans,omitempty"`
	Underspec []string   `json:"underspec,omitempty"`
}

func tagResponse(t domain.Tag) TagResponse {
	resp := TagResponse{Tag: t, Underspec: domain.Underspec(t)}
	if et, ok := t.(*domain.ExtentTag); ok {
		resp.Spans = span.Format(et.Spans)
	}
	return resp
}

func (s *Server) getTag(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.TagByID(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tagResponse(t))
}

// AddExtentTagRequest is the request body for creating an extent tag.
// Spans use the span notation, e.g. "0~5,10~12".
type AddExtentTagRequest struct {
	ID         string            `json:"id,omitempty"`
	Type       string            `json:"type"`
	Spans      string            `json:"spans"`
	Text       string            `json:"text,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (s *Server) addExtentTag(w http.ResponseWriter, r *http.Request) {
	var req AddExtentTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	spans, err := span.Parse(req.Spans)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var tag *domain.ExtentTag
	if req.ID != "" {
		tag, err = s.store.CreateExtentTagWithID(req.ID, req.Type, req.Text, spans...)
	} else {
		tag, err = s.store.CreateExtentTag(req.Type, req.Text, spans...)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.created(w, tag.ID, req.Attributes)
}

// AddLinkTagRequest is the request body for creating a link tag. Arguments
// map slot names to target tag ids.
type AddLinkTagRequest struct {
	ID         string            `json:"id,omitempty"`
	Type       string            `json:"type"`
	Arguments  map[string]string `json:"arguments,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (s *Server) addLinkTag(w http.ResponseWriter, r *http.Request) {
	var req AddLinkTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	var tag *domain.LinkTag
	var err error
	if req.ID != "" {
		tag, err = s.store.CreateLinkTagWithID(req.ID, req.Type, req.Arguments)
	} else {
		tag, err = s.store.CreateLinkTag(req.Type, req.Arguments)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.created(w, tag.ID, req.Attributes)
}

// created sets the requested attributes of a new tag and answers with the
// stored tag. A rejected attribute removes the tag again.
func (s *Server) created(w http.ResponseWriter, tid string, attributes map[string]string) {
	for name, value := range attributes {
		if err := s.store.UpdateAttribute(tid, name, value); err != nil {
			if derr := s.store.DeleteTag(tid); derr != nil {
				logging.Error("failed to remove rejected tag", "id", tid, "error", derr)
			}
			writeStoreError(w, err)
			return
		}
	}
	t, err := s.store.TagByID(tid)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tagResponse(t))
}

func (s *Server) deleteTag(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTag(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValueRequest is the request body for setting an attribute, an argument
// target or spans. An empty value clears the slot.
type ValueRequest struct {
	Value string `json:"value"`
}

func decodeValue(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	return req.Value, true
}

func (s *Server) setAttribute(w http.ResponseWriter, r *http.Request) {
	value, ok := decodeValue(w, r)
	if !ok {
		return
	}
	s.updated(w, r.PathValue("id"), s.store.UpdateAttribute(r.PathValue("id"), r.PathValue("name"), value))
}

func (s *Server) setArgument(w http.ResponseWriter, r *http.Request) {
	value, ok := decodeValue(w, r)
	if !ok {
		return
	}
	s.updated(w, r.PathValue("id"), s.store.UpdateArgument(r.PathValue("id"), r.PathValue("name"), value))
}

func (s *Server) setSpans(w http.ResponseWriter, r *http.Request) {
	value, ok := decodeValue(w, r)
	if !ok {
		return
	}
	spans, err := span.Parse(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.updated(w, r.PathValue("id"), s.store.UpdateTagSpans(r.PathValue("id"), spans))
}

func (s *Server) updated(w http.ResponseWriter, tid string, err error) {
	if err != nil {
		writeStoreError(w, err)
		return
	}
	t, err := s.store.TagByID(tid)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tagResponse(t))
}

func (s *Server) underspec(w http.ResponseWriter, r *http.Request) {
	missing, err := s.store.AllUnderspecified()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"underspecified": missing,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps the error taxonomy onto status codes
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case apperr.IsDuplicate(err):
		writeError(w, http.StatusConflict, err.Error())
	case apperr.IsInvalid(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

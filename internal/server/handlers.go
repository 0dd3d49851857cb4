package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coderoom/coderoom/internal/session"
	"github.com/coderoom/coderoom/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Session handlers ---

type createSessionRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type sessionResponse struct {
	Session  *session.Session  `json:"session"`
	Document *session.Document `json:"document"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.languages.Resolve(req.Language); !ok {
		writeError(w, http.StatusBadRequest, "unsupported language: "+req.Language)
		return
	}

	sess, doc, err := s.sessions.Create(req.Language, req.Code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{Session: sess, Document: doc})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, ok := s.sessions.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	doc, _ := s.sessions.Document(sess.DocumentID)

	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Document: doc})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Ending a session stops whatever it is running.
	s.supervisor.Stop(id)
	ended := s.sessions.End(id)

	writeJSON(w, http.StatusOK, map[string]bool{"ended": ended})
}

// --- Language handlers ---

type languageInfo struct {
	ID        string `json:"id"`
	Extension string `json:"extension"`
	Image     string `json:"image"`
}

func (s *Server) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	var out []languageInfo
	for _, id := range s.languages.IDs() {
		spec, _ := s.languages.Resolve(id)
		out = append(out, languageInfo{ID: spec.ID, Extension: spec.Extension, Image: spec.Image})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Execution history ---

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []storage.ExecutionRecord{})
		return
	}

	opts := storage.ListOptions{SessionID: chi.URLParam(r, "id")}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}

	records, err := s.store.ListExecutions(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []storage.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

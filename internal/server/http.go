package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/soham407/sqlquest/internal/lesson"
)

const (
	sessionName = "sqlquest"
	sessionKey  = "sid"
	maxBody     = 1 << 20
)

type sessionCtxKey struct{}

type sqlRequest struct {
	SQL string `json:"sql"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.logRequests,
		middleware.Recoverer,
	)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.withSession)
		r.Post("/query", s.handleQuery)
		r.Get("/schema", s.handleSchema)
		r.Post("/reset", s.handleReset)
		r.Get("/lessons", s.handleLessons)
		r.Get("/lessons/{id}", s.handleLesson)
		r.Post("/lessons/{id}/check", s.handleCheck)
	})
	return r
}

// withSession attaches the browser's session id, issuing a cookie for new
// browsers.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Get(r, sessionName)
		if err != nil {
			// A cookie signed with another secret; start over.
			s.logger.Debug("discarding session cookie", "error", err)
		}
		id, _ := sess.Values[sessionKey].(string)
		if !ValidSessionID(id) {
			id = NewSessionID()
			sess.Values[sessionKey] = id
			if err := sess.Save(r, w); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionCtxKey{}, id)))
	})
}

func sessionID(r *http.Request) string {
	id, _ := r.Context().Value(sessionCtxKey{}).(string)
	return id
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"sessions": s.registry.Len(),
		"lessons":  s.lessonCount(),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if !decode(w, r, &req) {
		return
	}
	res := s.registry.Get(sessionID(r)).Execute(r.Context(), req.SQL)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.registry.Get(sessionID(r)).Schema(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Get(sessionID(r)).Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	lessons, err := s.lessons.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if lessons == nil {
		lessons = []lesson.Lesson{}
	}
	writeJSON(w, http.StatusOK, lessons)
}

func (s *Server) handleLesson(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lookupLesson(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lookupLesson(w, r)
	if !ok {
		return
	}
	var req sqlRequest
	if !decode(w, r, &req) {
		return
	}
	v := s.grader.Check(r.Context(), s.registry.Get(sessionID(r)), l, req.SQL)
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) lookupLesson(w http.ResponseWriter, r *http.Request) (lesson.Lesson, bool) {
	l, err := s.lessons.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, lesson.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return l, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return l, false
	}
	return l, true
}

func (s *Server) lessonCount() int {
	lessons, err := s.lessons.List(context.Background())
	if err != nil {
		return 0
	}
	return len(lessons)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

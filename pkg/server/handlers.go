package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/search/query"
	"github.com/otherjamesbrown/council-search/pkg/store"
)

// maxProviderConfig caps the add_provider request body.
const maxProviderConfig = 1 << 20

type message struct {
	Message string `json:"message"`
}

// GET /meetings/search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearch(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.deps.Search.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseSearch(r *http.Request) (query.Request, error) {
	q := r.URL.Query()

	sort, err := query.ParseSortOrder(q.Get("sort_by"))
	if err != nil {
		return query.Request{}, err
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		return query.Request{}, err
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		return query.Request{}, err
	}

	return query.Request{
		Query:       q.Get("query"),
		Authorities: q["authority"],
		StartDate:   q.Get("startdate"),
		EndDate:     q.Get("enddate"),
		Sort:        sort,
		Limit:       limit,
		Offset:      offset,
	}, nil
}

func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, cserrors.ErrValidation)
	}
	return n, nil
}

// GET /meetings/transcript_counts_by_authority
func (s *Server) handleTranscriptCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Search.TranscriptCounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// GET /meetings/authorities
func (s *Server) handleAuthorities(w http.ResponseWriter, r *http.Request) {
	authorities, err := s.deps.Search.Authorities(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if authorities == nil {
		authorities = []store.Authority{}
	}
	writeJSON(w, http.StatusOK, authorities)
}

// POST /meetings/add_authority?authority=&provider=&nice_name=
func (s *Server) handleAddAuthority(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a := store.Authority{
		ID:       q.Get("authority"),
		Provider: q.Get("provider"),
		NiceName: q.Get("nice_name"),
	}
	if a.ID == "" || a.Provider == "" {
		s.writeError(w, r, fmt.Errorf("authority and provider are required: %w", cserrors.ErrValidation))
		return
	}

	if err := s.deps.Catalog.AddAuthority(r.Context(), a); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{"Authority added successfully"})
}

// POST /meetings/add_provider?provider= with an optional JSON config body.
func (s *Server) handleAddProvider(w http.ResponseWriter, r *http.Request) {
	p := store.Provider{ID: r.URL.Query().Get("provider")}
	if p.ID == "" {
		s.writeError(w, r, fmt.Errorf("provider is required: %w", cserrors.ErrValidation))
		return
	}

	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, maxProviderConfig)).Decode(&p.Config)
		if err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, r, fmt.Errorf("invalid provider config: %v: %w", err, cserrors.ErrValidation))
			return
		}
	}

	if err := s.deps.Catalog.AddProvider(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{"Provider added successfully"})
}

// POST /meetings/load?update=all|new|missing
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("update")
	if mode == "" {
		mode = "all"
	}
	if err := s.deps.Loader.Trigger(mode); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, message{"Job submitted."})
}

// GET /meetings/load/status
func (s *Server) handleLoadStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Loader.Status())
}

// GET /meetings/download_transcript/{uid}
func (s *Server) handleDownloadTranscript(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	text, err := s.deps.Search.Transcript(r.Context(), uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", uid+".txt"))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, text)
}

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

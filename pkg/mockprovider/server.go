package mockprovider

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
	Token  string
	Target string
}

// Behavior scripts how requests carrying one bearer token are answered.
type Behavior struct {
	// Status forces an error response (e.g. 402, 429). Zero serves normally.
	Status     int
	ErrorCode  string
	RetryAfter int
	// Message overrides the error envelope message.
	Message string

	// Times limits Status to the first N requests. Zero means always.
	Times int

	// Credits is reported via X-Credits-Remaining on successful responses.
	Credits *float64
}

// Profile scripts the job lifecycle for one target.
type Profile struct {
	// Polls is how many status requests report "processing" before the
	// terminal state.
	Polls int

	// Status is the terminal job status; empty means "complete".
	Status       string
	Reason       string
	AccountLevel bool
	Result       map[string]any

	// NotFound makes create-job answer 404.
	NotFound bool
}

type job struct {
	id      string
	target  string
	polls   int
	profile Profile
}

// Server implements a minimal provider-like reveal and search API.
type Server struct {
	mu sync.Mutex

	calls     []Call
	behaviors map[string]*behaviorState
	profiles  map[string]Profile
	fallback  Profile
	allowed   map[string]struct{}
	jobs      map[string]*job
	search    []map[string]any
}

type behaviorState struct {
	Behavior
	served int
}

// New constructs a mock server whose unknown targets complete immediately
// with a small contact payload.
func New() *Server {
	return &Server{
		behaviors: make(map[string]*behaviorState),
		profiles:  make(map[string]Profile),
		jobs:      make(map[string]*job),
		fallback: Profile{
			Result: map[string]any{
				"full_name": "Test Person",
				"emails":    []any{"test.person@example.com"},
			},
		},
	}
}

// RequireTokens rejects any bearer token not listed with 401. With no tokens,
// every token is accepted.
func (s *Server) RequireTokens(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = nil
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if s.allowed == nil {
			s.allowed = make(map[string]struct{})
		}
		s.allowed[t] = struct{}{}
	}
}

func (s *Server) SetBehavior(token string, b Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behaviors[token] = &behaviorState{Behavior: b}
}

func (s *Server) SetProfile(target string, p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[normalizeTarget(target)] = p
}

func (s *Server) SetDefaultProfile(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = p
}

func (s *Server) SetSearchResults(profiles []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = profiles
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/create-job", s.handleCreateJob)
	r.Get("/job/{id}", s.handleGetJob)
	r.Post("/search", s.handleSearch)
	return r
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsFor counts calls made with token, optionally filtered by path prefix.
func (s *Server) CallsFor(token, pathPrefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Token == token && strings.HasPrefix(c.Path, pathPrefix) {
			n++
		}
	}
	return n
}

// admit records the call and applies the token's scripted behavior. It
// returns false when a response has already been written.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, target string) (*float64, bool) {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Token: token, Target: target})
	if s.allowed != nil {
		if _, ok := s.allowed[token]; !ok {
			s.mu.Unlock()
			writeError(w, http.StatusUnauthorized, "invalid_api_key", "unknown api key")
			return nil, false
		}
	}
	var (
		status     int
		code       string
		msg        string
		retryAfter int
		credits    *float64
	)
	if b, ok := s.behaviors[token]; ok {
		credits = b.Credits
		if b.Status != 0 && (b.Times == 0 || b.served < b.Times) {
			status, code, msg, retryAfter = b.Status, b.ErrorCode, b.Message, b.RetryAfter
		}
		b.served++
	}
	s.mu.Unlock()

	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing_api_key", "missing bearer token")
		return nil, false
	}
	if status != 0 {
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		writeError(w, status, code, msg)
		return nil, false
	}
	return credits, true
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be JSON")
		return
	}
	credits, ok := s.admit(w, r, req.Target)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing_target", "target is required")
		return
	}

	s.mu.Lock()
	p, found := s.profiles[normalizeTarget(req.Target)]
	if !found {
		p = s.fallback
	}
	if p.NotFound {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "profile_not_found", "profile not found")
		return
	}
	j := &job{id: uuid.NewString(), target: req.Target, profile: p}
	s.jobs[j.id] = j
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, credits, map[string]any{"job_id": j.id})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	credits, ok := s.admit(w, r, "")
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	j, found := s.jobs[id]
	if !found {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "job_not_found", "job not found")
		return
	}
	j.polls++
	resp := map[string]any{"id": j.id}
	if j.polls <= j.profile.Polls {
		resp["status"] = "processing"
	} else {
		status := j.profile.Status
		if status == "" {
			status = "complete"
		}
		resp["status"] = status
		if j.profile.Reason != "" {
			resp["reason"] = j.profile.Reason
		}
		if j.profile.AccountLevel {
			resp["account_level"] = true
		}
		if j.profile.Result != nil {
			resp["result"] = j.profile.Result
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, credits, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filters map[string]any `json:"filters"`
		Size    int            `json:"size"`
		Page    int            `json:"page"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be JSON")
		return
	}
	credits, ok := s.admit(w, r, "")
	if !ok {
		return
	}
	if req.Size < 1 || req.Size > 30 {
		writeError(w, http.StatusUnprocessableEntity, "invalid_size", "size must be between 1 and 30")
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}

	s.mu.Lock()
	all := s.search
	s.mu.Unlock()

	start := (req.Page - 1) * req.Size
	page := []map[string]any{}
	if start < len(all) {
		end := start + req.Size
		if end > len(all) {
			end = len(all)
		}
		page = all[start:end]
	}
	writeJSON(w, http.StatusOK, credits, map[string]any{"total": len(all), "profiles": page})
}

func writeJSON(w http.ResponseWriter, status int, credits *float64, body any) {
	w.Header().Set("Content-Type", "application/json")
	if credits != nil {
		w.Header().Set("X-Credits-Remaining", strconv.FormatFloat(*credits, 'f', -1, 64))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	body := map[string]any{"error": map[string]string{"code": code, "message": msg}}
	writeJSON(w, status, nil, body)
}

func normalizeTarget(s string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), "/")
}

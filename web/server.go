package web

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jnesss/event-recorder/database"
	"github.com/jnesss/event-recorder/sigma"
)

const defaultLimit = 100

var indexPage = template.Must(template.New("index").Parse(indexTemplate))

type Server struct {
	db            *database.DB
	sigmaDetector *sigma.Detector
	listenAddr    string
}

// NewServer creates a server over db. sigmaDetector may be nil, in which
// case the rule routes are not registered.
func NewServer(db *database.DB, sigmaDetector *sigma.Detector, listenAddr string) *Server {
	return &Server{
		db:            db,
		sigmaDetector: sigmaDetector,
		listenAddr:    listenAddr,
	}
}

// Handler returns the router serving the API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/cpus", s.handleCPUs).Methods(http.MethodGet)
	api.HandleFunc("/overflows", s.handleOverflows).Methods(http.MethodGet)
	api.HandleFunc("/threads", s.handleThreads).Methods(http.MethodGet)

	if s.sigmaDetector != nil {
		api.HandleFunc("/sigma/rules", s.handleSigmaRules).Methods(http.MethodGet)
		api.HandleFunc("/sigma/rules/toggle/{id}", s.handleSigmaRuleToggle).Methods(http.MethodPost)
		api.HandleFunc("/sigma/rules/upload", s.handleSigmaRuleUpload).Methods(http.MethodPost)
		api.HandleFunc("/sigma/matches", s.handleSigmaMatchesList).Methods(http.MethodGet)
		api.HandleFunc("/sigma/matches/{id:[0-9]+}", s.handleSigmaMatchStatus).Methods(http.MethodPost)
		api.HandleFunc("/sigma/stats", s.handleSigmaStats).Methods(http.MethodGet)
	}
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("HTTP request")
	})
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithField("addr", s.listenAddr).Info("Starting web server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP server shutdown error")
		}
	}()

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return errors.Wrap(err, "web server failed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

func queryInt(r *http.Request, name string, def int64) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.CPUSummary()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if err := indexPage.Execute(w, stats); err != nil {
		log.WithError(err).Warn("Error executing template")
	}
}

// handleEvents lists stored events. Query parameters: cpu, event, after
// (event ID) and limit.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var q database.EventQuery
	if v := r.URL.Query().Get("cpu"); v != "" {
		cpu, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			http.Error(w, "Invalid cpu", http.StatusBadRequest)
			return
		}
		c := uint32(cpu)
		q.CPU = &c
	}
	q.Event = r.URL.Query().Get("event")
	after, err := queryInt(r, "after", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q.AfterID = after
	q.Limit = int(limit)

	events, err := s.db.Events(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*database.EventRecord{}
	}
	writeJSON(w, events)
}

func (s *Server) handleCPUs(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.CPUSummary()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []database.CPUStats{}
	}
	writeJSON(w, stats)
}

func (s *Server) handleOverflows(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	overflows, err := s.db.Overflows(int(limit))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if overflows == nil {
		overflows = []*database.OverflowRecord{}
	}
	writeJSON(w, overflows)
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.db.Threads()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if threads == nil {
		threads = []*database.ThreadRecord{}
	}
	writeJSON(w, threads)
}

func (s *Server) handleSigmaRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.sigmaDetector.ListRules()
	if err != nil {
		http.Error(w, "Error reading rules: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if rules == nil {
		rules = []sigma.RuleInfo{}
	}
	writeJSON(w, rules)
}

func (s *Server) handleSigmaRuleToggle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	log.WithField("rule", id).Info("Toggling rule")

	info, err := s.sigmaDetector.ToggleRule(id)
	if err == sigma.ErrRuleNotFound {
		http.Error(w, "Rule not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleSigmaRuleUpload(w http.ResponseWriter, r *http.Request) {
	var request uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.Content == "" || request.Filename == "" {
		http.Error(w, "Content and filename are required", http.StatusBadRequest)
		return
	}

	info, err := s.sigmaDetector.SaveRule(request.Filename, []byte(request.Content), request.Enabled)
	if err != nil {
		http.Error(w, "Invalid rule: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleSigmaMatchesList(w http.ResponseWriter, r *http.Request) {
	filters := map[string]string{
		"status":   r.URL.Query().Get("status"),
		"severity": r.URL.Query().Get("severity"),
		"rule":     r.URL.Query().Get("rule"),
	}
	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	matches, err := s.sigmaDetector.GetMatches(int(limit), int(offset), filters)
	if err != nil {
		http.Error(w, "Error fetching matches: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if matches == nil {
		matches = []sigma.Match{}
	}
	writeJSON(w, matches)
}

func (s *Server) handleSigmaMatchStatus(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid match ID", http.StatusBadRequest)
		return
	}
	var request statusRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.sigmaDetector.UpdateMatchStatus(matchID, request.Status); err != nil {
		http.Error(w, "Error updating match status: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, statusResponse{ID: matchID, Status: request.Status})
}

func (s *Server) handleSigmaStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sigmaDetector.GetMatchStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>Event Recorder</title>
    <meta charset="utf-8">
</head>
<body>
    <h1>Event Recorder</h1>
    <table>
        <tr><th>CPU</th><th>Events</th><th>First</th><th>Last</th><th>Lost</th></tr>
        {{range .}}<tr><td>{{.CPU}}</td><td>{{.Events}}</td><td>{{.First}}</td><td>{{.Last}}</td><td>{{.Lost}}</td></tr>
        {{end}}
    </table>
    <p>
        <a href="/api/events">events</a>
        <a href="/api/cpus">cpus</a>
        <a href="/api/overflows">overflows</a>
        <a href="/api/threads">threads</a>
    </p>
</body>
</html>`

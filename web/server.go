package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/syifan/goseth"

	"github.com/jnesss/ttrace/database"
	"github.com/jnesss/ttrace/heapinfo"
	"github.com/jnesss/ttrace/process"
	"github.com/jnesss/ttrace/sigma"
	"github.com/jnesss/ttrace/tags"
)

const defaultPacketLimit = 100

type Server struct {
	db            *database.DB
	sigmaDetector *sigma.Detector
	tasks         *process.TaskTable
	names         *process.NameCache
	reporter      *heapinfo.Reporter
	tagMask       tags.Mask
	listenAddr    string
	router        *mux.Router
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Detector *sigma.Detector
	Names    *process.NameCache
	Tags     tags.Mask
	Heap     heapinfo.Config
}

func NewServer(db *database.DB, tasks *process.TaskTable, listenAddr string, opts Options) *Server {
	s := &Server{
		db:            db,
		sigmaDetector: opts.Detector,
		tasks:         tasks,
		names:         opts.Names,
		reporter:      heapinfo.NewReporter(tasks, tasks, opts.Heap),
		tagMask:       opts.Tags,
		listenAddr:    listenAddr,
	}
	s.router = s.routes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/api/packets", s.handlePackets).Methods(http.MethodGet)
	r.HandleFunc("/api/tags", s.handleTags).Methods(http.MethodGet)
	r.HandleFunc("/api/heapinfo", s.handleHeapInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/heapinfo/clear", s.handleHeapClear).Methods(http.MethodPost)
	r.HandleFunc("/api/heapinfo/profile", s.handleHeapProfile).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks/{pid}", s.handleTask).Methods(http.MethodGet)

	// Add Sigma routes if detector is available
	if s.sigmaDetector != nil {
		r.HandleFunc("/api/sigma/matches", s.handleSigmaMatchesList).Methods(http.MethodGet)
		r.HandleFunc("/api/sigma/matches/{id}", s.handleSigmaMatchUpdate).Methods(http.MethodPost)
		r.HandleFunc("/api/sigma/stats", s.handleSigmaStats).Methods(http.MethodGet)
	}
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("HTTP request")
	})
}

// Start serves until ctx is done. ready, when non-nil, receives the bound
// address once the listener is up.
func (s *Server) Start(ctx context.Context, ready func(addr string)) error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", listener.Addr().String()).Msg("Starting web server")
	if ready != nil {
		ready(listener.Addr().String())
	}

	// Graceful shutdown goroutine
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>ttrace</title></head>
<body>
<h1>ttrace</h1>
<ul>
<li>Stored packets: {{.Packets}}</li>
<li>Tracked tasks: {{.Tasks}}</li>
<li>Active rules: {{.Rules}}</li>
<li>Enabled tags: {{.Tags}}</li>
</ul>
<p>
<a href="/api/packets">packets</a> |
<a href="/api/tags">tags</a> |
<a href="/api/heapinfo?mode=all">heap</a> |
<a href="/api/heapinfo?mode=free">free list</a> |
<a href="/api/sigma/matches">matches</a>
</p>
</body>
</html>
`))

// handleIndex serves the summary page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	count, err := s.db.CountPackets()
	if err != nil {
		http.Error(w, fmt.Sprintf("Database error: %v", err), http.StatusInternalServerError)
		return
	}

	data := summary{Packets: count, Tasks: s.tasks.Len(), Tags: s.tagMask.String()}
	if s.sigmaDetector != nil {
		data.Rules = s.sigmaDetector.RuleCount()
	}

	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if err := indexTemplate.Execute(w, data); err != nil {
		log.Error().Err(err).Msg("Error executing template")
	}
}

func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), defaultPacketLimit)
	if err != nil || limit <= 0 {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}

	filter := database.PacketFilter{
		Session:   q.Get("session"),
		EventType: q.Get("event"),
		Kind:      q.Get("kind"),
	}
	if pidStr := q.Get("pid"); pidStr != "" {
		pid, err := heapinfo.ParsePID(pidStr)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid PID: %v", err), http.StatusBadRequest)
			return
		}
		filter.PID = &pid
	}
	if after := q.Get("after"); after != "" {
		id, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid after: %v", err), http.StatusBadRequest)
			return
		}
		filter.AfterID = id
	}

	records, err := s.db.RecentPackets(limit, filter)
	if err != nil {
		http.Error(w, fmt.Sprintf("Database error: %v", err), http.StatusInternalServerError)
		return
	}

	rows := make([]PacketRow, 0, len(records))
	for _, rec := range records {
		row := PacketRow{PacketRecord: rec, Text: rec.Decoded().String()}
		if s.names != nil {
			row.TaskName, _ = s.names.Lookup(int(rec.PID))
		}
		rows = append(rows, row)
	}
	writeJSON(w, rows)
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	all := tags.All()
	rows := make([]TagRow, 0, len(all))
	for _, d := range all {
		rows = append(rows, TagRow{Descriptor: d, Enabled: s.tagMask.Has(d)})
	}
	writeJSON(w, rows)
}

func (s *Server) handleHeapInfo(w http.ResponseWriter, r *http.Request) {
	mode, err := heapinfo.ParseMode(r.URL.Query().Get("mode"), r.URL.Query().Get("pid"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// clearing goes through POST
	if mode.Kind == heapinfo.ModeClearPeak {
		http.Error(w, "use POST /api/heapinfo/clear", http.StatusMethodNotAllowed)
		return
	}

	report, err := s.reporter.Run(mode)
	if err != nil {
		writeReportError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := heapinfo.Render(w, report, s.reporter.Config()); err != nil {
			log.Error().Err(err).Msg("Error rendering heap report")
		}
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleHeapClear(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.Run(heapinfo.ClearPeak())
	if err != nil {
		writeReportError(w, err)
		return
	}
	if _, err := s.db.ClearPeaks(); err != nil {
		http.Error(w, fmt.Sprintf("Database error: %v", err), http.StatusInternalServerError)
		return
	}
	log.Info().Int("tasks", len(report.Cleared)).Msg("Cleared peak heap counters")
	writeJSON(w, report)
}

func (s *Server) handleHeapProfile(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.Run(heapinfo.ShowAll())
	if err != nil {
		writeReportError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="heap.pb.gz"`)
	if err := heapinfo.WriteProfile(w, report); err != nil {
		log.Error().Err(err).Msg("Error writing heap profile")
	}
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	pid, err := heapinfo.ParsePID(mux.Vars(r)["pid"])
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid PID: %v", err), http.StatusBadRequest)
		return
	}

	task, ok := s.tasks.Get(pid)
	if !ok {
		http.Error(w, fmt.Sprintf("PID %d not found", pid), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	serializer := goseth.NewSerializer()
	serializer.SetRoot(&task)
	serializer.SetMaxDepth(1)
	if err := serializer.Serialize(w); err != nil {
		log.Error().Err(err).Int("pid", pid).Msg("Error serializing task")
	}
}

// handleSigmaMatchesList returns matches filtered by status, severity and rule
func (s *Server) handleSigmaMatchesList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), 100)
	if err != nil || limit <= 0 {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		http.Error(w, "Invalid offset", http.StatusBadRequest)
		return
	}

	filters := map[string]string{
		"status":   q.Get("status"),
		"severity": q.Get("severity"),
		"rule":     q.Get("rule"),
	}

	matches, err := s.sigmaDetector.GetMatches(limit, offset, filters)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get matches: %v", err), http.StatusInternalServerError)
		return
	}
	if matches == nil {
		matches = []sigma.SigmaMatch{}
	}
	writeJSON(w, matches)
}

// handleSigmaMatchUpdate changes the status of one match
func (s *Server) handleSigmaMatchUpdate(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid match ID: %v", err), http.StatusBadRequest)
		return
	}

	var request StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.sigmaDetector.UpdateMatchStatus(matchID, request.Status); err != nil {
		switch {
		case errors.Is(err, sigma.ErrInvalidStatus):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, sql.ErrNoRows):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, fmt.Sprintf("Failed to update match: %v", err), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, map[string]interface{}{"id": matchID, "status": request.Status})
}

func (s *Server) handleSigmaStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sigmaDetector.GetMatchStats()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get stats: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func writeReportError(w http.ResponseWriter, err error) {
	if errors.Is(err, heapinfo.ErrInvalidArgument) || errors.Is(err, heapinfo.ErrUnknownMode) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, fmt.Sprintf("Heap report failed: %v", err), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

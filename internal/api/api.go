// Package api exposes the REST/SSE surface the browser UI reads (spec §6):
// GET /api/stat, /api/watering, /api/log_view, /api/event (SSE),
// /api/sysinfo, /api/healthz. Routing is gorilla/mux, with gorilla/handlers
// providing the CORS/logging middleware the teacher hand-rolled in its own
// api.go.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/internal/config"
	"github.com/thatsimonsguy/mist-cooler/internal/metrics"
	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// EventSource is the read surface both eventlog.Log (actuator, in-process)
// and eventlog.Reader (webui, cross-process polling) satisfy.
type EventSource interface {
	Page(offset, limit int) ([]model.EventRecord, error)
	Count() (int, error)
	Subscribe() (<-chan model.EventRecord, func())
}

// WateringSource is the read surface metrics.Store satisfies.
type WateringSource interface {
	Watering(n int, costPerLiter float64) ([]metrics.WateringDay, error)
}

// LiveState tracks the most recently observed ControlMessage and the
// subscriber's liveness, independent of the scheduler's single-slot
// mailbox so /api/stat always has something to report.
type LiveState struct {
	mu     sync.RWMutex
	latest model.ControlMessage
	has    bool
	live   bool
}

// NewLiveState constructs an empty LiveState.
func NewLiveState() *LiveState {
	return &LiveState{}
}

// Update records the latest accepted ControlMessage.
func (s *LiveState) Update(msg model.ControlMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = msg
	s.has = true
	s.live = true
}

// SetLive flips the liveness flag, e.g. from the subscriber's watchdog.
func (s *LiveState) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

func (s *LiveState) snapshot() (model.ControlMessage, bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.has, s.live
}

// Server wires the configured sources into gorilla/mux routes.
type Server struct {
	cfg      config.WebUI
	events   EventSource
	watering WateringSource
	state    *LiveState
	started  time.Time
}

// NewServer constructs a Server. started is the process start time, used
// by /api/sysinfo's uptime field.
func NewServer(cfg config.WebUI, events EventSource, watering WateringSource, state *LiveState, started time.Time) *Server {
	return &Server{cfg: cfg, events: events, watering: watering, state: state, started: started}
}

// Router builds the mux.Router with CORS + logging middleware applied,
// ready to pass to http.ListenAndServe.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/stat", s.handleStat).Methods("GET")
	r.HandleFunc("/api/watering", s.handleWatering).Methods("GET")
	r.HandleFunc("/api/log_view", s.handleLogView).Methods("GET")
	r.HandleFunc("/api/event", s.handleEventStream).Methods("GET")
	r.HandleFunc("/api/sysinfo", s.handleSysInfo).Methods("GET")
	r.HandleFunc("/api/healthz", s.handleHealthz).Methods("GET")

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.LoggingHandler(os.Stdout, cors(r))
}

type statResponse struct {
	ModeIndex int        `json:"mode_index"`
	State     string     `json:"state"`
	Duty      model.Duty `json:"duty"`
	UpdatedAt time.Time  `json:"updated_at"`
	Live      bool       `json:"live"`
	Has       bool       `json:"has_data"`
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	msg, has, live := s.state.snapshot()
	state := msg.State
	if s.faultActive() {
		state = model.StateFault
	}
	writeJSON(w, http.StatusOK, statResponse{
		ModeIndex: msg.ModeIndex,
		State:     string(state),
		Duty:      msg.Duty,
		UpdatedAt: msg.Timestamp,
		Live:      live,
		Has:       has,
	})
}

// faultScanLimit bounds how far back faultActive looks through the event
// log for the most recent FAULT/RECOVER pair. FAULT/RECOVER events are
// rare next to MODE_CHANGE/DUTY_ON/DUTY_OFF traffic, so the most recent
// window comfortably contains the latest of either kind.
const faultScanLimit = 200

// faultActive reports whether the actuator's own event log shows a FAULT
// with no later RECOVER. The Fault Detector lives in the actuator process
// and the Publisher lives in the controller process, and nothing in the
// wire protocol carries fault state between them (spec §4.h's "the
// publisher advertises state=FAULT" has no feedback path from actuator to
// controller) — so the webui derives a displayed FAULT from the same
// events table it already reads read-only, rather than trusting the
// Publisher's state field to ever report it.
func (s *Server) faultActive() bool {
	events, err := s.events.Page(0, faultScanLimit)
	if err != nil {
		log.Error().Err(err).Msg("fault state scan failed")
		return false
	}
	for _, e := range events {
		switch e.Kind {
		case model.KindFault:
			return true
		case model.KindRecover:
			return false
		}
	}
	return false
}

func (s *Server) handleWatering(w http.ResponseWriter, r *http.Request) {
	days, err := s.watering.Watering(s.cfg.HistogramDays, s.cfg.CostPerLiterUSD)
	if err != nil {
		log.Error().Err(err).Msg("watering history query failed")
		writeError(w, http.StatusInternalServerError, "failed to read watering history")
		return
	}
	writeJSON(w, http.StatusOK, days)
}

type logViewResponse struct {
	Events []model.EventRecord `json:"events"`
	Total  int                 `json:"total"`
}

func (s *Server) handleLogView(w http.ResponseWriter, r *http.Request) {
	offset := parseIntParam(r, "offset", 0)
	limit := parseIntParam(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	events, err := s.events.Page(offset, limit)
	if err != nil {
		log.Error().Err(err).Msg("log_view query failed")
		writeError(w, http.StatusInternalServerError, "failed to read event log")
		return
	}
	total, err := s.events.Count()
	if err != nil {
		log.Error().Err(err).Msg("log_view count failed")
		writeError(w, http.StatusInternalServerError, "failed to count event log")
		return
	}
	writeJSON(w, http.StatusOK, logViewResponse{Events: events, Total: total})
}

// handleEventStream serves Server-Sent Events. The SSE event field is
// "log" for each newly appended EventRecord and "stat" for a LiveState
// snapshot sent every 5 seconds; the data field carries that record as
// JSON, not a bare "log"/"stat" marker.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.events.Subscribe()
	defer cancel()

	idle := time.Duration(s.cfg.SSEIdleTimeoutSec) * time.Second
	if idle <= 0 {
		idle = 300 * time.Second
	}
	statTicker := time.NewTicker(5 * time.Second)
	defer statTicker.Stop()
	idleTimer := time.NewTimer(idle)
	defer idleTimer.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-idleTimer.C:
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, "log", rec)
			flusher.Flush()
			idleTimer.Reset(idle)
		case <-statTicker.C:
			msg, has, live := s.state.snapshot()
			writeSSE(w, "stat", statResponse{
				ModeIndex: msg.ModeIndex,
				State:     string(msg.State),
				Duty:      msg.Duty,
				UpdatedAt: msg.Timestamp,
				Live:      live,
				Has:       has,
			})
			flusher.Flush()
		}
	}
}

type sysInfoResponse struct {
	UptimeHuman string `json:"uptime_human"`
	StartedAt   string `json:"started_at"`
	Now         string `json:"now"`
}

func (s *Server) handleSysInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sysInfoResponse{
		UptimeHuman: humanize.Time(s.started),
		StartedAt:   s.started.Format(time.RFC3339),
		Now:         time.Now().Format(time.RFC3339),
	})
}

// handleHealthz reports 200 when the subscriber's liveness watchdog is
// currently satisfied, 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	_, _, live := s.state.snapshot()
	if !live {
		writeError(w, http.StatusServiceUnavailable, "liveness watchdog expired")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("write json response failed")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeSSE(w http.ResponseWriter, event string, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("marshal SSE payload failed")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
}

func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

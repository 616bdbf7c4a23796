package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tariffd/internal/config"
	"tariffd/internal/ics"
	appLog "tariffd/internal/log"
	"tariffd/internal/model"
	"tariffd/internal/schedule"
	"tariffd/internal/sensor"
	"tariffd/internal/source"
	"tariffd/internal/store"
	"tariffd/internal/tariff"
)

const maxUploadBytes = 16 << 20

// Deps are the collaborators the API reads from.
type Deps struct {
	Store  store.Store
	Sensor *sensor.Sensor
	// Inbox receives uploads. Nil disables POST /api/schedule.
	Inbox    *source.Inbox
	Location *time.Location
}

// Server provides the HTTP API for tariff state, the stored schedule and
// upcoming NT windows.
type Server struct {
	cfg  *config.Config
	deps Deps
	mux  *http.ServeMux
	now  func() time.Time

	// uploadLimit caps the POST /api/schedule request body.
	uploadLimit int64
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = resolveLocationOrLocal(cfg.Timezone)
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
		now:  time.Now,

		uploadLimit: maxUploadBytes,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="tariffd", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/schedule", s.handleSchedule)
	s.mux.HandleFunc("/api/windows", s.handleWindows)
	s.mux.HandleFunc("/calendar.ics", s.handleCalendar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if s.deps.Sensor == nil {
		writeError(w, http.StatusServiceUnavailable, "sensor is not running")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sensor.Snapshot())
}

// dayDTO is one weekday of the stored schedule.
type dayDTO struct {
	Weekday   int          `json:"weekday"`
	Name      string       `json:"name"`
	Intervals []model.Pair `json:"intervals"`
}

type scheduleResponse struct {
	Days  []dayDTO         `json:"days"`
	State *sensor.Snapshot `json:"state,omitempty"`
}

var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func newScheduleResponse(m model.ScheduleMap) scheduleResponse {
	resp := scheduleResponse{Days: make([]dayDTO, 0, len(m))}
	for _, d := range store.Days(m) {
		pairs := m[d]
		if pairs == nil {
			pairs = []model.Pair{}
		}
		resp.Days = append(resp.Days, dayDTO{Weekday: int(d), Name: weekdayNames[d], Intervals: pairs})
	}
	return resp
}

// handleSchedule serves the stored schedule (GET) or accepts a new export
// as multipart field "file" (POST).
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodPost {
		s.handleUpload(w, r)
		return
	}

	sched, ok := s.loadSchedule(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newScheduleResponse(sched))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Inbox == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads are disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	appLog.Info("api schedule upload", "file", header.Filename, "size", header.Size)

	sched, err := s.deps.Inbox.Accept(header.Filename, file)
	if err != nil {
		if errors.Is(err, schedule.ErrUnsupportedFormat) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		var perr *schedule.ScheduleParseError
		if errors.As(err, &perr) || errors.Is(err, schedule.ErrEmptyTable) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		appLog.Error("api schedule upload failed", err)
		writeError(w, http.StatusInternalServerError, "failed to store schedule")
		return
	}

	resp := newScheduleResponse(sched)
	if s.deps.Sensor != nil {
		snap := s.deps.Sensor.Refresh(s.now())
		resp.State = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

type windowsResponse struct {
	Windows    []model.Window `json:"windows"`
	RangeStart time.Time      `json:"range_start"`
	RangeEnd   time.Time      `json:"range_end"`
	TimeZone   string         `json:"timezone"`
}

// handleWindows lists merged NT windows.
//
// GET /api/windows?days=7
func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	days := s.days(r)
	sched, ok := s.loadSchedule(w)
	if !ok {
		return
	}

	from := s.now().In(s.deps.Location)
	windows := tariff.Windows(sched, from, days)
	if windows == nil {
		windows = []model.Window{}
	}
	writeJSON(w, http.StatusOK, windowsResponse{
		Windows:    windows,
		RangeStart: from,
		RangeEnd:   from.Add(time.Duration(days) * 24 * time.Hour),
		TimeZone:   s.deps.Location.String(),
	})
}

// handleCalendar serves the same windows as an iCalendar feed.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	sched, ok := s.loadSchedule(w)
	if !ok {
		return
	}

	now := s.now()
	windows := tariff.Windows(sched, now.In(s.deps.Location), s.days(r))
	body := ics.Export(windows, ics.ExportOptions{Stamp: now})

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// loadSchedule writes the error response itself and reports whether the
// caller may continue.
func (s *Server) loadSchedule(w http.ResponseWriter) (model.ScheduleMap, bool) {
	sched, err := s.deps.Store.Load()
	switch {
	case err == nil:
		return sched, true
	case errors.Is(err, store.ErrStoreMissing):
		writeError(w, http.StatusNotFound, tariff.InfoWaiting)
	default:
		appLog.Error("api: schedule store unreadable", err)
		writeError(w, http.StatusInternalServerError, tariff.InfoReadError)
	}
	return nil, false
}

func (s *Server) days(r *http.Request) int {
	days := parseIntDefault(r.URL.Query().Get("days"), s.cfg.HorizonDays)
	if days <= 0 {
		days = s.cfg.HorizonDays
	}
	if days > tariff.MaxWindowDays {
		days = tariff.MaxWindowDays
	}
	return days
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

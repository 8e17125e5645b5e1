package uiapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/awaistahir/solar-run/internal/engine"
	"github.com/awaistahir/solar-run/internal/logging"
	"github.com/awaistahir/solar-run/internal/planner"
	"github.com/awaistahir/solar-run/internal/store"
)

const (
	requestTimeout = 30 * time.Second
	maxOutlookDays = 16
	dateLayout     = "2006-01-02"
)

// Server exposes the site, the appliances and the planner over HTTP
type Server struct {
	store   *store.Store
	planner *planner.Planner
	zone    *time.Location
	log     *logging.Logger
	version string
	now     func() time.Time
}

func NewServer(st *store.Store, p *planner.Planner, zone *time.Location, log *logging.Logger, version string) *Server {
	if log == nil {
		log = logging.Discard()
	}
	if zone == nil {
		zone = time.Local
	}
	return &Server{
		store:   st,
		planner: p,
		zone:    zone,
		log:     log.With("component", "uiapi"),
		version: version,
		now:     time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	// CORS for local dashboards
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Get("/site", s.handleGetSite)
		r.Put("/site", s.handlePutSite)

		r.Route("/appliances", func(r chi.Router) {
			r.Get("/", s.handleListAppliances)
			r.Post("/", s.handleCreateAppliance)
			r.Get("/{id}", s.handleGetAppliance)
			r.Put("/{id}", s.handleUpdateAppliance)
			r.Delete("/{id}", s.handleDeleteAppliance)
		})

		r.Get("/forecast", s.handleForecast)
		r.Post("/plan", s.handlePlan)
		r.Get("/schedules/latest", s.handleLatestSchedule)
		r.Get("/outlook", s.handleOutlook)
	})

	return r
}

type statusResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	SiteConfigured bool   `json:"site_configured"`
	Appliances     int    `json:"appliances"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: "ok", Version: s.version}

	_, err := s.store.GetSite()
	switch {
	case err == nil:
		resp.SiteConfigured = true
	case !errors.Is(err, store.ErrNotFound):
		s.fail(w, r, err)
		return
	}

	appliances, err := s.store.ListAppliances()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp.Appliances = len(appliances)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	site, err := s.store.GetSite()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, site)
}

func (s *Server) handlePutSite(w http.ResponseWriter, r *http.Request) {
	var site store.Site
	if err := json.NewDecoder(r.Body).Decode(&site); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	saved, err := s.store.SaveSite(site)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

func (s *Server) handleListAppliances(w http.ResponseWriter, r *http.Request) {
	appliances, err := s.store.ListAppliances()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, appliances)
}

func (s *Server) handleCreateAppliance(w http.ResponseWriter, r *http.Request) {
	var appliance engine.Appliance
	if err := json.NewDecoder(r.Body).Decode(&appliance); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.store.SaveAppliance(appliance)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetAppliance(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetAppliance(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateAppliance(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetAppliance(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	appliance := existing.Appliance
	if err := json.NewDecoder(r.Body).Decode(&appliance); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.store.UpdateAppliance(existing.ID, appliance)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteAppliance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteAppliance(id); err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "deleted", "id": id})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	date, ok := s.parseDate(w, r.URL.Query().Get("date"))
	if !ok {
		return
	}
	fc, err := s.planner.Forecast(r.Context(), date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, fc)
}

// PlanRequest selects the day to plan; an empty date means today
type PlanRequest struct {
	Date string `json:"date"`
}

// PlanResponse is a forecast with the schedule built on it
type PlanResponse struct {
	Forecast planner.Forecast `json:"forecast"`
	Schedule engine.Schedule  `json:"schedule"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	date, ok := s.parseDate(w, req.Date)
	if !ok {
		return
	}

	fc, schedule, err := s.planner.Plan(r.Context(), date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, PlanResponse{Forecast: fc, Schedule: schedule})
}

func (s *Server) handleLatestSchedule(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.LatestSchedule()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleOutlook(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxOutlookDays {
			respondError(w, http.StatusBadRequest, "days must be between 1 and "+strconv.Itoa(maxOutlookDays))
			return
		}
		days = n
	}

	out, err := s.planner.Outlook(r.Context(), s.now(), days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// parseDate reads YYYY-MM-DD in the site zone, empty meaning today. It writes
// the 400 itself.
func (s *Server) parseDate(w http.ResponseWriter, v string) (time.Time, bool) {
	if v == "" {
		return s.now().In(s.zone), true
	}
	date, err := time.ParseInLocation(dateLayout, v, s.zone)
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

// fail maps domain errors to status codes
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrNoFeasibleSchedule):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

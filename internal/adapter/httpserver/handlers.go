package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/internal/usecase"
)

// StatusSource is the slice of the supervisor the status endpoint reads.
type StatusSource interface {
	ListRunning() []domain.WorkerStatus
}

// AlertsSource is the slice of the balance monitor the alerts endpoint reads.
type AlertsSource interface {
	Status() usecase.MonitorStatus
}

// ReadyCheck is one named readiness probe.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server carries the ops endpoint dependencies.
type Server struct {
	Supervisor StatusSource
	Monitor    AlertsSource
	Checks     []ReadyCheck
}

// NewServer builds the ops server over the supervisor and monitor.
func NewServer(sup StatusSource, mon AlertsSource, checks ...ReadyCheck) *Server {
	return &Server{Supervisor: sup, Monitor: mon, Checks: checks}
}

// HealthzHandler reports process liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler runs every readiness probe with a shared deadline and
// reports the failures by name.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		failures := map[string]string{}
		for _, c := range s.Checks {
			if err := c.Check(ctx); err != nil {
				failures[c.Name] = err.Error()
			}
		}
		if len(failures) > 0 {
			LoggerFrom(r).Warn("readiness check failed", "failures", failures)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "unavailable",
				"failures": failures,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type workerView struct {
	Alias        string     `json:"alias"`
	Bank         string     `json:"bank"`
	State        string     `json:"state"`
	LastBalance  string     `json:"last_balance,omitempty"`
	LastUploadAt *time.Time `json:"last_upload_at,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	RunID        string     `json:"run_id"`
}

// StatusHandler lists the running workers.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := s.Supervisor.ListRunning()
		workers := make([]workerView, 0, len(statuses))
		for _, st := range statuses {
			v := workerView{
				Alias:       st.Alias,
				Bank:        st.Bank,
				State:       string(st.State),
				LastBalance: st.LastBalance,
				StartedAt:   st.StartedAt,
				RunID:       st.RunID,
			}
			if !st.LastUploadAt.IsZero() {
				t := st.LastUploadAt
				v.LastUploadAt = &t
			}
			workers = append(workers, v)
		}
		writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
	}
}

// AlertsHandler reports the balance monitor snapshot.
func (s *Server) AlertsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := s.Monitor.Status()
		writeJSON(w, http.StatusOK, map[string]any{
			"targets":         st.Targets,
			"check_interval":  st.CheckInterval.String(),
			"repeat_interval": st.RepeatInterval.String(),
			"active_alerts":   st.ActiveAlerts,
			"total_triggered": st.TotalTriggered,
		})
	}
}

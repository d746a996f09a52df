package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vk/signalcheck/internal/cases"
	"github.com/vk/signalcheck/internal/check"
)

// healthResponse is the /health payload: overall status plus a per-case
// snapshot.
type healthResponse struct {
	Status string         `json:"status"`
	Cases  []cases.Status `json:"cases"`
}

// serveOps runs the operational HTTP server: health, Prometheus metrics and
// the manual test-trigger endpoint. It shuts down when ctx is canceled.
func (a *App) serveOps(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /trigger/{name}", a.handleTrigger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.OpsPort),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Ops server starting.", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	}
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	resp := healthResponse{Status: "ok"}
	for _, c := range a.reg.Cases() {
		st := c.Status(now)
		if st.Unhealthy {
			resp.Status = "unhealthy"
		}
		resp.Cases = append(resp.Cases, st)
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *App) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	test, err := a.Trigger(r.Context(), name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, check.ErrUnknownCase) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(test)
}

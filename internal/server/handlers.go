package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/coinrebalancer/engine/pkg/statistics"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth reports liveness: the process is up and the database
// answers a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy", "error": err.Error(),
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// BotStatus is one bot's scheduling freshness as reported by
// /api/system/status.
type BotStatus struct {
	BotID         string     `json:"bot_id"`
	Name          string     `json:"name"`
	CurrentCoin   string     `json:"current_coin,omitempty"`
	LastCheckTime *time.Time `json:"last_check_time,omitempty"`
	Stale         bool       `json:"stale"`
}

// SystemStatusResponse is the body of /api/system/status.
type SystemStatusResponse struct {
	Status        string      `json:"status"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	MemoryUsedPct float64     `json:"memory_used_percent"`
	CPUUsedPct    float64     `json:"cpu_used_percent"`
	Bots          []BotStatus `json:"bots"`
}

// handleSystemStatus reports process resource usage and per-bot tick
// staleness. A bot is stale when its last tick is older than twice its
// configured interval.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemoryUsedPct = vm.UsedPercent
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		resp.CPUUsedPct = pcts[0]
	}

	bots, err := s.store.ListEnabledBots(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	now := time.Now()
	for _, b := range bots {
		status := BotStatus{BotID: b.BotID, Name: b.Name, LastCheckTime: b.LastCheckTime}
		if b.CurrentCoin != nil {
			status.CurrentCoin = *b.CurrentCoin
		}
		staleAfter := 2 * time.Duration(b.CheckIntervalMinutes) * time.Minute
		if b.LastCheckTime == nil || now.Sub(*b.LastCheckTime) > staleAfter {
			status.Stale = true
			resp.Status = "degraded"
		}
		resp.Bots = append(resp.Bots, status)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// DecisionLogEntry is one TRADE-level event in the decision log.
type DecisionLogEntry struct {
	BotID     string          `json:"bot_id"`
	Event     string          `json:"event"`
	Detail    json.RawMessage `json:"detail"`
	Timestamp time.Time       `json:"timestamp"`
}

// handleDecisionLog serves the TRADE-level entries for one bot, most
// recent first.
func (s *Server) handleDecisionLog(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	limit := queryInt(r, "limit", 50)

	entries, err := s.store.QueryLogs(r.Context(), botID, "TRADE", limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]DecisionLogEntry, 0, len(entries))
	for _, e := range entries {
		detail := json.RawMessage(e.Context)
		if !json.Valid(detail) {
			detail = json.RawMessage("{}")
		}
		out = append(out, DecisionLogEntry{
			BotID: e.BotID, Event: e.Message, Detail: detail, Timestamp: e.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": out, "total": len(out)})
}

// DeviationSummaryResponse groups a bot's recent candidate evaluations
// by target coin with descriptive statistics over the deviation
// percentages.
type DeviationSummaryResponse struct {
	BotID   string                        `json:"bot_id"`
	Overall statistics.Summary            `json:"overall"`
	ByCoin  map[string]statistics.Summary `json:"by_coin"`
}

func (s *Server) handleDeviationSummary(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	limit := queryInt(r, "limit", 200)

	devs, err := s.store.ListRecentDeviations(r.Context(), botID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	all := make([]float64, 0, len(devs))
	byCoin := make(map[string][]float64)
	for _, d := range devs {
		v, _ := d.DeviationPercent.Float64()
		all = append(all, v)
		byCoin[d.TargetCoin] = append(byCoin[d.TargetCoin], v)
	}

	resp := DeviationSummaryResponse{
		BotID:   botID,
		Overall: statistics.Summarize(all),
		ByCoin:  make(map[string]statistics.Summary, len(byCoin)),
	}
	for coin, vals := range byCoin {
		resp.ByCoin[coin] = statistics.Summarize(vals)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleReconciliation runs an advisory reconciliation across every
// enabled bot and returns the per-bot reports. Nothing is mutated.
func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		s.writeError(w, http.StatusServiceUnavailable, "reconciliation is not configured")
		return
	}
	reports, err := s.reconciler.ReconcileAll(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}

// handleBotReset triggers a bot reset. The reason defaults to
// "manual" when the caller supplies none.
func (s *Server) handleBotReset(w http.ResponseWriter, r *http.Request) {
	if s.resetter == nil {
		s.writeError(w, http.StatusServiceUnavailable, "bot reset is not configured")
		return
	}
	botID := chi.URLParam(r, "botID")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual"
	}
	if err := s.resetter.Reset(r.Context(), botID, reason); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"bot_id": botID, "status": "reset"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

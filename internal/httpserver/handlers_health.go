package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/roomboard/passledger/internal/logger"
	"github.com/roomboard/passledger/pkg/responders"
)

type planSummary struct {
	PlanType string `json:"plan_type"`
	ItemName string `json:"item_name"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Days     int    `json:"days"`
}

// health reports store connectivity and breaker states. The service is degraded
// (503) when the ledger store cannot be reached.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := time.Now()
	status := "ok"
	statusCode := http.StatusOK

	storeHealthy := h.store != nil && h.store.Ping(ctx) == nil
	if !storeHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
		log := logger.FromContext(r.Context())
		log.Warn().Msg("health.store_unreachable")
	}

	// Open breakers do not fail the probe; the ledger still accepts webhooks
	breakers := h.breakers.States()
	for _, state := range breakers {
		if state == "open" && status == "ok" {
			status = "degraded_dependencies"
		}
	}

	plans := []planSummary{}
	for _, p := range h.catalog.Plans() {
		plans = append(plans, planSummary{
			PlanType: p.Type,
			ItemName: p.ItemName,
			Amount:   p.Amount(),
			Currency: p.Currency,
			Days:     p.Days(),
		})
	}

	response := map[string]any{
		"status":       status,
		"uptime":       now.Sub(serverStartTime).String(),
		"timestamp":    now.UTC(),
		"storeHealthy": storeHealthy,
		"breakers":     breakers,
		"plans":        plans,
		"sandbox":      h.gateway != nil && h.gateway.Sandbox(),
		"stripe":       h.stripe != nil,
	}
	if h.cfg.Server.RoutePrefix != "" {
		response["routePrefix"] = h.cfg.Server.RoutePrefix
	}

	responders.JSON(w, statusCode, response)
}

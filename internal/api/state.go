package api

import (
	"net/http"

	"github.com/quotapilot/quotapilot/internal/budget"
	"github.com/quotapilot/quotapilot/pkg/types"
)

// ProviderStateView is one provider's entry in the router state report.
type ProviderStateView struct {
	Health *types.ProviderState  `json:"health"`
	Models map[string]ModelState `json:"models"`
}

// ModelState reports recent usage and remaining quota headroom for one
// provider/model pair.
type ModelState struct {
	Usage    budget.Stats     `json:"usage"`
	Headroom budget.Remaining `json:"headroom"`
}

// RouterState handles GET /v1/router/state. For every registered provider it
// probes health and, when a budget manager is wired, reports per-model
// minute and day usage plus the remaining headroom on each configured cap.
func (h *Handler) RouterState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := make(map[string]ProviderStateView, h.registry.Len())

	for _, adapter := range h.registry.Adapters() {
		name := adapter.Name()

		health, err := adapter.State(ctx)
		if err != nil || health == nil {
			health = &types.ProviderState{Status: types.StatusUnknown}
		}

		view := ProviderStateView{
			Health: health,
			Models: make(map[string]ModelState),
		}

		models, err := adapter.Models(ctx)
		if err != nil {
			h.logger.WarnContext(ctx, "model listing failed for state report",
				"provider", name, "error", err)
		}
		for _, m := range models {
			state := ModelState{}
			if h.budget != nil {
				state.Usage = h.budget.UsageStats(ctx, name, m.Name)
				state.Headroom = h.budget.CheckHeadroom(ctx, name, m.Name, nil, nil).Remaining
			}
			view.Models[m.Name] = state
		}

		out[name] = view
	}

	h.writeJSON(w, http.StatusOK, out)
}

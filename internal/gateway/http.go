// ABOUTME: Webhook HTTP surface: the messages endpoint and the health probe
// ABOUTME: Translates between HTTP and the bot layer's activity semantics

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/2389/teams-gateway/internal/activity"
	"github.com/2389/teams-gateway/internal/botauth"
)

// maxActivityBytes bounds the webhook request body. Activities are small;
// anything larger is not a legitimate channel payload.
const maxActivityBytes = 1 << 20

func (g *Gateway) routes() *http.ServeMux {
	mux := http.NewServeMux()
	authed := botauth.Middleware(g.validator)
	mux.Handle("POST /api/messages", authed(http.HandlerFunc(g.handleMessages)))
	mux.HandleFunc("GET /health", g.handleHealth)
	return mux
}

// handleMessages is the Bot Framework webhook. The channel retries on
// non-2xx and on timeout, so duplicates are dropped here before they reach
// the bot layer.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	var act activity.Activity
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActivityBytes))
	if err := dec.Decode(&act); err != nil {
		g.logger.Warn("malformed activity payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid activity"})
		return
	}

	if g.dedupe.Seen(&act) {
		g.logger.Debug("duplicate delivery dropped",
			"activity_id", act.ID, "channel_id", act.ChannelID)
		w.WriteHeader(http.StatusOK)
		return
	}

	resp, err := g.handler.OnTurn(r.Context(), &act)
	if err != nil {
		// Unmark the activity so the channel's retry of this delivery is
		// dispatched instead of being dropped as a duplicate.
		g.dedupe.Forget(&act)
		g.logger.Error("turn failed",
			"activity_id", act.ID,
			"conversation_id", act.Conversation.ID,
			"error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	// Invoke activities answer synchronously through the webhook response;
	// everything else replies out-of-band via the connector.
	if resp != nil {
		if resp.Body != nil {
			writeJSON(w, resp.Status, resp.Body)
			return
		}
		w.WriteHeader(resp.Status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

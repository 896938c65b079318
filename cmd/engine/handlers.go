package main

import (
	"net/http"

	"github.com/gorilla/mux"

	serviceerrors "github.com/r3e-network/agent-core/infrastructure/errors"
	"github.com/r3e-network/agent-core/infrastructure/httputil"
	"github.com/r3e-network/agent-core/internal/domain"
	"github.com/r3e-network/agent-core/internal/lifecycle"
	"github.com/r3e-network/agent-core/internal/permission"
)

func writeManagerError(w http.ResponseWriter, err error) {
	status := serviceerrors.GetHTTPStatus(err)
	httputil.WriteError(w, status, err.Error())
}

func listAgentsHandler(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, manager.ListAgents())
	}
}

type createAgentRequest struct {
	ID     string             `json:"id"`
	OrgID  string             `json:"orgId"`
	Config domain.AgentConfig `json:"config"`
	Tags   map[string]string  `json:"tags"`
}

func createAgentHandler(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAgentRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.ID == "" || req.OrgID == "" {
			httputil.BadRequest(w, "id and orgId are required")
			return
		}
		agent, err := manager.CreateAgent(r.Context(), req.ID, req.OrgID, req.Config, req.Tags)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, agent)
	}
}

func getAgentHandler(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent, err := manager.GetAgent(mux.Vars(r)["id"])
		if err != nil {
			writeManagerError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, agent)
	}
}

func updateAgentHandler(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch lifecycle.ConfigPatch
		if !httputil.DecodeJSON(w, r, &patch) {
			return
		}
		triggeredBy := httputil.GetUserID(r)
		agent, err := manager.UpdateConfig(r.Context(), mux.Vars(r)["id"], patch, triggeredBy)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, agent)
	}
}

func deleteAgentHandler(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		triggeredBy := httputil.GetUserID(r)
		if err := manager.Destroy(r.Context(), mux.Vars(r)["id"], triggeredBy); err != nil {
			writeManagerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deployAgentHandler(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		triggeredBy := httputil.GetUserID(r)
		if err := manager.Deploy(r.Context(), mux.Vars(r)["id"], triggeredBy); err != nil {
			writeManagerError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "deploying"})
	}
}

func stopAgentHandler(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reason string `json:"reason"`
		}
		_ = httputil.DecodeJSONOptional(w, r, &req)
		triggeredBy := httputil.GetUserID(r)
		if err := manager.Stop(r.Context(), mux.Vars(r)["id"], req.Reason, triggeredBy); err != nil {
			writeManagerError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	}
}

func restartAgentHandler(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		triggeredBy := httputil.GetUserID(r)
		if err := manager.Restart(r.Context(), mux.Vars(r)["id"], triggeredBy); err != nil {
			writeManagerError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
	}
}

func listAlertsHandler(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := manager.GetAgent(mux.Vars(r)["id"]); err != nil {
			writeManagerError(w, err)
			return
		}
		agentID := mux.Vars(r)["id"]
		var out []domain.BudgetAlert
		for _, a := range manager.Alerts() {
			if a.AgentID == agentID {
				out = append(out, a)
			}
		}
		httputil.WriteJSON(w, http.StatusOK, out)
	}
}

func journalHandler(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent, err := manager.GetAgent(mux.Vars(r)["id"])
		if err != nil {
			writeManagerError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, agent.StateHistory)
	}
}

func drainTargetHandler(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		triggeredBy := httputil.GetUserID(r)
		if err := manager.DrainTarget(r.Context(), mux.Vars(r)["name"], triggeredBy); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "drained"})
	}
}

func checkPermissionHandler(resolver *permission.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := httputil.QueryString(r, "agentId", "")
		toolID := httputil.QueryString(r, "toolId", "")
		if agentID == "" || toolID == "" {
			httputil.BadRequest(w, "agentId and toolId are required")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, resolver.Check(agentID, toolID))
	}
}

func notImplementedHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteError(w, http.StatusNotImplemented, "not implemented")
}

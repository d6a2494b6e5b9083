// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/lease"
	"github.com/FairForge/arbiter/internal/registry"
)

func (s *Server) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

// handleClusterHealth merges the probe view with replication state. It
// answers on every node, but only the active node's detector has fresh
// probe results.
func (s *Server) handleClusterHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cluster":     s.cluster,
		"active":      s.service.IsActive(),
		"nodes":       s.service.NodeHealth(),
		"replication": s.service.Replication(),
	})
}

func (s *Server) handleReplication(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.service.Replication())
}

// handleFailover triggers a manual switchover: the active node steps
// down and sits out the cooldown so a standby can take the lease.
func (s *Server) handleFailover(w http.ResponseWriter, r *http.Request) {
	operator := OperatorFromContext(r.Context())

	if err := s.service.Switchover(r.Context()); err != nil {
		if errors.Is(err, lease.ErrNotHolder) {
			s.respondError(w, http.StatusConflict, "this node is not the active node")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("manual switchover triggered", zap.String("operator", operator))
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "stepping down, a standby will take over",
	})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.service.Nodes(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes})
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["id"]

	node, err := s.service.Node(r.Context(), nodeID)
	if err != nil {
		if errors.Is(err, registry.ErrNodeNotFound) {
			s.respondError(w, http.StatusNotFound, "node not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, node)
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["id"]

	if err := s.service.RemoveNode(r.Context(), nodeID); err != nil {
		if errors.Is(err, registry.ErrNodeNotFound) {
			s.respondError(w, http.StatusNotFound, "node not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleSetMaintenance(w http.ResponseWriter, r *http.Request) {
	s.setMaintenance(w, r, true)
}

func (s *Server) handleClearMaintenance(w http.ResponseWriter, r *http.Request) {
	s.setMaintenance(w, r, false)
}

func (s *Server) setMaintenance(w http.ResponseWriter, r *http.Request, on bool) {
	nodeID := mux.Vars(r)["id"]

	if err := s.service.SetMaintenance(r.Context(), nodeID, on); err != nil {
		if errors.Is(err, registry.ErrNodeNotFound) {
			s.respondError(w, http.StatusNotFound, "node not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("maintenance flag changed",
		zap.String("node_id", nodeID),
		zap.Bool("maintenance", on),
		zap.String("operator", OperatorFromContext(r.Context())))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"node_id":     nodeID,
		"maintenance": on,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			s.respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	typePattern := r.URL.Query().Get("type")

	list, err := s.history.Query(r.Context(), limit, typePattern)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"events": list})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

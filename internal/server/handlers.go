package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/battlewithbytes/pve-nestlab/internal/naming"
	"github.com/battlewithbytes/pve-nestlab/internal/ops"
	"github.com/battlewithbytes/pve-nestlab/internal/version"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeOpError maps engine errors onto the API contract: bad input is 400,
// a busy operation slot is 409 with the running kind, everything else 500.
func writeOpError(w http.ResponseWriter, err error) {
	var verr *ops.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	var conflict *ops.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   conflict.Error(),
			"running": string(conflict.Running),
		})
		return
	}
	if errors.Is(err, ops.ErrNotConnected) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		User     string `json:"user"`
		Password string `json:"password"`
		Node     string `json:"node"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	nodes, err := s.engine.Connect(r.Context(), ops.Profile{
		Host:     body.Host,
		Port:     body.Port,
		Username: body.User,
		Password: body.Password,
		Node:     body.Node,
	})
	if err != nil {
		var verr *ops.ValidationError
		var conflict *ops.ConflictError
		switch {
		case errors.As(err, &verr), errors.As(err, &conflict):
			writeOpError(w, err)
		default:
			// The upstream hypervisor rejected us or was unreachable.
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "connected",
		"nodes":  nodes,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.engine.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.engine.Nodes(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes})
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	node := r.URL.Query().Get("node")
	if node == "" {
		writeError(w, http.StatusBadRequest, "node query parameter is required")
		return
	}
	storage, err := s.engine.Storage(r.Context(), node)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"storage": storage})
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.engine.Templates(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	if templates == nil {
		templates = []ops.TemplateInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": templates})
}

func (s *Server) handleISOs(w http.ResponseWriter, r *http.Request) {
	node := r.URL.Query().Get("node")
	storage := r.URL.Query().Get("storage")
	if node == "" || storage == "" {
		writeError(w, http.StatusBadRequest, "node and storage query parameters are required")
		return
	}
	isos, err := s.engine.ISOs(r.Context(), node, storage)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if isos == nil {
		isos = []ops.ISOInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"isos": isos})
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	themes := naming.Themes()
	previews := make(map[string][]string, len(themes))
	for _, theme := range themes {
		previews[theme] = naming.Preview(theme, 5)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"themes":   themes,
		"previews": previews,
	})
}

func (s *Server) handleCreateNested(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		MemoryMB int    `json:"memory_mb"`
		Cores    int    `json:"cores"`
		DiskGB   int    `json:"disk_gb"`
		Storage  string `json:"storage"`
		Bridge   string `json:"bridge"`
		Node     string `json:"node"`
		ISO      string `json:"iso"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.engine.StartCreateNested(ops.NestedSpec{
		Name:       body.Name,
		MemoryMB:   body.MemoryMB,
		Cores:      body.Cores,
		DiskGB:     body.DiskGB,
		Storage:    body.Storage,
		Bridge:     body.Bridge,
		TargetNode: body.Node,
		ISO:        body.ISO,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleCreateVMs(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NestedHost     string `json:"nested_host"`
		NestedUser     string `json:"nested_user"`
		NestedPassword string `json:"nested_password"`
		Count          int    `json:"count"`
		Theme          string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.engine.StartProvision(ops.ProvisionRequest{
		NestedHost:     body.NestedHost,
		NestedUser:     body.NestedUser,
		NestedPassword: body.NestedPassword,
		VMCount:        body.Count,
		Theme:          body.Theme,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VMID           int    `json:"vmid"`
		Node           string `json:"node"`
		NestedHost     string `json:"nested_host"`
		NestedUser     string `json:"nested_user"`
		NestedPassword string `json:"nested_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.engine.StartDestroy(ops.DestroyRequest{
		VMID:           body.VMID,
		Node:           body.Node,
		NestedHost:     body.NestedHost,
		NestedUser:     body.NestedUser,
		NestedPassword: body.NestedPassword,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	entries := s.engine.Log().Snapshot()
	if entries == nil {
		entries = []ops.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": entries})
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	s.engine.Log().Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

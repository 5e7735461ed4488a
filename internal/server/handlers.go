package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/consentcompanion/policywatch/pkg/router"
)

const maxBody = 1 << 20

// engineContext keeps engine work running after the client hangs up.
func engineContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tabID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		http.Error(w, "invalid tab id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMessage serves one router message. The optional "sender_tab"
// field stands in for the tab a content script runs in.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var sender router.Sender
	if v := gjson.GetBytes(body, "sender_tab"); v.Exists() && v.Type == gjson.Number {
		sender = router.Sender{TabID: int(v.Int()), HasTab: true}
	}
	writeJSON(w, http.StatusOK, s.Engine.HandleMessage(engineContext(r), body, sender))
}

func (s *Server) handleTabActivated(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	s.Engine.OnTabActivated(engineContext(r), id)
	w.WriteHeader(http.StatusAccepted)
}

type TabUpdatedRequest struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

func (s *Server) handleTabUpdated(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	var req TabUpdatedRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.URL != "" {
		s.Host.SetTabURL(id, req.URL)
	}
	s.Engine.OnTabUpdated(engineContext(r), id, req.Status == "complete")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTabRemoved(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	s.Engine.OnTabRemoved(engineContext(r), id)
	s.Host.RemoveTab(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlarm(w http.ResponseWriter, r *http.Request) {
	ran := s.Engine.OnAlarm(engineContext(r), chi.URLParam(r, "name"))
	writeJSON(w, http.StatusOK, map[string]bool{"ran": ran})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Host.Notifications())
}

func (s *Server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	opened := s.Engine.OnNotificationClicked(engineContext(r), id)
	shown := s.Host.Dismiss(id)
	s.Engine.OnNotificationClosed(engineContext(r), id)
	if !opened && !shown {
		http.Error(w, "unknown notification", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"opened": opened})
}

func (s *Server) handleNotificationClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	shown := s.Host.Dismiss(id)
	s.Engine.OnNotificationClosed(engineContext(r), id)
	if !shown {
		http.Error(w, "unknown notification", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBadges(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]interface{})
	for id, b := range s.Host.Badges() {
		out[strconv.Itoa(id)] = b
	}
	writeJSON(w, http.StatusOK, out)
}

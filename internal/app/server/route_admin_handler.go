package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/patcreator/alx-backend-security/internal/config"
	"github.com/patcreator/alx-backend-security/internal/denylist"
	"github.com/patcreator/alx-backend-security/internal/moderation"
)

const (
	defaultCleanupDays = 7
	maxRequestBody     = 1 << 20
)

type adminHandler struct {
	moderation *moderation.Service
}

type ipsRequest struct {
	IPs []string `json:"ips"`
}

type cleanupRequest struct {
	Days int `json:"days"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *adminHandler) listBlocked(w http.ResponseWriter, r *http.Request) {
	entries, err := h.moderation.ListBlocked(r.Context())
	if err != nil {
		log.Error("list blocked ips", "error", err)
		writeError(w, "Failed to list blocked IPs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *adminHandler) blockIPs(w http.ResponseWriter, r *http.Request) {
	var req ipsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.IPs) == 0 {
		writeError(w, "No IPs given", http.StatusBadRequest)
		return
	}

	results := make([]map[string]any, 0, len(req.IPs))
	for _, ip := range req.IPs {
		result, err := h.moderation.BlockIP(r.Context(), ip)
		if errors.Is(err, denylist.ErrEmptyIP) {
			writeError(w, "IP must not be empty", http.StatusBadRequest)
			return
		}
		if err != nil {
			log.Error("block ip", "ip", ip, "error", err)
			writeError(w, "Failed to block IP", http.StatusInternalServerError)
			return
		}
		results = append(results, map[string]any{
			"ip":      result.IP,
			"created": result.Created,
			"message": result.Message(),
		})
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *adminHandler) unblockIP(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	removed, err := h.moderation.UnblockIP(r.Context(), ip)
	if errors.Is(err, denylist.ErrEmptyIP) {
		writeError(w, "IP must not be empty", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error("unblock ip", "ip", ip, "error", err)
		writeError(w, "Failed to unblock IP", http.StatusInternalServerError)
		return
	}
	if !removed {
		writeError(w, "IP is not blocked", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "removed": true})
}

func (h *adminHandler) listSuspicious(w http.ResponseWriter, r *http.Request) {
	includeResolved, _ := strconv.ParseBool(r.URL.Query().Get("include_resolved"))
	entries, err := h.moderation.ListSuspicious(r.Context(), includeResolved)
	if err != nil {
		log.Error("list suspicious ips", "error", err)
		writeError(w, "Failed to list suspicious IPs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *adminHandler) resolveSuspicious(w http.ResponseWriter, r *http.Request) {
	var req ipsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resolved, err := h.moderation.ResolveSuspicious(r.Context(), req.IPs)
	if errors.Is(err, moderation.ErrNoIPs) {
		writeError(w, "No IPs given", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error("resolve suspicious ips", "error", err)
		writeError(w, "Failed to resolve suspicious IPs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"resolved": resolved})
}

func (h *adminHandler) promoteSuspicious(w http.ResponseWriter, r *http.Request) {
	var req ipsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	blocked, err := h.moderation.PromoteSuspicious(r.Context(), req.IPs)
	if errors.Is(err, moderation.ErrNoIPs) {
		writeError(w, "No IPs given", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error("promote suspicious ips", "error", err)
		writeError(w, "Failed to promote suspicious IPs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"blocked": blocked})
}

func (h *adminHandler) detect(w http.ResponseWriter, r *http.Request) {
	report, err := h.moderation.RunDetection(r.Context())
	if err != nil {
		log.Error("anomaly detection", "error", err)
		writeError(w, "Anomaly detection failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":           report.Summary(),
		"flagged":           report.Flagged,
		"volume_flagged":    report.VolumeFlagged,
		"sensitive_flagged": report.SensitiveFlagged,
		"created":           report.Created,
		"failures":          report.Failures,
	})
}

func (h *adminHandler) cleanup(w http.ResponseWriter, r *http.Request) {
	req := cleanupRequest{Days: defaultCleanupDays}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.Days <= 0 {
		writeError(w, "days must be positive", http.StatusBadRequest)
		return
	}

	result, err := h.moderation.CleanupLogs(r.Context(), time.Duration(req.Days)*24*time.Hour)
	if err != nil {
		log.Error("cleanup request logs", "error", err)
		writeError(w, "Failed to clean up logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": result.Message(),
		"deleted": result.Deleted,
		"cutoff":  result.Cutoff,
	})
}

func (h *adminHandler) recentRequests(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.moderation.RecentRequests(r.Context(), r.URL.Query().Get("ip"), limit)
	if err != nil {
		log.Error("list recent requests", "error", err)
		writeError(w, "Failed to list requests", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *adminHandler) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, config.GetConfig())
}

// saveSettings merges the body over the active settings, so partial documents
// only change the fields they name.
func (h *adminHandler) saveSettings(w http.ResponseWriter, r *http.Request) {
	cfg := config.GetConfig().Clone()
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := config.SetConfig(cfg); err != nil {
		log.Error("save settings", "error", err)
		writeError(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, config.GetConfig())
}

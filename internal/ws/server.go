package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/timewarden/backend/internal/config"
	"github.com/timewarden/backend/internal/diag"
	"github.com/timewarden/backend/internal/domain"
	"github.com/timewarden/backend/internal/tracker"
)

// Server is the HTTP/WS message surface consumed by the settings,
// dashboard, popup, and blocked-page UIs.
type Server struct {
	config         *config.Config
	tracker        *tracker.Tracker
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(cfg *config.Config, trk *tracker.Tracker, broadcaster *Broadcaster) *Server {
	s := &Server{
		config:         cfg,
		tracker:        trk,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/hostnames", s.handleHostnames)
	mux.HandleFunc("/api/hostnames/", s.handleHostnameRoutes)
	mux.HandleFunc("/api/status", s.handleAllStatus)
	mux.HandleFunc("/api/status/", s.handleStatus)
	mux.HandleFunc("/api/pause/", s.handlePause)
	mux.HandleFunc("/api/dashboard", s.handleDashboard)
	mux.HandleFunc("/api/blocked/", s.handleBlocked)
	mux.HandleFunc("/api/health", s.handleHealth)
}

// writeInternalError answers the UI error contract: operations never
// surface opaque errors to the UI.
func writeInternalError(w http.ResponseWriter, requestType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal", "type": requestType})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("WebSocket client connected: %s", r.RemoteAddr)
	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		return
	}

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("WebSocket client disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.tracker.Settings()
		if err != nil {
			log.Printf("GetSettings: %v", err)
			writeInternalError(w, "GetSettings")
			return
		}
		writeJSON(w, settings)

	case http.MethodPut:
		var settings domain.GlobalSettings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			http.Error(w, "invalid settings", http.StatusBadRequest)
			return
		}
		if err := settings.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.tracker.ApplySettings(&settings); err != nil {
			log.Printf("SaveSettings: %v", err)
			writeInternalError(w, "SaveSettings")
			return
		}
		writeJSON(w, map[string]bool{"ok": true})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHostnames(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		configs, err := s.tracker.HostnameConfigs()
		if err != nil {
			log.Printf("GetHostnameConfigs: %v", err)
			writeInternalError(w, "GetHostnameConfigs")
			return
		}
		if configs == nil {
			configs = []*domain.HostnameConfig{}
		}
		writeJSON(w, configs)

	case http.MethodPut:
		var cfg domain.HostnameConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid config", http.StatusBadRequest)
			return
		}
		// Validate against the normalized form the tracker will persist.
		check := cfg.Clone()
		check.Normalize(time.Now())
		if err := check.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.tracker.ApplyHostnameConfig(&cfg); err != nil {
			log.Printf("SaveHostnameConfig: %v", err)
			writeInternalError(w, "SaveHostnameConfig")
			return
		}
		writeJSON(w, map[string]bool{"ok": true})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHostnameRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hostname, ok := pathHostname(r.URL.Path, "/api/hostnames/")
	if !ok {
		http.Error(w, "invalid hostname", http.StatusBadRequest)
		return
	}
	found, err := s.tracker.RemoveHostname(hostname)
	if err != nil {
		log.Printf("RemoveHostname: %v", err)
		writeInternalError(w, "RemoveHostname")
		return
	}
	if !found {
		http.Error(w, "hostname not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleAllStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	statuses, err := s.tracker.AllStatus()
	if err != nil {
		log.Printf("GetAllStatus: %v", err)
		writeInternalError(w, "GetAllStatus")
		return
	}
	if statuses == nil {
		statuses = []*tracker.Status{}
	}
	writeJSON(w, statuses)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	hostname, ok := pathHostname(r.URL.Path, "/api/status/")
	if !ok {
		http.Error(w, "invalid hostname", http.StatusBadRequest)
		return
	}
	status, err := s.tracker.Status(hostname)
	if err != nil {
		log.Printf("GetStatus: %v", err)
		writeInternalError(w, "GetStatus")
		return
	}
	if status == nil {
		http.Error(w, "hostname not found", http.StatusNotFound)
		return
	}
	writeJSON(w, status)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hostname, ok := pathHostname(r.URL.Path, "/api/pause/")
	if !ok {
		http.Error(w, "invalid hostname", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.tracker.TogglePause(hostname))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid days", http.StatusBadRequest)
			return
		}
		days = parsed
	}
	data, err := s.tracker.DashboardData(days)
	if err != nil {
		log.Printf("GetDashboardData: %v", err)
		writeInternalError(w, "GetDashboardData")
		return
	}
	writeJSON(w, data)
}

func (s *Server) handleBlocked(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	hostname, ok := pathHostname(r.URL.Path, "/api/blocked/")
	if !ok {
		http.Error(w, "invalid hostname", http.StatusBadRequest)
		return
	}
	status, err := s.tracker.BlockedStatusFor(hostname)
	if err != nil {
		log.Printf("GetBlockedStatus: %v", err)
		writeInternalError(w, "GetBlockedStatus")
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	payload := map[string]interface{}{
		"status":  "ok",
		"clients": s.broadcaster.ClientCount(),
	}
	if snap, err := diag.Collect(); err == nil {
		payload["process"] = snap
	} else {
		log.Printf("health snapshot: %v", err)
	}
	writeJSON(w, payload)
}

// pathHostname extracts and normalizes the hostname path segment after
// prefix.
func pathHostname(path, prefix string) (string, bool) {
	raw := strings.TrimPrefix(path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		return "", false
	}
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return "", false
	}
	return domain.NormalizeHostname(unescaped), true
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-TimeWarden-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

package diagnostics

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/net"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// gpioResponse mirrors the document's pin shape closely enough for an
// operator to cross-reference it by eye.
type gpioResponse struct {
	Pin            int    `json:"pin"`
	Name           string `json:"name"`
	DefaultName    string `json:"default_name"`
	NameCustomized bool   `json:"name_customized"`
	Mode           string `json:"mode"`
	ActiveLow      bool   `json:"active_low"`
	Enabled        bool   `json:"enabled"`
	State          bool   `json:"state"`
	HardwareState  bool   `json:"hardwareState"`
	Mismatch       bool   `json:"mismatch"`
	PWMDutyCycle   int    `json:"pwmDutyCycle"`
	Unavailable    bool   `json:"unavailable"`
}

// handleGPIO serves GET /api/gpio: the current Pin Registry snapshot.
func (s *Server) handleGPIO(w http.ResponseWriter, r *http.Request) {
	snapshot := s.cfg.Registry.Snapshot()
	out := make([]gpioResponse, 0, len(snapshot))
	for id, p := range snapshot {
		out = append(out, gpioResponse{
			Pin:            id,
			Name:           p.Name,
			DefaultName:    p.DefaultName,
			NameCustomized: p.NameCustomized,
			Mode:           string(p.Mode),
			ActiveLow:      p.ActiveLow,
			Enabled:        p.Enabled,
			State:          p.Desired,
			HardwareState:  p.Hardware,
			Mismatch:       p.Mismatch,
			PWMDutyCycle:   p.PWMDuty,
			Unavailable:    p.Unavailable,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// healthResponse backs GET /api/health: hostname, IP, pin count, current
// identifiers, and uptime-indicative fields.
type healthResponse struct {
	Serial   string  `json:"serial"`
	Hostname string  `json:"hostname"`
	IP       string  `json:"ip,omitempty"`
	PinCount int     `json:"pin_count"`
	UptimeS  float64 `json:"uptime_s"`
	BootTime uint64  `json:"host_boot_time,omitempty"`
}

// handleHealth serves GET /api/health. Hostname/IP/boot-time come from
// gopsutil's host package rather than hand-rolled /proc parsing, matching
// the teacher pack's use of gopsutil for host facts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Serial:   s.cfg.Serial,
		PinCount: s.cfg.Registry.Len(),
		UptimeS:  s.Uptime().Seconds(),
	}

	if info, err := host.Info(); err == nil {
		resp.Hostname = info.Hostname
		resp.BootTime = info.BootTime
	} else if hn, hErr := os.Hostname(); hErr == nil {
		resp.Hostname = hn
	}

	if ip := primaryIP(); ip != "" {
		resp.IP = ip
	}

	writeJSON(w, http.StatusOK, resp)
}

// primaryIP returns the first address gopsutil's net package reports for the
// first interface not named "lo", best-effort. The address is returned as
// reported (CIDR form) and may be IPv6.
func primaryIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range interfaces {
		if iface.Name == "lo" {
			continue
		}
		for _, addr := range iface.Addrs {
			if ip := addr.Addr; ip != "" {
				return ip
			}
		}
	}
	return ""
}

// handleLogs serves GET /api/logs?count=N&level=L: the last N in-memory log
// records, optionally filtered by level.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	count := 200
	if raw := r.URL.Query().Get("count"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			count = n
		}
	}
	level := r.URL.Query().Get("level")

	writeJSON(w, http.StatusOK, s.cfg.Ring.Last(count, level))
}

// handleEmergencyStop serves POST /api/emergency-stop. It returns 200 even
// when the sweep reported a driver fault: emergency-stop always runs to
// completion, and a partial fault does not mean the sweep failed to run.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if s.cfg.EmergencyStop == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "emergency stop not wired"})
		return
	}

	err := s.cfg.EmergencyStop()
	resp := map[string]any{"ok": true, "at": time.Now().UTC()}
	if err != nil {
		s.log.Error().Err(err).Msg("emergency stop reported at least one fault")
		resp["ok"] = false
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

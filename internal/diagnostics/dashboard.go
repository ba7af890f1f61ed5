package diagnostics

import (
	"html/template"
	"net/http"
)

// dashboardTemplate renders the auto-scrolling log viewer served at GET /.
// It polls /api/logs on an interval rather than opening its own websocket,
// keeping the page dependency-free; /api/logs/stream remains available for
// richer clients.
var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>harvestd — {{.Serial}}</title>
<style>
  body { background:#111; color:#ddd; font-family: monospace; margin: 0; padding: 1rem; }
  h1 { font-size: 1rem; color: #8f8; }
  #log { white-space: pre-wrap; height: 80vh; overflow-y: auto; border: 1px solid #333; padding: 0.5rem; }
  .warn { color: #fc6; }
  .error { color: #f66; }
</style>
</head>
<body>
<h1>harvestd diagnostics — device {{.Serial}}</h1>
<div id="log"></div>
<script>
const logEl = document.getElementById('log');
async function poll() {
  try {
    const res = await fetch('/api/logs?count=200');
    const records = await res.json();
    logEl.innerHTML = records.map(r => {
      const cls = r.level === 'error' ? 'error' : (r.level === 'warn' ? 'warn' : '');
      return '<div class="' + cls + '">[' + r.time + '] ' + r.level + ': ' + r.message + '</div>';
    }).join('');
    logEl.scrollTop = logEl.scrollHeight;
  } catch (e) {
    // transient fetch failure, retried on the next poll
  }
}
poll();
setInterval(poll, 3000);
</script>
</body>
</html>`))

type dashboardData struct {
	Serial string
}

// handleDashboard serves GET /.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = dashboardTemplate.Execute(w, dashboardData{Serial: s.cfg.Serial})
}

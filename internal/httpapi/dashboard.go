package httpapi

import "net/http"

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>NoteRelay Status</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --warn: #e88a3d;
      --danger: #c2483f;
      --muted: #6f7d7d;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      padding: 24px;
      font-family: "Space Grotesk", "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: linear-gradient(140deg, #fff9ef 0%, #f1f8f7 45%, #fffdf9 100%);
      min-height: 100vh;
    }
    h1 { font-size: 1.3rem; margin: 0 0 18px; }
    .grid {
      display: grid;
      grid-template-columns: repeat(auto-fit, minmax(180px, 1fr));
      gap: 14px;
      max-width: 880px;
    }
    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 12px;
      padding: 14px 16px;
    }
    .card .label { color: var(--muted); font-size: 0.78rem; text-transform: uppercase; letter-spacing: 0.06em; }
    .card .value { font-size: 1.5rem; margin-top: 6px; }
    .online { color: var(--accent); }
    .offline { color: var(--danger); }
    .limited { color: var(--warn); }
  </style>
</head>
<body>
  <h1>NoteRelay</h1>
  <div class="grid">
    <div class="card"><div class="label">Connection</div><div class="value" id="conn">&hellip;</div></div>
    <div class="card"><div class="label">Pending notes</div><div class="value" id="pending">&hellip;</div></div>
    <div class="card"><div class="label">Failed notes</div><div class="value" id="failed">&hellip;</div></div>
    <div class="card"><div class="label">Rate limit</div><div class="value" id="rate">&hellip;</div></div>
    <div class="card"><div class="label">Last sync</div><div class="value" id="drain">&hellip;</div></div>
  </div>
  <script>
    function render(s) {
      var conn = document.getElementById("conn");
      conn.textContent = s.online ? "online" : "offline";
      conn.className = "value " + (s.online ? "online" : "offline");
      document.getElementById("pending").textContent = s.pending;
      document.getElementById("failed").textContent = s.failed;
      var rate = document.getElementById("rate");
      rate.textContent = s.rateLimit && s.rateLimit.isLimited ? "limited" : "ok";
      rate.className = "value " + (s.rateLimit && s.rateLimit.isLimited ? "limited" : "online");
      var d = s.lastDrain || {};
      document.getElementById("drain").textContent = (d.synced || 0) + " sent / " + (d.failed || 0) + " failed";
    }
    fetch("/v1/status").then(function (r) { return r.json(); }).then(render);
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/v1/status/ws");
    ws.onmessage = function (ev) { render(JSON.parse(ev.data)); };
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardHTML))
}

package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>AI Employee Vault</title>
  <style>
    :root {
      --ink: #e8ecef;
      --bg: #12161b;
      --card: #1a2027;
      --line: #2c3641;
      --accent: #4cc38a;
      --accent-2: #d8a03d;
      --danger: #e5534b;
      --muted: #8b98a5;
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Inter", "Segoe UI", system-ui, sans-serif;
      color: var(--ink);
      background: var(--bg);
      min-height: 100vh;
      padding: 18px;
    }

    .shell {
      max-width: 1080px;
      margin: 0 auto;
      display: grid;
      gap: 12px;
    }

    .bar {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 12px;
      padding: 14px;
    }

    h1 {
      margin: 0;
      font-size: 1.3rem;
      letter-spacing: 0.01em;
    }

    .sub {
      margin-top: 4px;
      color: var(--muted);
      font-size: 0.85rem;
    }

    .controls {
      display: grid;
      gap: 8px;
      grid-template-columns: 2fr auto auto;
      margin-top: 10px;
    }

    .controls input {
      width: 100%;
      border-radius: 8px;
      border: 1px solid var(--line);
      background: #10151a;
      color: var(--ink);
      padding: 9px 11px;
      font-size: 0.9rem;
      outline: none;
    }

    .controls input:focus { border-color: var(--accent); }

    button {
      border: 0;
      border-radius: 8px;
      padding: 9px 14px;
      font-family: inherit;
      font-weight: 600;
      cursor: pointer;
      color: #0c1116;
      background: var(--accent);
    }

    button.secondary {
      background: transparent;
      color: var(--ink);
      border: 1px solid var(--line);
    }

    .status-line {
      margin-top: 8px;
      font-size: 0.8rem;
      color: var(--muted);
      display: flex;
      gap: 12px;
      flex-wrap: wrap;
    }

    .cards {
      display: grid;
      gap: 8px;
      grid-template-columns: repeat(6, 1fr);
    }

    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 10px;
      padding: 10px;
      text-align: center;
    }

    .card .label {
      text-transform: uppercase;
      letter-spacing: 0.08em;
      font-size: 0.62rem;
      color: var(--muted);
    }

    .card .value {
      margin-top: 4px;
      font-size: 1.4rem;
      font-weight: 700;
    }

    .grid {
      display: grid;
      gap: 10px;
      grid-template-columns: 1.1fr 1fr;
    }

    .panel {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 12px;
      padding: 12px;
      min-height: 220px;
    }

    .panel h2 {
      margin: 0 0 8px;
      font-size: 0.8rem;
      letter-spacing: 0.06em;
      text-transform: uppercase;
      color: var(--muted);
    }

    .feed {
      margin: 0;
      padding: 0;
      list-style: none;
      display: grid;
      gap: 6px;
      max-height: 320px;
      overflow: auto;
      font-size: 0.83rem;
    }

    .feed li {
      border: 1px solid var(--line);
      border-left: 3px solid var(--accent);
      border-radius: 8px;
      padding: 7px 9px;
      background: #151b22;
      line-height: 1.35;
      word-break: break-word;
    }

    .feed li.warning { border-left-color: var(--accent-2); }
    .feed li.error { border-left-color: var(--danger); }

    .mono { font-family: "SFMono-Regular", Menlo, Consolas, monospace; }
    .ok { color: var(--accent); }
    .warn { color: var(--accent-2); }
    .err { color: var(--danger); }

    @media (max-width: 860px) {
      .cards { grid-template-columns: repeat(3, 1fr); }
      .grid { grid-template-columns: 1fr; }
      .controls { grid-template-columns: 1fr; }
    }
  </style>
</head>
<body>
  <main class="shell">
    <section class="bar">
      <h1>AI Employee Vault</h1>
      <div class="sub">Pipeline counts, pending approvals, and the audit trail of the running employee.</div>
      <div class="controls">
        <input id="token" type="password" placeholder="API bearer token" autocomplete="off" />
        <button id="refresh" type="button">Refresh</button>
        <button id="toggle" class="secondary" type="button">Pause</button>
      </div>
      <div class="status-line">
        <span>Updated: <span id="lastUpdated">never</span></span>
        <span id="statusMessage">enter token to start</span>
      </div>
    </section>

    <section class="cards" id="stageCards"></section>

    <section class="grid">
      <article class="panel">
        <h2>Pending approvals</h2>
        <ul id="approvals" class="feed"></ul>
      </article>

      <article class="panel">
        <h2>Recent activity</h2>
        <ul id="activity" class="feed"></ul>
      </article>
    </section>
  </main>

  <script>
    (function () {
      const STAGES = ["Drop_Folder", "Needs_Action", "Pending_Approval", "Approved", "Rejected", "Done"];
      const state = { timer: null, intervalMs: 5000, paused: false };

      const dom = {
        token: document.getElementById("token"),
        refresh: document.getElementById("refresh"),
        toggle: document.getElementById("toggle"),
        lastUpdated: document.getElementById("lastUpdated"),
        statusMessage: document.getElementById("statusMessage"),
        stageCards: document.getElementById("stageCards"),
        approvals: document.getElementById("approvals"),
        activity: document.getElementById("activity"),
      };

      function cid() {
        return "dash_" + Date.now() + "_" + Math.random().toString(16).slice(2, 8);
      }

      async function request(path) {
        const token = dom.token.value.trim();
        if (!token) {
          throw new Error("missing token");
        }
        const response = await fetch(path, {
          headers: {
            "Authorization": "Bearer " + token,
            "X-Correlation-Id": cid(),
          },
        });
        const data = await response.json();
        if (!response.ok) {
          const detail = data && data.error ? data.error : {};
          throw new Error(response.status + " " + String(detail.code || "error") + ": " + String(detail.message || ""));
        }
        return data;
      }

      function setStatus(text, cls) {
        dom.statusMessage.textContent = text;
        dom.statusMessage.className = cls || "";
      }

      function renderCards(counts) {
        dom.stageCards.innerHTML = "";
        STAGES.forEach((stage) => {
          const card = document.createElement("article");
          card.className = "card";
          const label = document.createElement("div");
          label.className = "label";
          label.textContent = stage.replace("_", " ");
          const value = document.createElement("div");
          value.className = "value";
          value.textContent = String(counts && counts[stage] !== undefined ? counts[stage] : 0);
          card.appendChild(label);
          card.appendChild(value);
          dom.stageCards.appendChild(card);
        });
      }

      function renderEmpty(target, message) {
        target.innerHTML = "";
        const li = document.createElement("li");
        li.textContent = message;
        target.appendChild(li);
      }

      function renderApprovals(items) {
        if (!Array.isArray(items) || items.length === 0) {
          renderEmpty(dom.approvals, "Nothing waiting for review");
          return;
        }
        dom.approvals.innerHTML = "";
        items.forEach((rec) => {
          const li = document.createElement("li");
          li.classList.add("warning");
          const subject = rec.subject ? String(rec.subject) : String(rec.name || "");
          const to = rec.to ? " to " + String(rec.to) : "";
          li.textContent = "[" + String(rec.type || "request") + "] " + subject + to;
          dom.approvals.appendChild(li);
        });
      }

      function renderActivity(entries) {
        if (!Array.isArray(entries) || entries.length === 0) {
          renderEmpty(dom.activity, "No activity recorded today");
          return;
        }
        dom.activity.innerHTML = "";
        entries.slice().reverse().forEach((entry) => {
          const li = document.createElement("li");
          const result = String(entry.result || "success");
          if (result === "warning") {
            li.classList.add("warning");
          } else if (result === "error") {
            li.classList.add("error");
          }
          const at = String(entry.timestamp || "").replace("T", " ").replace("Z", "");
          li.textContent = at + " " + String(entry.action_type || "") + " (" + String(entry.actor || "") + "): " + String(entry.details || "");
          dom.activity.appendChild(li);
        });
      }

      async function refresh() {
        setStatus("refreshing...", "warn");
        try {
          const [status, approvals] = await Promise.all([
            request("/api/v1/status"),
            request("/api/v1/records?stage=Pending_Approval&limit=50"),
          ]);
          renderCards(status.counts || {});
          renderActivity(status.recent_log || []);
          renderApprovals(approvals.items || []);
          dom.lastUpdated.textContent = new Date().toLocaleTimeString();
          setStatus("ok", "ok");
          window.localStorage.setItem("vault_dashboard_token", dom.token.value.trim());
        } catch (err) {
          setStatus(String(err && err.message ? err.message : err), "err");
        }
      }

      function ensureTimer() {
        if (state.timer) {
          clearInterval(state.timer);
          state.timer = null;
        }
        if (!state.paused) {
          state.timer = setInterval(refresh, state.intervalMs);
        }
      }

      dom.refresh.addEventListener("click", refresh);
      dom.toggle.addEventListener("click", function () {
        state.paused = !state.paused;
        dom.toggle.textContent = state.paused ? "Resume" : "Pause";
        ensureTimer();
      });
      dom.token.addEventListener("change", refresh);

      dom.token.value = window.localStorage.getItem("vault_dashboard_token") || "";
      renderCards({});
      renderEmpty(dom.approvals, "Nothing waiting for review");
      renderEmpty(dom.activity, "No activity recorded today");

      ensureTimer();
      if (dom.token.value) {
        refresh();
      }
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}

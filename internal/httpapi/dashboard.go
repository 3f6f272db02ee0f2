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
  <title>DriveRelay Control Surface</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --accent-2: #e88a3d;
      --danger: #c2483f;
      --muted: #6f7d7d;
      --shadow: 0 18px 36px rgba(16, 34, 35, 0.16);
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Space Grotesk", "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background:
        radial-gradient(1200px 500px at -5% -10%, rgba(232, 138, 61, 0.18), transparent 60%),
        radial-gradient(900px 500px at 110% -10%, rgba(31, 157, 136, 0.2), transparent 65%),
        linear-gradient(140deg, #fff9ef 0%, #f1f8f7 45%, #fffdf9 100%);
      min-height: 100vh;
      padding: 20px;
    }

    .shell {
      max-width: 1240px;
      margin: 0 auto;
      display: grid;
      gap: 14px;
    }

    .bar {
      background: linear-gradient(140deg, #fffefc, #fcf6eb);
      border: 1px solid var(--line);
      border-radius: 18px;
      padding: 16px;
      box-shadow: var(--shadow);
    }

    h1 {
      margin: 0;
      font-size: clamp(1.2rem, 2vw, 1.75rem);
      letter-spacing: 0.02em;
    }

    .sub {
      margin-top: 6px;
      color: var(--muted);
      font-size: 0.9rem;
    }

    .controls {
      display: grid;
      gap: 10px;
      grid-template-columns: 1.4fr 0.8fr 0.5fr 0.5fr;
      margin-top: 12px;
    }

    .controls input {
      width: 100%;
      border-radius: 10px;
      border: 1px solid var(--line);
      background: #ffffff;
      color: var(--ink);
      padding: 10px 12px;
      font-size: 0.92rem;
      outline: none;
    }

    .controls input:focus {
      border-color: var(--accent);
      box-shadow: 0 0 0 3px rgba(31, 157, 136, 0.15);
    }

    button {
      border: 1px solid var(--line);
      border-radius: 10px;
      background: #ffffff;
      color: var(--ink);
      padding: 10px 12px;
      font-size: 0.92rem;
      cursor: pointer;
    }

    button:hover { border-color: var(--accent); }

    .grid {
      display: grid;
      gap: 14px;
      grid-template-columns: repeat(auto-fit, minmax(280px, 1fr));
    }

    .panel {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 16px;
      padding: 14px;
      box-shadow: var(--shadow);
      overflow: auto;
    }

    .panel h2 {
      margin: 0 0 10px;
      font-size: 1rem;
      letter-spacing: 0.03em;
      text-transform: uppercase;
      color: var(--muted);
    }

    .stat {
      font-size: 1.6rem;
      font-weight: 600;
      white-space: pre-line;
    }

    table { width: 100%; border-collapse: collapse; font-size: 0.85rem; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--line); }
    th { color: var(--muted); font-weight: 500; }

    .mono { font-family: "JetBrains Mono", "SF Mono", monospace; font-size: 0.82rem; }
    .ok { color: var(--accent); }
    .warn { color: var(--accent-2); }
    .err { color: var(--danger); }

    .feed { list-style: none; margin: 0; padding: 0; font-size: 0.85rem; }
    .feed li { padding: 5px 0; border-bottom: 1px dashed var(--line); }
  </style>
</head>
<body>
  <main class="shell">
    <header class="bar" id="topBar">
      <h1>DriveRelay Control Surface</h1>
      <p class="sub">api: <span id="apiBase" class="mono">-</span> | updated: <span id="lastUpdated">-</span> | <span id="statusMessage">-</span></p>
      <div class="controls">
        <input id="token" type="password" placeholder="bearer token (admin:read + uploads:read)" autocomplete="off" />
        <input id="requester" type="text" placeholder="requester id" autocomplete="off" />
        <button id="refresh" type="button">Refresh</button>
        <button id="toggle" type="button">Pause Auto</button>
      </div>
    </header>

    <section class="grid">
      <article class="panel">
        <h2>Upload Queue</h2>
        <div class="stat" id="queueStat">-</div>
        <p class="sub">active task: <span id="activeTask" class="mono">-</span></p>
      </article>

      <article class="panel">
        <h2>Counters</h2>
        <table>
          <tbody>
            <tr><th>Admitted</th><td id="cAdmitted">-</td></tr>
            <tr><th>Completed</th><td id="cCompleted" class="ok">-</td></tr>
            <tr><th>Failed</th><td id="cFailed" class="err">-</td></tr>
            <tr><th>Rejected (size)</th><td id="cRejected" class="warn">-</td></tr>
            <tr><th>Rate limited</th><td id="cRateLimited" class="warn">-</td></tr>
          </tbody>
        </table>
      </article>
    </section>

    <section class="grid">
      <article class="panel">
        <h2>Requester Uploads</h2>
        <table>
          <thead>
            <tr>
              <th>Task</th>
              <th>State</th>
              <th>%</th>
              <th>Name</th>
              <th>Result</th>
            </tr>
          </thead>
          <tbody id="uploadRows"></tbody>
        </table>
      </article>

      <article class="panel">
        <h2>Event Trail</h2>
        <ul id="eventFeed" class="feed"></ul>
      </article>
    </section>
  </main>

  <script>
    (function () {
      const store = {
        timer: null,
        intervalMs: 5000,
        paused: false,
      };

      const dom = {
        token: document.getElementById("token"),
        requester: document.getElementById("requester"),
        refresh: document.getElementById("refresh"),
        toggle: document.getElementById("toggle"),
        apiBase: document.getElementById("apiBase"),
        lastUpdated: document.getElementById("lastUpdated"),
        statusMessage: document.getElementById("statusMessage"),
        queueStat: document.getElementById("queueStat"),
        activeTask: document.getElementById("activeTask"),
        cAdmitted: document.getElementById("cAdmitted"),
        cCompleted: document.getElementById("cCompleted"),
        cFailed: document.getElementById("cFailed"),
        cRejected: document.getElementById("cRejected"),
        cRateLimited: document.getElementById("cRateLimited"),
        uploadRows: document.getElementById("uploadRows"),
        eventFeed: document.getElementById("eventFeed"),
      };

      function getBase() {
        return window.location.origin;
      }

      function getToken() {
        return dom.token.value.trim();
      }

      function getRequester() {
        return dom.requester.value.trim();
      }

      function cid(prefix) {
        return prefix + "_" + Date.now() + "_" + Math.random().toString(16).slice(2, 8);
      }

      async function request(path) {
        const token = getToken();
        if (!token) {
          throw new Error("missing token");
        }
        const response = await fetch(getBase() + path, {
          headers: {
            "Authorization": "Bearer " + token,
            "X-Correlation-Id": cid("dash"),
          },
        });
        const text = await response.text();
        let data;
        try {
          data = JSON.parse(text);
        } catch (err) {
          throw new Error("non-json response: " + text.slice(0, 220));
        }
        if (!response.ok) {
          const code = data.code ? String(data.code) : "error";
          const msg = data.message ? String(data.message) : response.statusText;
          throw new Error(response.status + " " + code + ": " + msg);
        }
        return data;
      }

      function setStatus(text, cls) {
        dom.statusMessage.textContent = text;
        dom.statusMessage.className = cls || "";
      }

      function renderUploads(items) {
        dom.uploadRows.innerHTML = "";
        if (!Array.isArray(items) || items.length === 0) {
          const tr = document.createElement("tr");
          tr.innerHTML = "<td colspan=\"5\">No upload tasks</td>";
          dom.uploadRows.appendChild(tr);
          return;
        }
        items.slice(0, 30).forEach((task) => {
          const tr = document.createElement("tr");
          const state = String(task.state || "-");
          const stateClass = state === "completed" ? "ok" : (state === "failed" ? "err" : "warn");
          const result = task.remoteFileId ? String(task.remoteFileId) : (task.failureReason ? String(task.failureReason) : "-");
          tr.innerHTML =
            "<td class=\"mono\">" + String(task.taskId || "-") + "</td>" +
            "<td class=\"" + stateClass + "\">" + state + "</td>" +
            "<td>" + String(task.progressPercent || 0) + "</td>" +
            "<td>" + String(task.displayName || "-") + "</td>" +
            "<td class=\"mono\">" + result + "</td>";
          dom.uploadRows.appendChild(tr);
        });
      }

      function renderEvents(items) {
        dom.eventFeed.innerHTML = "";
        if (!Array.isArray(items) || items.length === 0) {
          const li = document.createElement("li");
          li.textContent = "No events";
          dom.eventFeed.appendChild(li);
          return;
        }
        items.slice(0, 40).forEach((ev) => {
          const li = document.createElement("li");
          const detail = ev.detail ? (" | " + String(ev.detail)) : "";
          const state = ev.state ? (" | " + String(ev.state)) : "";
          li.textContent = String(ev.timestamp || "-") + " | " + String(ev.taskId || "-") + " | " + String(ev.type || "-") + state + detail;
          dom.eventFeed.appendChild(li);
        });
      }

      async function refresh() {
        const requester = getRequester();
        setStatus("refreshing...", "warn");

        try {
          const [queue, events] = await Promise.all([
            request("/v1/admin/queue"),
            request("/v1/admin/events?limit=40"),
          ]);

          let uploads = { items: [] };
          let partialError = "";
          if (requester) {
            try {
              uploads = await request("/v1/requesters/" + encodeURIComponent(requester) + "/uploads?limit=30");
            } catch (err) {
              partialError = "uploads: " + String(err && err.message ? err.message : err);
            }
          }

          dom.queueStat.textContent = String(queue.queueDepth || 0) + "/" + String(queue.queueCapacity || 0);
          dom.activeTask.textContent = queue.activeTaskId ? String(queue.activeTaskId) : "idle";
          const counters = queue.counters || {};
          dom.cAdmitted.textContent = String(counters.admittedTotal || 0);
          dom.cCompleted.textContent = String(counters.completedTotal || 0);
          dom.cFailed.textContent = String(counters.failedTotal || 0);
          dom.cRejected.textContent = String(counters.rejectedTotal || 0);
          dom.cRateLimited.textContent = String(counters.rateLimitedTotal || 0);

          renderUploads(uploads.items || []);
          renderEvents(events.items || []);

          dom.lastUpdated.textContent = new Date().toLocaleTimeString();
          if (partialError) {
            setStatus("partial: " + partialError, "warn");
          } else {
            setStatus("ok", "ok");
          }
          window.localStorage.setItem("driverelay_dashboard_token", getToken());
          window.localStorage.setItem("driverelay_dashboard_requester", requester);
        } catch (err) {
          setStatus(String(err && err.message ? err.message : err), "err");
        }
      }

      function ensureTimer() {
        if (store.timer) {
          clearInterval(store.timer);
          store.timer = null;
        }
        if (!store.paused) {
          store.timer = setInterval(refresh, store.intervalMs);
        }
      }

      dom.refresh.addEventListener("click", refresh);
      dom.toggle.addEventListener("click", function () {
        store.paused = !store.paused;
        dom.toggle.textContent = store.paused ? "Resume Auto" : "Pause Auto";
        ensureTimer();
      });
      dom.token.addEventListener("change", refresh);
      dom.requester.addEventListener("change", refresh);

      const savedToken = window.localStorage.getItem("driverelay_dashboard_token") || "";
      const savedRequester = window.localStorage.getItem("driverelay_dashboard_requester") || "";
      dom.token.value = savedToken;
      dom.requester.value = savedRequester;
      dom.apiBase.textContent = getBase();

      ensureTimer();
      if (savedToken) {
        refresh();
      } else {
        setStatus("enter token to start", "warn");
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

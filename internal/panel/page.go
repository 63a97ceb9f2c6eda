package panel

import (
	"net/http"

	"github.com/rendis/relaysim/internal/diagram"
	"github.com/rendis/relaysim/internal/engine"
)

type indexData struct {
	Title   string
	Snap    engine.Snapshot
	Mermaid string
}

func (s *PanelServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Runner.Snapshot()
	s.renderPage(w, indexData{
		Title:   s.deps.Title,
		Snap:    snap,
		Mermaid: diagram.RenderMermaid(diagram.Build(diagramInput(s.deps.Title, snap))),
	})
}

// indexHTML is the status page. It reloads itself on every run event.
const indexHTML = `{{define "index"}}<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
.badge { padding: 0 .4rem; border-radius: .3rem; color: #fff; font-size: .8rem; }
.badge-success { background: #2d6a2d; }
.badge-active { background: #1a5276; }
.badge-secondary { background: #6b6b6b; }
table { border-collapse: collapse; }
td, th { padding: .2rem .8rem; text-align: left; }
pre { background: #f4f4f4; padding: .6rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>
  <button onclick="post('/api/run', {mode: 'streaming'})">Run (streaming)</button>
  <button onclick="post('/api/run', {mode: 'non-streaming'})">Run (non-streaming)</button>
  <button onclick="post('/api/stop')">Stop</button>
  <span>phase: <code>{{.Snap.Phase}}</code>{{if .Snap.Mode}} mode: <code>{{.Snap.Mode}}</code>{{end}}</span>
</p>

<h2>Stages</h2>
<table>
{{range .Snap.Stages}}<tr>
  <td>{{.Name}}</td>
  <td><span class="badge {{statusBadge (printf "%s" .Status)}}">{{.Status}}</span></td>
  <td>{{duration .DurationMs}}</td>
</tr>{{end}}
</table>

<h2>Items</h2>
{{if .Snap.Items}}<ol>
{{range .Snap.Items}}<li><code>{{.Kind}}</code> {{truncate .Text 60}}{{.ToolName}} {{.FinishReason}}{{with .Usage}}in={{.Input}} out={{.Output}}{{end}}</li>
{{end}}</ol>{{else}}<p>none yet</p>{{end}}

<h2>Merged</h2>
{{with .Snap.Merged}}<pre>content: {{.Content}}
tool calls: {{range .ToolCalls}}{{.}} {{end}}
finish: {{.FinishReason}}{{with .Usage}}
usage: {{.Input}}/{{.Output}}{{end}}</pre>{{else}}<p>available once transport completes</p>{{end}}

<h2>Log</h2>
<pre>{{range .Snap.Logs}}{{.Timestamp}} {{.Text}}
{{end}}</pre>

<h2>Diagram</h2>
<pre class="mermaid">{{.Mermaid}}</pre>

<script>
function post(path, body) {
  fetch(path, {method: 'POST', headers: {'Content-Type': 'application/json'}, body: JSON.stringify(body || {})});
}
const es = new EventSource('/sse/events');
es.onmessage = () => location.reload();
['run_started','run_stopped','run_completed','stage_active','stage_complete','item_appended','items_revealed','merge_computed'].forEach(
  (t) => es.addEventListener(t, () => location.reload()));
</script>
</body>
</html>{{end}}`

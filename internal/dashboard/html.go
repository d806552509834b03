package dashboard

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>CropScan Live Detection</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        :root { --bg:#0f172a; --panel:#111827; --text:#e5e7eb; --muted:#9ca3af; --accent:#22c55e; --danger:#ef4444; }
        body { margin:0; font-family:system-ui,sans-serif; background:var(--bg); color:var(--text); }
        .app { max-width:1200px; margin:0 auto; padding:16px; }
        .header { display:flex; justify-content:space-between; align-items:center; margin-bottom:16px; }
        .title { font-size:22px; font-weight:600; }
        .badge { padding:4px 10px; border-radius:999px; background:#374151; font-size:12px; }
        .badge.streaming { background:var(--accent); color:#052e16; }
        .grid { display:grid; grid-template-columns:2fr 1fr; gap:16px; }
        .panel { background:var(--panel); border-radius:8px; padding:14px; }
        .controls { display:flex; gap:8px; margin-bottom:10px; }
        .controls input { flex:1; padding:6px 8px; background:#1f2937; color:var(--text); border:1px solid #374151; border-radius:4px; }
        button { padding:6px 12px; border:0; border-radius:4px; background:#374151; color:var(--text); cursor:pointer; }
        button.primary { background:var(--accent); color:#052e16; }
        button.danger { background:var(--danger); }
        #stream { width:100%; background:#000; display:block; }
        .stat { display:flex; justify-content:space-between; padding:4px 0; border-bottom:1px solid #1f2937; }
        .muted { color:var(--muted); font-size:12px; }
        #events { max-height:240px; overflow-y:auto; font-family:monospace; font-size:12px; }
        #report { white-space:pre-wrap; font-family:monospace; font-size:12px; max-height:360px; overflow-y:auto; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">CropScan Live Detection</div>
            <span class="badge" id="state-badge">idle</span>
        </div>
        <div class="grid">
            <div class="panel">
                <div class="controls">
                    <input id="source" placeholder="camera:http://bridge/snapshot.jpg | file:/path | http://host/stream.mjpg">
                    <button class="primary" id="btn-start">Start</button>
                    <button class="danger" id="btn-stop">Stop</button>
                    <button id="btn-report">Report</button>
                </div>
                <img id="stream" src="/stream" alt="Live overlay stream">
                <div class="controls" style="margin-top:10px;">
                    <button id="btn-rec-start">Record</button>
                    <button id="btn-rec-stop">Stop recording</button>
                    <label class="muted"><input type="checkbox" id="llm"> LLM narrative</label>
                </div>
                <p class="muted" id="error"></p>
            </div>
            <div class="panel">
                <h3>Stats</h3>
                <div class="stat"><span>Inference FPS</span><span id="fps">-</span></div>
                <div class="stat"><span>Avg latency</span><span id="latency">-</span></div>
                <div class="stat"><span>Detection rate</span><span id="rate">-</span></div>
                <div class="stat"><span>Ticks</span><span id="ticks">-</span></div>
                <div class="stat"><span>Skipped ticks</span><span id="skipped">-</span></div>
                <div class="stat"><span>Recording</span><span id="recording">-</span></div>
                <h3>Detections</h3>
                <div id="events"></div>
            </div>
        </div>
        <div class="panel" style="margin-top:16px;">
            <h3>Session report</h3>
            <div id="report" class="muted">Stop a session to generate its report.</div>
        </div>
    </div>
    <script>
        const $ = (id) => document.getElementById(id);

        async function post(path, body) {
            const res = await fetch(path, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: body ? JSON.stringify(body) : '{}',
            });
            const data = await res.json();
            if (!res.ok) { throw new Error(data.error || res.statusText); }
            return data;
        }

        function showError(err) { $('error').textContent = err ? String(err.message || err) : ''; }

        $('btn-start').onclick = () => post('/api/session/start', { source: $('source').value })
            .then(() => showError(null)).catch(showError);
        $('btn-stop').onclick = () => post('/api/session/stop').then(() => showError(null)).catch(showError);
        $('btn-report').onclick = () => post('/api/session/report' + ($('llm').checked ? '?llm=1' : ''))
            .then((data) => { $('report').textContent = JSON.stringify(data, null, 2); showError(null); })
            .catch(showError);
        $('btn-rec-start').onclick = () => post('/api/recording/start').catch(showError);
        $('btn-rec-stop').onclick = () => post('/api/recording/stop').catch(showError);

        const status = new EventSource('/api/status/stream');
        status.onmessage = (e) => {
            const s = JSON.parse(e.data);
            $('state-badge').textContent = s.state;
            $('state-badge').className = 'badge ' + s.state;
            $('recording').textContent = s.recording ? 'yes' : 'no';
            $('skipped').textContent = s.skipped_ticks;
            if (s.error) { showError(s.error); }
            if (!s.stats) { return; }
            $('fps').textContent = s.stats.inference_fps.toFixed(1);
            $('latency').textContent = Math.round(s.stats.avg_latency_ms) + 'ms';
            $('rate').textContent = s.stats.detection_rate.toFixed(1) + '%';
            $('ticks').textContent = s.stats.detected_ticks + ' / ' + s.stats.total_ticks;
        };

        const detections = new EventSource('/api/detections/stream');
        detections.onmessage = (e) => {
            const ev = JSON.parse(e.data);
            if (!ev.boxes || ev.boxes.length === 0) { return; }
            const line = document.createElement('div');
            const t = new Date(ev.timestamp).toLocaleTimeString();
            line.textContent = t + '  ' + ev.boxes.map((b) => b.class + ' ' + Math.round(b.confidence) + '%').join(', ');
            $('events').prepend(line);
            while ($('events').childElementCount > 50) { $('events').lastChild.remove(); }
        };
    </script>
</body>
</html>
`

package server

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Threat Cam</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; padding: 20px; }
        .feed { max-width: 960px; margin: 0 auto; }
        .feed img { width: 100%; border: 1px solid #333; background: #000; }
        #alert { font-size: 1.4em; margin: 12px 0; }
        #alert.critical { color: #ff4040; font-weight: bold; }
        .status { color: #999; }
    </style>
</head>
<body>
    <div class="feed">
        <h1>Threat Cam</h1>
        <div id="alert">No threats detected.</div>
        <div class="status">Camera: <span id="camera-status">offline</span></div>
        <img src="/video_feed" alt="Live feed">
        <p><a href="/video_feed">Open raw stream</a></p>
    </div>
    <script>
        const alertEl = document.getElementById('alert');
        const statusEl = document.getElementById('camera-status');
        const events = new EventSource('/api/alert/stream');
        events.onmessage = (e) => {
            const data = JSON.parse(e.data);
            alertEl.textContent = data.message;
            alertEl.className = data.message === 'No threats detected.' ? '' : 'critical';
            statusEl.textContent = data.camera_status;
        };
    </script>
</body>
</html>
`

package dashboard

// getStaticAsset returns a static asset by name.
// Returns the content, content type, and whether the asset was found.
func getStaticAsset(name string) (content string, contentType string, ok bool) {
	switch name {
	case "style.css":
		return cssStyles, "text/css", true
	case "app.js":
		return jsApp, "application/javascript", true
	default:
		return "", "", false
	}
}

const cssStyles = `
body { margin: 0; background: #111827; color: #e5e7eb; font-family: system-ui, sans-serif; }
a { color: #60a5fa; text-decoration: none; }
a:hover { text-decoration: underline; }
main { max-width: 1100px; margin: 0 auto; padding: 24px; }
.mono { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, monospace; }

.nav { display: flex; align-items: center; gap: 20px; padding: 12px 24px; background: #1f2937; border-bottom: 1px solid #374151; }
.nav .brand { font-weight: 700; color: #f9fafb; }
.nav a { color: #9ca3af; }
.nav a.active { color: #f9fafb; }
.nav .clock { margin-left: auto; color: #6b7280; font-size: 12px; }

.cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(200px, 1fr)); gap: 16px; margin-bottom: 24px; }
.card, .panel { background: #1f2937; border: 1px solid #374151; border-radius: 8px; padding: 20px; }
.panel { margin-bottom: 24px; }
.label { margin: 0; color: #9ca3af; font-size: 13px; }
.value { margin: 4px 0 0; font-size: 28px; font-weight: 700; }
.hint { margin: 6px 0 0; color: #6b7280; font-size: 13px; }
.ok { color: #22c55e; }
.bad { color: #ef4444; }
.alert { background: rgba(127, 29, 29, 0.5); border: 1px solid #ef4444; border-radius: 8px; padding: 12px; margin: 12px 0; }

table { width: 100%; border-collapse: collapse; margin: 8px 0 16px; }
th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #374151; font-size: 14px; }
.kv th { width: 180px; color: #9ca3af; font-weight: 500; }
.list thead th { color: #9ca3af; font-weight: 500; }

.progress { height: 10px; background: #374151; border-radius: 5px; overflow: hidden; }
.progress div { height: 100%; background: #3b82f6; }

.search { display: flex; gap: 8px; margin-bottom: 16px; }
.search input { flex: 1; padding: 8px; background: #111827; color: #e5e7eb; border: 1px solid #374151; border-radius: 6px; }
.search button { padding: 8px 16px; background: #2563eb; color: white; border: 0; border-radius: 6px; cursor: pointer; }

.logs { background: #111827; padding: 12px; border-radius: 6px; max-height: 300px; overflow: auto; white-space: pre-wrap; word-break: break-all; font-size: 12px; }
`

const jsApp = `
(function() {
    'use strict';

    const refreshInterval = 5000;

    document.addEventListener('DOMContentLoaded', function() {
        updateTime();
        setInterval(updateTime, 1000);

        if (window.location.pathname === '/') {
            setInterval(refreshStatus, refreshInterval);
        }
    });

    function updateTime() {
        const el = document.getElementById('current-time');
        if (el) {
            el.textContent = new Date().toUTCString();
        }
    }

    function setText(id, text) {
        const el = document.getElementById(id);
        if (el) {
            el.textContent = text;
        }
    }

    async function refreshStatus() {
        try {
            const resp = await fetch('/api/status');
            if (!resp.ok) {
                return;
            }
            const status = await resp.json();
            setText('current-slot', status.currentSlot.toLocaleString());
            setText('txs-processed', status.txsProcessed.toLocaleString());
            setText('txs-failed', status.txsFailed.toLocaleString());
            setText('uptime', status.uptime);
            setText('node-status', status.isRunning ? 'Running' : 'Stopped');
        } catch (e) {
            console.error('status refresh failed', e);
        }
    }
})();
`

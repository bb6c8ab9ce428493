package dashboard

// HTML templates for the dashboard pages, parsed once by New.

const layoutTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>stratus-ico</title>
    <link rel="stylesheet" href="/static/style.css">
</head>
<body>
    <nav class="nav">
        <a class="brand" href="/">stratus-ico</a>
        <a href="/" {{if eq .PageName "home"}}class="active"{{end}}>Overview</a>
        <a href="/transactions" {{if or (eq .PageName "transactions") (eq .PageName "transaction")}}class="active"{{end}}>Transactions</a>
        <a href="/accounts" {{if eq .PageName "accounts"}}class="active"{{end}}>Accounts</a>
        <span class="clock mono" id="current-time"></span>
    </nav>
    <main>
        {{.Content}}
    </main>
    <script src="/static/app.js"></script>
</body>
</html>
`

const homeTemplate = `
<section class="cards">
    <div class="card">
        <p class="label">Current Slot</p>
        <p class="value" id="current-slot">{{formatNumber .Status.CurrentSlot}}</p>
    </div>
    <div class="card">
        <p class="label">Status</p>
        <p class="value {{if .Status.IsRunning}}ok{{else}}bad{{end}}" id="node-status">{{if .Status.IsRunning}}Running{{else}}Stopped{{end}}</p>
    </div>
    <div class="card">
        <p class="label">Transactions</p>
        <p class="value" id="txs-processed">{{formatNumber .Status.TxsProcessed}}</p>
        <p class="hint"><span id="txs-failed">{{formatNumber .Status.TxsFailed}}</span> failed</p>
    </div>
    <div class="card">
        <p class="label">Uptime</p>
        <p class="value" id="uptime">{{.Status.Uptime}}</p>
    </div>
</section>

{{if .Status.LastError}}
<div class="alert">{{.Status.LastError}}</div>
{{end}}

<section class="panel">
    <h2>Sale</h2>
    {{with .Sale}}
    <table class="kv">
        <tr><th>Program</th><td class="mono">{{.ProgramID}}</td></tr>
        <tr><th>Mint</th><td class="mono"><a href="/accounts?q={{.Mint}}">{{.Mint}}</a></td></tr>
        <tr><th>Record</th><td class="mono"><a href="/accounts?q={{.State}}">{{.State}}</a></td></tr>
        <tr><th>Escrow</th><td class="mono"><a href="/accounts?q={{.Escrow}}">{{.Escrow}}</a></td></tr>
    </table>
    {{if .Error}}<div class="alert">{{.Error}}</div>{{end}}
    {{if .Initialized}}
    {{with .Record}}
    <table class="kv">
        <tr><th>Admin</th><td class="mono">{{.Admin}}</td></tr>
        <tr><th>Rate</th><td>{{formatNumber .Rate}} base units per lamport</td></tr>
        <tr><th>Escrow balance</th><td>{{formatTokens .TokenBalance .Decimals}}</td></tr>
        <tr><th>Sold</th><td>{{formatTokens .TotalSold .Decimals}}</td></tr>
        <tr><th>Received</th><td>{{formatNumber .TotalReceived}} lamports</td></tr>
    </table>
    {{end}}
    <div class="progress"><div style="width: {{printf "%.1f" (percent .Record.TotalSold .Supply)}}%"></div></div>
    <p class="hint">{{printf "%.1f" (percent .Record.TotalSold .Supply)}}% of {{formatTokens .Supply .Record.Decimals}} sold</p>
    <p class="hint mono">digest {{.Digest}}</p>
    {{else}}
    <p class="hint">The sale has not been initialized.</p>
    {{end}}
    {{end}}
</section>
`

const transactionsTemplate = `
<section class="panel">
    <h2>Sale Transactions</h2>
    {{if .Error}}<div class="alert">{{.Error}}</div>{{end}}
    {{if .Transactions}}
    <table class="list">
        <thead><tr><th>Signature</th><th>Slot</th><th>Time</th><th>Result</th></tr></thead>
        <tbody>
        {{range .Transactions}}
        <tr>
            <td class="mono"><a href="/transactions/{{.Signature}}">{{truncateHash .Signature 8}}</a></td>
            <td>{{.Slot}}</td>
            <td>{{formatTime .BlockTime}}</td>
            <td>{{if .Success}}<span class="ok">Success</span>{{else}}<span class="bad">{{.Error}}</span>{{end}}</td>
        </tr>
        {{end}}
        </tbody>
    </table>
    {{if .Next}}<p><a href="/transactions?before={{.Next}}">Older</a></p>{{end}}
    {{else}}
    <p class="hint">No transactions yet.</p>
    {{end}}
</section>
`

const transactionTemplate = `
<section class="panel">
    <h2>Transaction</h2>
    {{if .Error}}
    <div class="alert">{{.Error}}</div>
    <p class="mono">{{.Signature}}</p>
    {{else}}
    {{with .Transaction}}
    <table class="kv">
        <tr><th>Signature</th><td class="mono">{{.Signature}}</td></tr>
        <tr><th>Slot</th><td>{{.Slot}}</td></tr>
        <tr><th>Time</th><td>{{formatTime .BlockTime}}</td></tr>
        <tr><th>Result</th><td>{{if .Success}}<span class="ok">Success</span>{{else}}<span class="bad">{{.ErrorKind}}{{if .ErrorCode}} ({{.ErrorCode}}){{end}}: {{.Error}}</span>{{end}}</td></tr>
        <tr><th>Compute units</th><td>{{.ComputeUnitsConsumed}}</td></tr>
        {{if .SaleStateDigest}}<tr><th>Sale digest</th><td class="mono">{{.SaleStateDigest}}</td></tr>{{end}}
    </table>
    <h3>Accounts</h3>
    <table class="list">
        <thead><tr><th>#</th><th>Address</th><th>Before</th><th>After</th></tr></thead>
        <tbody>
        {{$pre := .PreBalances}}{{$post := .PostBalances}}
        {{range $i, $key := .Accounts}}
        <tr>
            <td>{{$i}}</td>
            <td class="mono"><a href="/accounts?q={{$key}}">{{$key}}</a></td>
            <td>{{if lt $i (len $pre)}}{{index $pre $i}}{{end}}</td>
            <td>{{if lt $i (len $post)}}{{index $post $i}}{{end}}</td>
        </tr>
        {{end}}
        </tbody>
    </table>
    {{if .LogMessages}}
    <h3>Logs</h3>
    <pre class="logs">{{range .LogMessages}}{{.}}
{{end}}</pre>
    {{end}}
    {{end}}
    {{end}}
</section>
`

const accountsTemplate = `
<section class="panel">
    <h2>Account Lookup</h2>
    <form action="/accounts" method="get" class="search">
        <input type="text" name="q" value="{{.Query}}" placeholder="Public key" class="mono">
        <button type="submit">Search</button>
    </form>
    {{if .SearchErr}}<div class="alert">{{.SearchErr}}</div>{{end}}
    {{with .Account}}
    <table class="kv">
        <tr><th>Address</th><td class="mono">{{.Pubkey}}</td></tr>
        <tr><th>Lamports</th><td>{{formatNumber .Lamports}}</td></tr>
        <tr><th>Owner</th><td class="mono">{{.Owner}}</td></tr>
        <tr><th>Data</th><td>{{.DataLen}} bytes</td></tr>
    </table>
    {{with .Mint}}
    <h3>Mint</h3>
    <table class="kv">
        <tr><th>Supply</th><td>{{formatTokens .Supply .Decimals}}</td></tr>
        <tr><th>Decimals</th><td>{{.Decimals}}</td></tr>
        <tr><th>Mint authority</th><td class="mono">{{if .MintAuthority}}{{.MintAuthority}}{{else}}none{{end}}</td></tr>
    </table>
    {{end}}
    {{with .Token}}
    <h3>Token Account</h3>
    <table class="kv">
        <tr><th>Mint</th><td class="mono">{{.Mint}}</td></tr>
        <tr><th>Owner</th><td class="mono">{{.Owner}}</td></tr>
        <tr><th>Amount</th><td>{{formatNumber .Amount}}</td></tr>
        {{if .Frozen}}<tr><th>State</th><td class="bad">Frozen</td></tr>{{end}}
    </table>
    {{end}}
    {{with .Sale}}
    <h3>Sale Record</h3>
    <table class="kv">
        <tr><th>Admin</th><td class="mono">{{.Admin}}</td></tr>
        <tr><th>Rate</th><td>{{formatNumber .Rate}}</td></tr>
        <tr><th>Escrow balance</th><td>{{formatTokens .TokenBalance .Decimals}}</td></tr>
        <tr><th>Sold</th><td>{{formatTokens .TotalSold .Decimals}}</td></tr>
        <tr><th>Received</th><td>{{formatNumber .TotalReceived}} lamports</td></tr>
    </table>
    {{end}}
    {{if .DataHex}}
    <h3>Data</h3>
    <pre class="logs mono">{{.DataHex}}</pre>
    {{end}}
    {{end}}
</section>
`

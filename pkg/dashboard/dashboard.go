// Package dashboard provides an embedded web dashboard for monitoring a
// stratus-ico node.
//
// The dashboard provides:
// - Node health and transaction counters
// - The sale record with escrow balance and progress
// - Recent sale transactions and transaction details
// - Account lookup by public key, decoding token and sale accounts
//
// Pages and assets are compiled into the binary.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fortiblox/stratus-ico/internal/log"
	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/blockstore"
	"github.com/fortiblox/stratus-ico/pkg/ico"
)

// Config holds dashboard configuration options.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Addr is the address to listen on.
	// Default: "127.0.0.1:8080"
	Addr string `yaml:"addr"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DefaultConfig returns the default dashboard configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NodeStats provides node statistics to the dashboard.
type NodeStats interface {
	// CurrentSlot returns the slot of the last committed transaction.
	CurrentSlot() uint64

	IsRunning() bool
	Uptime() time.Duration

	// TxsProcessed and TxsFailed count executed transactions by outcome.
	TxsProcessed() uint64
	TxsFailed() uint64

	// AvgTxTimeMs returns the latest transaction processing time.
	AvgTxTimeMs() float64

	// LastError returns the last error encountered, if any.
	LastError() error
}

// Dashboard is the web dashboard server.
type Dashboard struct {
	config    Config
	server    *http.Server
	listener  net.Listener
	blocks    blockstore.Store
	accounts  accounts.DB
	sale      *ico.Machine
	nodeStats NodeStats

	templates *template.Template

	mu        sync.RWMutex
	running   bool
	startTime time.Time
}

// New creates a new dashboard server. stats may be nil.
func New(config Config, blocks blockstore.Store, accts accounts.DB, sale *ico.Machine, stats NodeStats) (*Dashboard, error) {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}

	d := &Dashboard{
		config:    config,
		blocks:    blocks,
		accounts:  accts,
		sale:      sale,
		nodeStats: stats,
		startTime: time.Now(),
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	d.templates = tmpl

	return d, nil
}

func parseTemplates() (*template.Template, error) {
	funcMap := template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   formatNumber,
		"formatTokens":   formatTokens,
		"formatTime":     formatTime,
		"truncateHash":   truncateHash,
		"percent":        percent,
	}

	tmpl := template.New("").Funcs(funcMap)
	if _, err := tmpl.New("layout").Parse(layoutTemplate); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	pages := map[string]string{
		"home":         homeTemplate,
		"transactions": transactionsTemplate,
		"transaction":  transactionTemplate,
		"accounts":     accountsTemplate,
	}
	for name, content := range pages {
		if _, err := tmpl.New(name).Parse(content); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
	}
	return tmpl, nil
}

// Handler returns the dashboard routes.
func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/static/", d.handleStatic)

	mux.HandleFunc("/", d.handleHome)
	mux.HandleFunc("/transactions", d.handleTransactions)
	mux.HandleFunc("/transactions/", d.handleTransaction)
	mux.HandleFunc("/accounts", d.handleAccounts)
	mux.HandleFunc("/accounts/", d.handleAccountDetail)

	mux.HandleFunc("/api/status", d.handleAPIStatus)
	mux.HandleFunc("/api/sale", d.handleAPISale)
	mux.HandleFunc("/api/transactions", d.handleAPITransactions)
	mux.HandleFunc("/api/transactions/", d.handleAPITransaction)
	mux.HandleFunc("/api/accounts/", d.handleAPIAccount)
	mux.HandleFunc("/api/metrics", d.handleAPIMetrics)

	return mux
}

// Start listens on the configured address and serves until ctx is
// cancelled or Stop is called.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dashboard already running")
	}
	ln, err := net.Listen("tcp", d.config.Addr)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", d.config.Addr, err)
	}
	d.listener = ln
	d.server = &http.Server{
		Handler:      d.Handler(),
		ReadTimeout:  d.config.ReadTimeout,
		WriteTimeout: d.config.WriteTimeout,
		IdleTimeout:  d.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	d.running = true
	d.startTime = time.Now()
	server := d.server
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.Stop()
	}()

	log.Node.Info().Str("addr", ln.Addr().String()).Msg("dashboard listening")
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the dashboard server.
func (d *Dashboard) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	server := d.server
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// Addr returns the listening address, or nil before Start.
func (d *Dashboard) Addr() net.Addr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

func (d *Dashboard) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := map[string]interface{}{
		"Status": d.status(),
		"Sale":   d.saleInfo(),
	}
	d.renderPage(w, "home", data)
}

func (d *Dashboard) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := d.recentTransactions(r.URL.Query().Get("before"), 25)
	data := map[string]interface{}{
		"Transactions": txs,
	}
	if err != nil {
		data["Error"] = err.Error()
	}
	if len(txs) == 25 {
		data["Next"] = txs[len(txs)-1].Signature
	}
	d.renderPage(w, "transactions", data)
}

func (d *Dashboard) handleTransaction(w http.ResponseWriter, r *http.Request) {
	sigStr := strings.TrimPrefix(r.URL.Path, "/transactions/")
	if sigStr == "" {
		http.Redirect(w, r, "/transactions", http.StatusFound)
		return
	}

	tx, err := d.lookupTransaction(sigStr)
	if err != nil {
		d.renderPage(w, "transaction", map[string]interface{}{
			"Error":     err.Error(),
			"Signature": sigStr,
		})
		return
	}
	d.renderPage(w, "transaction", map[string]interface{}{
		"Transaction": tx,
		"Signature":   sigStr,
	})
}

func (d *Dashboard) handleAccounts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	data := map[string]interface{}{"Query": query}
	if query != "" {
		account, err := d.lookupAccount(query)
		if err != nil {
			data["SearchErr"] = err.Error()
		} else {
			data["Account"] = account
		}
	}
	d.renderPage(w, "accounts", data)
}

func (d *Dashboard) handleAccountDetail(w http.ResponseWriter, r *http.Request) {
	pubkeyStr := strings.TrimPrefix(r.URL.Path, "/accounts/")
	if pubkeyStr == "" {
		http.Redirect(w, r, "/accounts", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/accounts?q="+pubkeyStr, http.StatusFound)
}

func (d *Dashboard) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/static/")

	content, contentType, ok := getStaticAsset(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write([]byte(content))
}

// status collects node statistics, falling back to the stores when no
// NodeStats was given.
func (d *Dashboard) status() StatusResponse {
	var resp StatusResponse

	if d.nodeStats != nil {
		resp.CurrentSlot = d.nodeStats.CurrentSlot()
		resp.IsRunning = d.nodeStats.IsRunning()
		resp.UptimeSeconds = d.nodeStats.Uptime().Seconds()
		resp.Uptime = formatDuration(d.nodeStats.Uptime())
		resp.TxsProcessed = d.nodeStats.TxsProcessed()
		resp.TxsFailed = d.nodeStats.TxsFailed()
		resp.AvgTxTimeMs = d.nodeStats.AvgTxTimeMs()
		if err := d.nodeStats.LastError(); err != nil {
			resp.LastError = err.Error()
		}
	} else {
		uptime := time.Since(d.startTime)
		resp.CurrentSlot = d.accounts.Slot()
		resp.IsRunning = true
		resp.UptimeSeconds = uptime.Seconds()
		resp.Uptime = formatDuration(uptime)
	}

	if stats, err := d.blocks.GetStats(); err == nil {
		resp.TransactionCount = stats.TransactionCount
	}
	resp.AccountsCount, _ = d.accounts.AccountsCount()
	return resp
}

// saleInfo loads the sale record and the escrow balance.
func (d *Dashboard) saleInfo() SaleResponse {
	addrs := d.sale.Addresses()
	resp := SaleResponse{
		ProgramID: addrs.ProgramID.String(),
		Mint:      addrs.Mint.String(),
		State:     addrs.State.String(),
		Escrow:    addrs.Escrow.String(),
	}

	acct, err := d.accounts.GetAccount(addrs.State)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return resp
	}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	state, err := ico.UnmarshalSaleState(acct.Data)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	resp.Initialized = true
	resp.Record = &state
	resp.Digest = state.Digest().String()
	if supply, err := state.Supply(); err == nil {
		resp.Supply = supply
	}
	if escrow, err := d.accounts.GetAccount(addrs.Escrow); err == nil {
		if decoded, err := decodeToken(escrow); err == nil && decoded.Token != nil {
			resp.EscrowAmount = decoded.Token.Amount
		}
	}
	return resp
}

// recentTransactions returns sale transactions, newest first.
func (d *Dashboard) recentTransactions(before string, limit int) ([]TransactionBrief, error) {
	opts := &blockstore.SignatureQueryOptions{Limit: limit}
	if before != "" {
		sig, err := types.SignatureFromBase58(before)
		if err != nil {
			return nil, fmt.Errorf("invalid signature: %w", err)
		}
		opts.Before = &sig
	}

	infos, err := d.blocks.GetSignaturesForAddress(d.sale.Addresses().ProgramID, opts)
	if err != nil {
		return nil, err
	}

	briefs := make([]TransactionBrief, 0, len(infos))
	for _, info := range infos {
		brief := TransactionBrief{
			Signature: info.Signature.String(),
			Slot:      info.Slot,
			BlockTime: info.BlockTime,
			Success:   info.Err == nil,
		}
		if info.Err != nil {
			brief.Error = info.Err.Message
		}
		briefs = append(briefs, brief)
	}
	return briefs, nil
}

func (d *Dashboard) lookupTransaction(sigStr string) (*TransactionResponse, error) {
	sig, err := types.SignatureFromBase58(sigStr)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	tx, err := d.blocks.GetTransaction(sig)
	if err != nil {
		return nil, fmt.Errorf("transaction not found: %w", err)
	}
	return newTransactionResponse(tx), nil
}

func (d *Dashboard) lookupAccount(pubkeyStr string) (*AccountResponse, error) {
	pubkey, err := types.PubkeyFromBase58(pubkeyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	account, err := d.accounts.GetAccount(pubkey)
	if err != nil {
		return nil, fmt.Errorf("account not found: %w", err)
	}
	return d.newAccountResponse(pubkey, account), nil
}

func (d *Dashboard) renderPage(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var contentBuf strings.Builder
	if err := d.templates.ExecuteTemplate(&contentBuf, name, data); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
		return
	}

	pageData := map[string]interface{}{
		"PageName": name,
		"Content":  template.HTML(contentBuf.String()),
	}
	if err := d.templates.ExecuteTemplate(w, "layout", pageData); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Template helper functions

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

func formatNumber(n uint64) string {
	s := strconv.FormatUint(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// formatTokens renders base units with the mint's decimals.
func formatTokens(amount uint64, decimals uint8) string {
	s := strconv.FormatUint(amount, 10)
	if decimals == 0 {
		return s
	}
	d := int(decimals)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	whole, frac := s[:len(s)-d], strings.TrimRight(s[len(s)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func formatTime(t int64) string {
	if t == 0 {
		return "N/A"
	}
	return time.Unix(t, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

func truncateHash(s string, n int) string {
	if len(s) <= n*2+3 {
		return s
	}
	return s[:n] + "..." + s[len(s)-n:]
}

// percent returns part as a percentage of total.
func percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

package node

import (
	"time"

	"github.com/fortiblox/stratus-ico/pkg/dashboard"
)

// dashboardStats exposes node counters to the dashboard.
type dashboardStats struct {
	n *Node
}

var _ dashboard.NodeStats = dashboardStats{}

func (s dashboardStats) CurrentSlot() uint64 {
	_, slot := s.n.LatestBlockhash()
	return slot
}

func (s dashboardStats) IsRunning() bool {
	return s.n.running.Load() && !s.n.shuttingDown.Load()
}

func (s dashboardStats) Uptime() time.Duration {
	if !s.n.running.Load() {
		return 0
	}
	return time.Since(s.n.startTime)
}

func (s dashboardStats) TxsProcessed() uint64 { return s.n.txsProcessed.Load() }
func (s dashboardStats) TxsFailed() uint64    { return s.n.txsFailed.Load() }

func (s dashboardStats) AvgTxTimeMs() float64 {
	return float64(s.n.txProcessTimeNs.Load()) / float64(time.Millisecond)
}

func (s dashboardStats) LastError() error { return s.n.getLastError() }

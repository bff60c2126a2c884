package providers

import (
	"context"
	"sort"
	"sync"
	"time"
)

// VendorStatus is the observed health of one vendor
type VendorStatus struct {
	Name        string     `json:"name"`
	Mode        string     `json:"mode"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// Monitor records the last successful and failed call per vendor.
type Monitor struct {
	mu     sync.RWMutex
	status map[string]*VendorStatus
	now    func() time.Time
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{status: make(map[string]*VendorStatus), now: time.Now}
}

func (m *Monitor) entry(name string) *VendorStatus {
	s, ok := m.status[name]
	if !ok {
		s = &VendorStatus{Name: name}
		m.status[name] = s
	}
	return s
}

// Register makes a vendor visible before its first call.
func (m *Monitor) Register(name, mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(name).Mode = mode
}

// RecordSuccess stamps the vendor's last successful connection
func (m *Monitor) RecordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now().UTC()
	m.entry(name).LastSuccess = &t
}

// RecordFailure stores the vendor's most recent error
func (m *Monitor) RecordFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now().UTC()
	s := m.entry(name)
	s.LastError = err.Error()
	s.LastErrorAt = &t
}

// Status returns a snapshot sorted by vendor name
func (m *Monitor) Status() []VendorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]VendorStatus, 0, len(m.status))
	for _, s := range m.status {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Monitored wraps g so every call outcome is recorded in m.
func Monitored(g Gateway, m *Monitor) Gateway {
	return &monitored{Gateway: g, monitor: m}
}

type monitored struct {
	Gateway
	monitor *Monitor
}

func (g *monitored) record(res *Result, err error) (*Result, error) {
	if err != nil {
		g.monitor.RecordFailure(g.Name(), err)
		return nil, err
	}
	g.monitor.RecordSuccess(g.Name())
	return res, nil
}

func (g *monitored) BuyAirtime(ctx context.Context, order AirtimeOrder) (*Result, error) {
	return g.record(g.Gateway.BuyAirtime(ctx, order))
}

func (g *monitored) BuyData(ctx context.Context, order DataOrder) (*Result, error) {
	return g.record(g.Gateway.BuyData(ctx, order))
}

func (g *monitored) PayBill(ctx context.Context, order BillOrder) (*Result, error) {
	return g.record(g.Gateway.PayBill(ctx, order))
}

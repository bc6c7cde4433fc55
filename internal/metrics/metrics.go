package metrics

import (
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)

	// Inbound webhook pipeline
	WebhookInbound = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_inbound_total", Help: "Inbound webhook outcomes."},
		[]string{"result"}, // ok | unrecognized | unknown_device | error
	)
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sessions_created_total", Help: "New conversation threads."},
	)
	Assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "agent_assignments_total", Help: "Round-robin assignment outcomes."},
		[]string{"result"}, // assigned | unassigned
	)
	MediaDownloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "media_downloads_total", Help: "Deferred media download outcomes."},
		[]string{"result"}, // ok | error
	)

	// Fan-out
	ForwardTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_forward_total", Help: "External subscriber forwarding outcomes."},
		[]string{"result"}, // ok | error | dropped
	)

	// Vendor gateway
	VendorSendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vendor_send_total", Help: "Vendor send outcomes."},
		[]string{"provider", "outcome"}, // sent | failed
	)
	VendorSendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vendor_send_duration_seconds",
			Help:    "Vendor send latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)

	// Campaign dispatcher
	CampaignClaimTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "campaign_claim_total", Help: "Campaign claim attempts."},
		[]string{"result"}, // ok | empty | error
	)
	CampaignRecipients = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "campaign_recipients_total", Help: "Per-recipient campaign outcomes."},
		[]string{"outcome"}, // sent | failed
	)
)

var registerOnce sync.Once

// Register default + our collectors. Safe to call more than once; only
// the first call registers.
func MustRegister() {
	registerOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		HTTPRequests, HTTPDuration,
		WebhookInbound, SessionsCreated, Assignments, MediaDownloads,
		ForwardTotal,
		VendorSendTotal, VendorSendDuration,
		CampaignClaimTotal, CampaignRecipients,
	)
}

// Export a tiny pgxpool stats exporter
type PGXPoolStats struct {
	pool *pgxpool.Pool

	conns          prometheus.Gauge
	idle           prometheus.Gauge
	acquireCount   prometheus.Counter
	acquireLatency prometheus.Counter
}

func NewPGXPoolStats(pool *pgxpool.Pool) *PGXPoolStats {
	m := &PGXPoolStats{
		pool: pool,
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_conns", Help: "Total connections in pool.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_idle_conns", Help: "Idle connections in pool.",
		}),
		acquireCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquires_total", Help: "Total pool acquires.",
		}),
		acquireLatency: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquire_seconds_total", Help: "Sum of acquire latencies.",
		}),
	}
	prometheus.MustRegister(m.conns, m.idle, m.acquireCount, m.acquireLatency)

	return m
}

func (m *PGXPoolStats) Start(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	for {
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
			s := m.pool.Stat()
			m.conns.Set(float64(s.TotalConns()))
			m.idle.Set(float64(s.IdleConns()))
			m.acquireCount.Add(float64(s.AcquireCount()))
			m.acquireLatency.Add(s.AcquireDuration().Seconds())
		}
	}
}

// Package telemetry exposes a session's running state to the outside
// world: an HTML/text status page served by the status-reporter control
// server (matching the teacher lineage's apps/proxy), and a Prometheus
// /metrics endpoint.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goblimey/go-tools/dailylogger"
	"github.com/goblimey/go-tools/statusreporter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goblimey/nmea-bridge/health"
	"github.com/goblimey/nmea-bridge/session"
)

const reportFormat = `NMEA bridge status

Session state: %s
Health:        %s
Data rate:     %.2f Hz
Uptime:        %s

Sentences received: %d
Sentences sent:      %d
Bytes received:      %d
Bytes sent:           %d
Parse errors:        %d
Checksum errors:     %d
Write errors:        %d
`

// Feed adapts a session.Session to statusreporter.ReportFeedT.
type Feed struct {
	mu      sync.Mutex
	logger  *dailylogger.Writer
	session *session.Session
}

var _ statusreporter.ReportFeedT = (*Feed)(nil)

// NewFeed builds a status feed over sess. logDir, when non-empty, creates a
// daily-rotating log writer that SetLogLevel switches on and off; the feed
// itself writes no events to it.
func NewFeed(sess *session.Session, logDir string) *Feed {
	var logWriter *dailylogger.Writer
	if logDir != "" {
		logWriter = dailylogger.New(logDir, "telemetry.", ".log")
	}
	return &Feed{session: sess, logger: logWriter}
}

// SetLogLevel satisfies statusreporter.ReportFeedT: 0 disables the event
// log, anything else enables it.
func (f *Feed) SetLogLevel(level uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logger == nil {
		return
	}
	if level == 0 {
		f.logger.DisableLogging()
	} else {
		f.logger.EnableLogging()
	}
}

// SetLogger replaces the feed's event logger.
func (f *Feed) SetLogger(w *dailylogger.Writer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger = w
}

// Status satisfies statusreporter.ReportFeedT, rendering the session's
// current state and statistics as a plain-text report.
func (f *Feed) Status() []byte {
	snap := f.session.Statistics()
	now := time.Now()

	body := fmt.Sprintf(reportFormat,
		f.session.State(),
		f.session.HealthStatus(),
		f.session.DataRateHz(),
		snap.Duration(now),
		snap.SentencesReceived,
		snap.SentencesSent,
		snap.BytesReceived,
		snap.BytesSent,
		snap.ParseErrors,
		snap.ChecksumErrors,
		snap.WriteErrors,
	)
	return []byte(body)
}

// Server wraps the status-reporter control endpoint and a Prometheus
// /metrics HTTP server around one session.
type Server struct {
	feed     *Feed
	reporter *statusreporter.Reporter

	metricsAddr   string
	metricsServer *http.Server
}

// New creates a telemetry server. controlHost/controlPort are where the
// status-reporter control page listens; metricsAddr (host:port), if
// non-empty, additionally serves Prometheus metrics.
func New(sess *session.Session, controlHost string, controlPort int, metricsAddr, eventLogDir string) *Server {
	feed := NewFeed(sess, eventLogDir)
	reporter := statusreporter.MakeReporter(feed, controlHost, controlPort)
	reporter.SetUseTextTemplates(true)

	s := &Server{feed: feed, reporter: reporter, metricsAddr: metricsAddr}

	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(newCollector(sess))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		s.metricsServer = &http.Server{Addr: metricsAddr, Handler: mux}
	}

	return s
}

// Start launches the status-reporter control service and, if configured,
// the Prometheus metrics server, both in the background.
func (s *Server) Start() {
	go s.reporter.StartService()
	if s.metricsServer != nil {
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Printf("telemetry: metrics server error: %v\n", err)
			}
		}()
	}
}

// Stop shuts down the Prometheus metrics server, if running. The
// status-reporter control server has no graceful-shutdown hook in its
// public API and is left running until process exit.
func (s *Server) Stop(ctx context.Context) error {
	if s.metricsServer == nil {
		return nil
	}
	return s.metricsServer.Shutdown(ctx)
}

// collector is a prometheus.Collector that reads a session's current
// statistics and health status on every scrape.
type collector struct {
	sess *session.Session

	sentencesReceived *prometheus.Desc
	sentencesSent     *prometheus.Desc
	bytesReceived     *prometheus.Desc
	bytesSent         *prometheus.Desc
	parseErrors       *prometheus.Desc
	checksumErrors    *prometheus.Desc
	writeErrors       *prometheus.Desc
	dataRateHz        *prometheus.Desc
	healthStatus      *prometheus.Desc
}

func newCollector(sess *session.Session) *collector {
	return &collector{
		sess:              sess,
		sentencesReceived: prometheus.NewDesc("nmea_bridge_sentences_received_total", "Sentences yielded by the parser.", nil, nil),
		sentencesSent:     prometheus.NewDesc("nmea_bridge_sentences_sent_total", "Successful sink writes (one per sentence per sink).", nil, nil),
		bytesReceived:     prometheus.NewDesc("nmea_bridge_bytes_received_total", "Bytes delivered to the pipeline by the source.", nil, nil),
		bytesSent:         prometheus.NewDesc("nmea_bridge_bytes_sent_total", "Bytes written across all sink writes.", nil, nil),
		parseErrors:       prometheus.NewDesc("nmea_bridge_parse_errors_total", "Malformed frames dropped by the parser.", nil, nil),
		checksumErrors:    prometheus.NewDesc("nmea_bridge_checksum_errors_total", "Sentences dropped for checksum mismatch.", nil, nil),
		writeErrors:       prometheus.NewDesc("nmea_bridge_write_errors_total", "Sink write failures.", nil, nil),
		dataRateHz:        prometheus.NewDesc("nmea_bridge_data_rate_hz", "Estimated current sentence rate.", nil, nil),
		healthStatus:      prometheus.NewDesc("nmea_bridge_health_status", "Health monitor status (0=unknown,1=healthy,2=stale,3=error).", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sentencesReceived
	ch <- c.sentencesSent
	ch <- c.bytesReceived
	ch <- c.bytesSent
	ch <- c.parseErrors
	ch <- c.checksumErrors
	ch <- c.writeErrors
	ch <- c.dataRateHz
	ch <- c.healthStatus
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.sess.Statistics()

	ch <- prometheus.MustNewConstMetric(c.sentencesReceived, prometheus.CounterValue, float64(snap.SentencesReceived))
	ch <- prometheus.MustNewConstMetric(c.sentencesSent, prometheus.CounterValue, float64(snap.SentencesSent))
	ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(snap.BytesReceived))
	ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(snap.BytesSent))
	ch <- prometheus.MustNewConstMetric(c.parseErrors, prometheus.CounterValue, float64(snap.ParseErrors))
	ch <- prometheus.MustNewConstMetric(c.checksumErrors, prometheus.CounterValue, float64(snap.ChecksumErrors))
	ch <- prometheus.MustNewConstMetric(c.writeErrors, prometheus.CounterValue, float64(snap.WriteErrors))
	ch <- prometheus.MustNewConstMetric(c.dataRateHz, prometheus.GaugeValue, c.sess.DataRateHz())
	ch <- prometheus.MustNewConstMetric(c.healthStatus, prometheus.GaugeValue, float64(healthStatusValue(c.sess.HealthStatus())))
}

func healthStatusValue(s health.Status) int {
	switch s {
	case health.Healthy:
		return 1
	case health.Stale:
		return 2
	case health.Error:
		return 3
	default:
		return 0
	}
}

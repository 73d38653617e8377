package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"delayboard/internal/domain"
	"delayboard/internal/source"
)

type Collector struct {
	reg *prometheus.Registry

	FetchDuration *prometheus.HistogramVec // op label: observations|distinct_<field>|latest
	FetchErrors   *prometheus.CounterVec

	CacheLookups *prometheus.CounterVec // op, result=hit|miss

	Resolutions   *prometheus.CounterVec // outcome: single|ambiguous|none
	ViewDuration  *prometheus.HistogramVec
	ViewsBuilt    *prometheus.CounterVec // status label
	ViewsPushed   prometheus.Counter
	WSClients     prometheus.Gauge
	Subscriptions prometheus.Gauge

	NATSReceived  prometheus.Counter
	NATSConnected prometheus.Gauge

	RateLimited prometheus.Counter

	RefreshInterval prometheus.Gauge // seconds
}

func NewCollector(refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delayboard_source_fetch_duration_seconds",
			Help:    "Duration of backend queries.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"op"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delayboard_source_fetch_errors_total",
			Help: "Total failed backend queries.",
		}, []string{"op"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delayboard_cache_lookups_total",
			Help: "Cache lookups by result.",
		}, []string{"op", "result"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delayboard_trip_resolutions_total",
			Help: "Trip resolutions by outcome.",
		}, []string{"outcome"}),
		ViewDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delayboard_view_duration_seconds",
			Help:    "Duration to build a stop view.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}, []string{"status"}),
		ViewsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delayboard_views_total",
			Help: "Stop views built by status.",
		}, []string{"status"}),
		ViewsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delayboard_views_pushed_total",
			Help: "Changed views pushed to live subscribers.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "delayboard_websocket_clients",
			Help: "Connected websocket clients.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "delayboard_subscribed_selections",
			Help: "Distinct selections with live subscribers.",
		}),
		NATSReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delayboard_nats_notifications_total",
			Help: "Total trip update notifications received.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "delayboard_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delayboard_rate_limited_requests_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "delayboard_refresh_interval_seconds",
			Help: "Live view refresh interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.FetchDuration, c.FetchErrors, c.CacheLookups,
		c.Resolutions, c.ViewDuration, c.ViewsBuilt, c.ViewsPushed,
		c.WSClients, c.Subscriptions,
		c.NATSReceived, c.NATSConnected,
		c.RateLimited, c.RefreshInterval,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c.RefreshInterval.Set(refreshInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

func (c *Collector) CacheLookup(op string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(op, result).Inc()
}

func (c *Collector) ObserveResolution(outcome string) {
	c.Resolutions.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveView(status string, d time.Duration) {
	c.ViewsBuilt.WithLabelValues(status).Inc()
	c.ViewDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (c *Collector) ViewPushed()            { c.ViewsPushed.Inc() }
func (c *Collector) SetClients(n int)       { c.WSClients.Set(float64(n)) }
func (c *Collector) SetSubscriptions(n int) { c.Subscriptions.Set(float64(n)) }
func (c *Collector) NotificationReceived()  { c.NATSReceived.Inc() }
func (c *Collector) RateLimitedInc()        { c.RateLimited.Inc() }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

// InstrumentSource times every query sent to src.
func (c *Collector) InstrumentSource(src source.Source) source.Source {
	return &timedSource{inner: src, c: c}
}

type timedSource struct {
	inner source.Source
	c     *Collector
}

func (t *timedSource) observe(op string, start time.Time, err error) {
	t.c.FetchDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		t.c.FetchErrors.WithLabelValues(op).Inc()
	}
}

func (t *timedSource) FetchRecentObservations(ctx context.Context, f domain.Filters, window time.Duration) ([]domain.DelayObservation, error) {
	start := time.Now()
	obs, err := t.inner.FetchRecentObservations(ctx, f, window)
	t.observe("observations", start, err)
	return obs, err
}

func (t *timedSource) FetchDistinct(ctx context.Context, field domain.Field, f domain.Filters, window time.Duration) ([]string, error) {
	start := time.Now()
	values, err := t.inner.FetchDistinct(ctx, field, f, window)
	t.observe("distinct_"+string(field), start, err)
	return values, err
}

func (t *timedSource) LatestObservation(ctx context.Context, window time.Duration) (time.Time, bool, error) {
	start := time.Now()
	latest, ok, err := t.inner.LatestObservation(ctx, window)
	t.observe("latest", start, err)
	return latest, ok, err
}

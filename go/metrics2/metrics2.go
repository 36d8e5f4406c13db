// Package metrics2 is a thin facade over Prometheus metrics that allows
// metrics to be created at their point of use, keyed by name and a set of
// string tags.
package metrics2

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.buildstats.org/infra/go/sklog"
)

// Counter is a monotonically increasing metric.
type Counter interface {
	Inc(i int64)
}

// Int64Metric is a gauge metric.
type Int64Metric interface {
	Update(v int64)
}

// Float64SummaryMetric records a stream of float64s and reports quantiles.
type Float64SummaryMetric interface {
	Observe(v float64)
}

// Liveness keeps a time-since-last-successful-update metric.
//
// The unit of the metrics is in seconds. It is used to keep track of periodic
// processes; each successful run calls Reset().
type Liveness interface {
	Reset()
}

var (
	mutex sync.Mutex

	counters          = map[string]*promCounter{}
	int64Metrics      = map[string]*promInt64{}
	float64Summaries  = map[string]*promSummary{}
	registeredMetrics = prometheus.NewRegistry()
)

// mergeTags flattens zero or more tag maps into a single map.
func mergeTags(tags []map[string]string) map[string]string {
	ret := map[string]string{}
	for _, t := range tags {
		for k, v := range t {
			ret[k] = v
		}
	}
	return ret
}

// key builds a unique lookup key for a metric name + tags.
func key(name string, tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := []string{name}
	for _, k := range keys {
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, ",")
}

// sanitize converts a metric name into a valid Prometheus name.
func sanitize(name string) string {
	return strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(name)
}

type promCounter struct {
	c prometheus.Counter
}

func (p *promCounter) Inc(i int64) {
	p.c.Add(float64(i))
}

type promInt64 struct {
	g prometheus.Gauge
}

func (p *promInt64) Update(v int64) {
	p.g.Set(float64(v))
}

type promSummary struct {
	s prometheus.Summary
}

func (p *promSummary) Observe(v float64) {
	p.s.Observe(v)
}

// GetCounter creates or retrieves a Counter with the given name and tags.
func GetCounter(name string, tags ...map[string]string) Counter {
	mutex.Lock()
	defer mutex.Unlock()
	t := mergeTags(tags)
	k := key(name, t)
	if c, ok := counters[k]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        sanitize(name),
		ConstLabels: t,
	})
	if err := registeredMetrics.Register(c); err != nil {
		sklog.Warningf("Failed to register counter %q: %s", name, err)
	}
	ret := &promCounter{c: c}
	counters[k] = ret
	return ret
}

// GetInt64Metric creates or retrieves an Int64Metric with the given name and
// tags.
func GetInt64Metric(name string, tags ...map[string]string) Int64Metric {
	mutex.Lock()
	defer mutex.Unlock()
	t := mergeTags(tags)
	k := key(name, t)
	if m, ok := int64Metrics[k]; ok {
		return m
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        sanitize(name),
		ConstLabels: t,
	})
	if err := registeredMetrics.Register(g); err != nil {
		sklog.Warningf("Failed to register gauge %q: %s", name, err)
	}
	ret := &promInt64{g: g}
	int64Metrics[k] = ret
	return ret
}

// GetFloat64SummaryMetric creates or retrieves a Float64SummaryMetric with
// the given name and tags.
func GetFloat64SummaryMetric(name string, tags ...map[string]string) Float64SummaryMetric {
	mutex.Lock()
	defer mutex.Unlock()
	t := mergeTags(tags)
	k := key(name, t)
	if m, ok := float64Summaries[k]; ok {
		return m
	}
	s := prometheus.NewSummary(prometheus.SummaryOpts{
		Name:        sanitize(name),
		ConstLabels: t,
		Objectives:  map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})
	if err := registeredMetrics.Register(s); err != nil {
		sklog.Warningf("Failed to register summary %q: %s", name, err)
	}
	ret := &promSummary{s: s}
	float64Summaries[k] = ret
	return ret
}

type liveness struct {
	m Int64Metric

	mutex sync.Mutex
	last  time.Time
}

// NewLiveness creates a Liveness with the given name and tags. The reported
// gauge, named "<name>_s", is the number of seconds since the last Reset.
func NewLiveness(name string, tags ...map[string]string) Liveness {
	l := &liveness{
		m:    GetInt64Metric(name+"_s", tags...),
		last: time.Now(),
	}
	go func() {
		for range time.Tick(livenessUpdatePeriod) {
			l.update()
		}
	}()
	return l
}

const livenessUpdatePeriod = 10 * time.Second

func (l *liveness) update() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.m.Update(int64(time.Since(l.last).Seconds()))
}

func (l *liveness) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.last = time.Now()
	l.m.Update(0)
}

// InitPrometheus starts serving the metrics endpoint on the given port, e.g.
// ":20000".
func InitPrometheus(port string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registeredMetrics, promhttp.HandlerOpts{}))
		sklog.Infof("Prometheus server on port: %q", port)
		sklog.Fatal(http.ListenAndServe(port, mux))
	}()
}

// Handler returns an http.Handler serving the registered metrics, for
// applications that mount /metrics on their own router.
func Handler() http.Handler {
	return promhttp.HandlerFor(registeredMetrics, promhttp.HandlerOpts{})
}

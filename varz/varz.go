/*
varz provides helpers to create prometheus metrics with package-qualified
names.  A counter declared in package cache as "hits" is exported as
hearth_cache_hits.

Handler serves everything registered here at /metrics.
*/
package varz

import (
	"net/http"
	"path"
	"regexp"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// callerPackage returns the package name of the caller of the
// function.  Use a loose heuristic to get that split apart.
// If the variable is declared in a var block, this will remove the
// "init" bit.
func callerPackage() string {
	// get package name of caller
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}

	n := fn.Name()
	// github.com/ts4z/hearth/cache.init -> cache
	n = path.Base(n)
	if dot := strings.Index(n, "."); dot != -1 {
		n = n[:dot]
	}
	return strings.TrimSuffix(n, "_test")
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func metricName(pkg, name string) string {
	return unsafeChars.ReplaceAllString("hearth_"+pkg+"_"+name, "_")
}

// Int is a counter that can also be read back, which the tests like.
type Int struct {
	v atomic.Int64
}

func (i *Int) Add(delta int64) {
	i.v.Add(delta)
}

func (i *Int) Value() int64 {
	return i.v.Load()
}

func NewInt(name string) *Int {
	i := &Int{}
	register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: metricName(callerPackage(), name),
		Help: name,
	}, func() float64 { return float64(i.Value()) }))
	return i
}

// NewGauge is an Int that is allowed to go down.
func NewGauge(name string) *Int {
	i := &Int{}
	register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: metricName(callerPackage(), name),
		Help: name,
	}, func() float64 { return float64(i.Value()) }))
	return i
}

// NewMap is a counter family keyed by one label, like expvar.Map.
func NewMap(name, label string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricName(callerPackage(), name),
		Help: name,
	}, []string{label})
	register(cv)
	return cv
}

// NewHistogram records durations in seconds.
func NewHistogram(name, label string) *prometheus.HistogramVec {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricName(callerPackage(), name),
		Help:    name,
		Buckets: prometheus.DefBuckets,
	}, []string{label})
	register(hv)
	return hv
}

func register(c prometheus.Collector) {
	if err := registry.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
		panic(err)
	}
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mostly for tests.
func Gatherer() prometheus.Gatherer {
	return registry
}

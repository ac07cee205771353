package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/omerix/offline-sync/internal/opqueue"
)

const scrapeTimeout = 2 * time.Second

// queueCollector reads queue counts from the store on every scrape.
type queueCollector struct {
	source StatsSource
	desc   *prometheus.Desc
	errors prometheus.Counter
}

func newQueueCollector(source StatsSource) *queueCollector {
	return &queueCollector{
		source: source,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "operations"),
			"Operations currently in the offline queue, by state",
			[]string{"state"}, nil,
		),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_scrape_errors_total",
			Help:      "Failed reads of the queue while collecting metrics",
		}),
	}
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
	c.errors.Describe(ch)
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	st, err := c.source.Stats(ctx)
	if err != nil {
		c.errors.Inc()
	} else {
		for state, n := range map[opqueue.State]int{
			opqueue.StatePending:  st.Pending,
			opqueue.StateRetrying: st.Retrying,
			opqueue.StateDead:     st.Dead,
		} {
			ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), string(state))
		}
	}
	c.errors.Collect(ch)
}

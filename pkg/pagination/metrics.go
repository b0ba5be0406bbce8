package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_export_pages_total",
		Help: "Pages attempted by the export pipeline by resource and outcome",
	}, []string{"resource", "outcome"})

	recordsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_export_records_fetched_total",
		Help: "Records decoded from pages before filtering",
	}, []string{"resource"})

	recordsRetainedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_export_records_retained_total",
		Help: "Records retained after filtering and capping",
	}, []string{"resource"})
)

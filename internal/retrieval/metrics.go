package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retrieval_searches_total",
		Help: "Search requests served, including cached responses.",
	})
	documentsAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retrieval_documents_added_total",
		Help: "Documents ingested into the chunk store.",
	})
	documentsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retrieval_documents_deleted_total",
		Help: "Documents removed, including cascaded chunk deletion.",
	})
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retrieval_cache_hits_total",
		Help: "Search responses served from the query cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retrieval_cache_misses_total",
		Help: "Search requests that missed the query cache.",
	})
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "retrieval_search_duration_seconds",
		Help:    "End-to-end search latency.",
		Buckets: prometheus.DefBuckets,
	})
)

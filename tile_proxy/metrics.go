package tile_proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 客户端瓦片缓存指标
var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fencemap_tile_cache_hits_total",
		Help: "Total number of decoded tile cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fencemap_tile_cache_misses_total",
		Help: "Total number of decoded tile cache misses",
	})

	// cacheEvictions counts whole-cache clears triggered by the feature ceiling.
	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fencemap_tile_cache_evictions_total",
		Help: "Total number of whole-cache evictions",
	})

	cacheInvalidatedTiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fencemap_tile_cache_invalidated_tiles_total",
		Help: "Total number of tiles dropped by feature or key invalidation",
	})

	tileFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fencemap_tile_fetches_total",
		Help: "Total number of tile fetches by outcome",
	}, []string{"outcome"})
)

package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var shapeWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fencemap_shape_writes_total",
	Help: "Shape write operations by type and outcome",
}, []string{"op", "outcome"})

func observeWrite(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	shapeWrites.WithLabelValues(op, outcome).Inc()
}

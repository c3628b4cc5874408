package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rpcErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quittance_rpc_errors_total",
	Help: "Total number of RPC calls that failed after retries, labeled by method.",
}, []string{"op"})

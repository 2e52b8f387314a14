package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del registro de claves de firma. Paquete aparte para que stores y registry
// las compartan sin ciclos de import.

const (
	ResultOK          = "ok"
	ResultNotFound    = "not_found"
	ResultError       = "error"
	ResultProvisioned = "provisioned"
	ResultAbsent      = "not_provisioned"
)

var (
	SignatureOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_registry_operations_total",
		Help: "Operaciones del registro de claves de firma por resultado",
	}, []string{"op", "result"})

	SignatureOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signature_registry_operation_duration_seconds",
		Help:    "Latencia de operaciones del registro (incluye round-trip al store)",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"op"})

	SignatureCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_cache_lookups_total",
		Help: "Lookups del cache de signatures (hit|miss)",
	}, []string{"result"})

	KeyspaceMigrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_keyspace_migrations_total",
		Help: "Corridas de migraciones de keyspace por resultado (applied|skipped|failed)",
	}, []string{"result"})
)

// Observe registra una operación terminada.
func Observe(op, result string, started time.Time) {
	SignatureOps.WithLabelValues(op, result).Inc()
	SignatureOpDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// RegisterSignatures registra las métricas en el registry dado (o el default si nil).
func RegisterSignatures(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{SignatureOps, SignatureOpDuration, SignatureCacheLookups, KeyspaceMigrations} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

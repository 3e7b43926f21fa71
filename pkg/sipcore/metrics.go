package sipcore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики ядра. Регистрируются в дефолтном реестре Prometheus при загрузке
// пакета, экспорт — забота приложения.
var (
	metricCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sip",
		Subsystem: "core",
		Name:      "commands_total",
		Help:      "Total number of commands executed, by kind and result",
	}, []string{"kind", "result"})

	metricCommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sip",
		Subsystem: "core",
		Name:      "command_duration_seconds",
		Help:      "Command execution time on the worker",
		Buckets:   prometheus.DefBuckets,
	})

	metricAccountsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sip",
		Subsystem: "core",
		Name:      "accounts_active",
		Help:      "Number of live accounts in the registry",
	})

	metricCallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sip",
		Subsystem: "core",
		Name:      "calls_active",
		Help:      "Number of live calls in the registry",
	})

	metricEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sip",
		Subsystem: "core",
		Name:      "events_published_total",
		Help:      "Total number of session events published, by kind",
	}, []string{"kind"})

	metricDuplicateResolutions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sip",
		Subsystem: "core",
		Name:      "duplicate_resolutions_total",
		Help:      "Resolutions of unknown or already resolved correlation tokens",
	})
)

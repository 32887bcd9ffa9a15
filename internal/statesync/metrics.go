package statesync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
	MetricsSubsystem = "statesync"
)

// Driver notification types, used as the "type" label of
// DriverNotifications.
const (
	notificationTypeClient          = "client"
	notificationTypeCommit          = "commit"
	notificationTypeConsensusCommit = "consensus_commit"
	notificationTypeConsensusSync   = "consensus_sync"
	notificationTypeError           = "error"
	notificationTypeProgressCheck   = "progress_check"
)

// Storage synchronizer operations, used as the "operation" label of
// StorageSynchronizerOperations.
const (
	operationExecutedTransactions  = "executed_transactions"
	operationCommittedTransactions = "committed_transactions"
	operationCommittedAccounts     = "committed_accounts"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Notifications handled by the driver, by "type".
	DriverNotifications metrics.Counter
	// Errors returned when driving the bootstrapper, by "error".
	BootstrapperErrors metrics.Counter
	// Errors returned when driving the continuous syncer, by "error".
	ContinuousSyncerErrors metrics.Counter
	// Data chunks processed by the storage synchronizer, by "operation".
	StorageSynchronizerOperations metrics.Counter
	// Errors raised by the storage synchronizer, by "error".
	StorageSynchronizerErrors metrics.Counter

	// Latest version and epoch the node has synced to.
	SyncedVersion metrics.Gauge
	SyncedEpoch   metrics.Gauge
	// 1 once bootstrapping has completed.
	Bootstrapped metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		DriverNotifications: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "driver_notifications",
			Help:      "The number of notifications handled by the driver.",
		}, withLabel(labels, "type")).With(labelsAndValues...),
		BootstrapperErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bootstrapper_errors",
			Help:      "The number of errors encountered while bootstrapping.",
		}, withLabel(labels, "error")).With(labelsAndValues...),
		ContinuousSyncerErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "continuous_syncer_errors",
			Help:      "The number of errors encountered while continuously syncing.",
		}, withLabel(labels, "error")).With(labelsAndValues...),
		StorageSynchronizerOperations: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "storage_synchronizer_operations",
			Help:      "The number of data chunks processed by the storage synchronizer.",
		}, withLabel(labels, "operation")).With(labelsAndValues...),
		StorageSynchronizerErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "storage_synchronizer_errors",
			Help:      "The number of errors raised by the storage synchronizer.",
		}, withLabel(labels, "error")).With(labelsAndValues...),
		SyncedVersion: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "synced_version",
			Help:      "The latest version the node has synced to.",
		}, labels).With(labelsAndValues...),
		SyncedEpoch: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "synced_epoch",
			Help:      "The latest epoch the node has synced to.",
		}, labels).With(labelsAndValues...),
		Bootstrapped: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bootstrapped",
			Help:      "Whether the node has finished bootstrapping (0 or 1).",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		DriverNotifications:           discard.NewCounter(),
		BootstrapperErrors:            discard.NewCounter(),
		ContinuousSyncerErrors:        discard.NewCounter(),
		StorageSynchronizerOperations: discard.NewCounter(),
		StorageSynchronizerErrors:     discard.NewCounter(),
		SyncedVersion:                 discard.NewGauge(),
		SyncedEpoch:                   discard.NewGauge(),
		Bootstrapped:                  discard.NewGauge(),
	}
}

// withLabel returns a copy of labels with label appended.
func withLabel(labels []string, label string) []string {
	out := make([]string, 0, len(labels)+1)
	return append(append(out, labels...), label)
}

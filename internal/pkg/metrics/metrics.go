package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess      = "success"
	ResultNoUpdate     = "no_update"
	ResultFailure      = "failure"
	ResultHashMismatch = "hash_mismatch"
)

var (
	PromRegistry        = prometheus.NewRegistry()
	OTARegisterer       = prometheus.WrapRegistererWithPrefix("ota_", PromRegistry)
	UpdateAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "update_attempts_total",
			Help: "Total number of update attempts by result",
		},
		[]string{"result"},
	)
	FileDownloadAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_download_attempts_total",
			Help: "Total number of single file download attempts by result",
		},
		[]string{"result"},
	)
	DownloadedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "downloaded_bytes_total",
			Help: "Total number of file and firmware bytes received",
		},
	)
	UpdateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "update_duration_seconds",
			Help:    "Duration of update attempts in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 4, 8),
		},
		[]string{"result"},
	)
)

func init() {
	OTARegisterer.MustRegister(UpdateAttemptsTotal)
	OTARegisterer.MustRegister(FileDownloadAttemptsTotal)
	OTARegisterer.MustRegister(DownloadedBytesTotal)
	OTARegisterer.MustRegister(UpdateDuration)
}

// WriteToTextfile stores the current values in the Prometheus text format, e.g. for the node exporter
// textfile collector.
func WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, PromRegistry)
}

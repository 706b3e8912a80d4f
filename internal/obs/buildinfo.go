package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Salonbook API build information.",
		},
		[]string{"version", "commit", "region"},
	)
)

// InitBuildInfo registers build_info once and sets build_info{version,commit,region} 1.
func InitBuildInfo(version, commit, region string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit, region).Set(1)
}

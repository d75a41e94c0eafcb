package regulation

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/climateguard/climateguard/internal/domain"
)

const prometheusNamespace = "climateguard"

var (
	measureTemperature = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "MeasureTemperature",
			Help:      "last regulated temperature reading in degC",
		},
		[]string{"measure", "device"})

	measureTarget = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "MeasureTarget",
			Help:      "threshold temperature a regulation decision was made against, in degC",
		},
		[]string{"measure", "device"})

	deviceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      "DeviceTransitions",
			Help:      "device on/off transitions commanded by the regulation engine",
		},
		[]string{"device", "transition"})
)

func init() {
	prometheus.MustRegister(measureTemperature)
	prometheus.MustRegister(measureTarget)
	prometheus.MustRegister(deviceTransitions)
}

func recordDecision(device domain.DeviceKind, measure domain.MeasureKind, temperature, target float64) {
	measureTemperature.With(prometheus.Labels{"measure": measure.String(), "device": device.String()}).Set(temperature)
	measureTarget.With(prometheus.Labels{"measure": measure.String(), "device": device.String()}).Set(target)
}

func recordTransition(kind domain.DeviceKind, transition string) {
	deviceTransitions.With(prometheus.Labels{"device": kind.String(), "transition": transition}).Inc()
}

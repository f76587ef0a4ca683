package services

import "github.com/prometheus/client_golang/prometheus"

// Translation outcomes recorded by TranslationService.
const (
	outcomeCacheHit   = "cache_hit"
	outcomeTranslated = "translated"
	outcomeNoop       = "noop"
	outcomeError      = "error"
)

var translationRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "translation_requests_total",
	Help: "Translation requests by provider and outcome.",
}, []string{"provider", "outcome"})

func init() {
	prometheus.MustRegister(translationRequests)
}

package usecase

// IntakeMetrics is the instrumentation the intake side emits. The Prometheus
// implementation lives in observability/metrics; NopMetrics keeps tests
// quiet.
type IntakeMetrics interface {
	ClaimWon()
	ClaimLost()
	StartDocument()
	FinishDocument(finalStatus string, seconds float64)
	ObserveIntakeLag(seconds float64)
	ObserveExtractionAttempts(attempts int)
	ReviewQueued()
	OrphanRecovered()
	OrphanQuarantined()
}

type NopMetrics struct{}

func (NopMetrics) ClaimWon()                      {}
func (NopMetrics) ClaimLost()                     {}
func (NopMetrics) StartDocument()                 {}
func (NopMetrics) FinishDocument(string, float64) {}
func (NopMetrics) ObserveIntakeLag(float64)       {}
func (NopMetrics) ObserveExtractionAttempts(int)  {}
func (NopMetrics) ReviewQueued()                  {}
func (NopMetrics) OrphanRecovered()               {}
func (NopMetrics) OrphanQuarantined()             {}

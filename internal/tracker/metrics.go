package tracker

// Metrics receives tracker events. Phase names are empty when a Target
// appears or goes away.
type Metrics interface {
	Check(result string)
	Notification(kind, outcome string)
	Removal(reason string)
	PhaseChanged(from, to string)
}

type NopMetrics struct{}

func (NopMetrics) Check(string) {}
func (NopMetrics) Notification(string, string) {}
func (NopMetrics) Removal(string) {}
func (NopMetrics) PhaseChanged(string, string) {}

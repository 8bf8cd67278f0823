package metrics

type HubObserver interface {
	IncOnline()
	DecOnline()
	RecordPush()
	ObservePushLatency(duration float64)
	UpdateEventLag(lag int)
}

// ResolutionObserver counts resolver outcomes.
type ResolutionObserver interface {
	RecordResolution(source string)
	RecordPreferenceWrite()
}

type HTTPObserver interface {
	ObserveHTTP(path, method, status string, duration float64)
}

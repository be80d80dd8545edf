package injector

// Observer receives the injector's notifications. Callbacks run on the
// injection loop and must return quickly.
type Observer interface {
	// OnStatus receives human readable status text.
	OnStatus(message string)
	// OnProgress receives the zero-based index of each completed interval.
	OnProgress(interval int)
}

// IntervalObserver is optionally implemented by observers that want the
// timing record of every completed interval.
type IntervalObserver interface {
	OnInterval(timing IntervalTiming)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Status   func(message string)
	Progress func(interval int)
}

func (o ObserverFuncs) OnStatus(message string) {
	if o.Status != nil {
		o.Status(message)
	}
}

func (o ObserverFuncs) OnProgress(interval int) {
	if o.Progress != nil {
		o.Progress(interval)
	}
}

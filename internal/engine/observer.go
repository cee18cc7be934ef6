package engine

// Observer is notified of run lifecycle changes. Callbacks run on the
// goroutine that caused them and must not block.
type Observer interface {
	RunStarted(run *Run)
	EventEmitted(run *Run, event OutputEvent)
	RunFinished(run *Run, summary *Summary)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) RunStarted(*Run)                {}
func (NopObserver) EventEmitted(*Run, OutputEvent) {}
func (NopObserver) RunFinished(*Run, *Summary)     {}

// Observers fans callbacks out in order.
type Observers []Observer

func (o Observers) RunStarted(run *Run) {
	for _, obs := range o {
		obs.RunStarted(run)
	}
}

func (o Observers) EventEmitted(run *Run, event OutputEvent) {
	for _, obs := range o {
		obs.EventEmitted(run, event)
	}
}

func (o Observers) RunFinished(run *Run, summary *Summary) {
	for _, obs := range o {
		obs.RunFinished(run, summary)
	}
}

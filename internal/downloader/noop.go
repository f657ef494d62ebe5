package downloader

import (
	"context"

	"github.com/tinoosan/fanfetch/internal/fp"
)

type noopFactory struct{}

// NewNoopFactory returns a Factory whose workers perform no I/O: they report
// Start, 100% progress and Complete with the path the object would have had.
func NewNoopFactory() Factory {
	return noopFactory{}
}

func (noopFactory) NewWorker(key, dir, identifier string) Worker {
	return WorkerFunc(func(ctx context.Context, rep Reporter) {
		rep.Report(Event{Key: key, Type: EventStart})
		rep.Report(Event{Key: key, Type: EventProgress, Percent: 100})
		rep.Report(Event{Key: key, Type: EventComplete, Path: JoinDestination(dir, fp.ObjectName(key, identifier))})
	})
}

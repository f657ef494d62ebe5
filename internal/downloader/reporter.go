package downloader

// Reporter publishes worker events.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a plain function to Reporter.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) {
	if f != nil {
		f(e)
	}
}

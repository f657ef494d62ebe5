package fetch

// Subscriber receives the lifecycle events of a key. All methods are invoked
// from the single delivery goroutine and must return quickly.
type Subscriber interface {
	OnStart(key string)
	OnProgress(key string, percent int)
	OnFailure(key, message string)
	OnSuccess(key, path string)
	OnCancel(key string)
	OnClear(success bool, key, path string)
}

// Funcs implements Subscriber from optional callbacks. Nil fields are skipped,
// so callers only supply the capabilities they care about.
type Funcs struct {
	Start    func(key string)
	Progress func(key string, percent int)
	Failure  func(key, message string)
	Success  func(key, path string)
	Cancel   func(key string)
	Clear    func(success bool, key, path string)
}

var _ Subscriber = Funcs{}

func (f Funcs) OnStart(key string) {
	if f.Start != nil {
		f.Start(key)
	}
}

func (f Funcs) OnProgress(key string, percent int) {
	if f.Progress != nil {
		f.Progress(key, percent)
	}
}

func (f Funcs) OnFailure(key, message string) {
	if f.Failure != nil {
		f.Failure(key, message)
	}
}

func (f Funcs) OnSuccess(key, path string) {
	if f.Success != nil {
		f.Success(key, path)
	}
}

func (f Funcs) OnCancel(key string) {
	if f.Cancel != nil {
		f.Cancel(key)
	}
}

func (f Funcs) OnClear(success bool, key, path string) {
	if f.Clear != nil {
		f.Clear(success, key, path)
	}
}

package platform

import "sync"

// Fake is an in-memory Host for tests and embedded harnesses, in the same
// spirit as dbopen.OpenMemory: exported so every package exercising the
// tracker can drive host events directly.
type Fake struct {
	PageURL    string
	UA         string
	Lang       string
	Plat       string
	Screen     string

	mu         sync.Mutex
	storage    map[string]string
	errorFns   map[int]func(ErrorEvent)
	rejectFns  map[int]func(RejectionEvent)
	hiddenFns  map[int]func()
	unloadFns  map[int]func()
	nextHandle int
}

// NewFake returns a Fake with plausible desktop-browser defaults.
func NewFake() *Fake {
	return &Fake{
		PageURL: "https://app.example.test/dashboard",
		UA:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Lang:    "en-US",
		Plat:    "Win32",
		Screen:  "1920x1080",
		storage: make(map[string]string),
	}
}

func (f *Fake) OnGlobalError(fn func(ErrorEvent)) CancelFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errorFns == nil {
		f.errorFns = make(map[int]func(ErrorEvent))
	}
	h := f.nextHandle
	f.nextHandle++
	f.errorFns[h] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.errorFns, h)
	}
}

func (f *Fake) OnUnhandledRejection(fn func(RejectionEvent)) CancelFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectFns == nil {
		f.rejectFns = make(map[int]func(RejectionEvent))
	}
	h := f.nextHandle
	f.nextHandle++
	f.rejectFns[h] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.rejectFns, h)
	}
}

func (f *Fake) OnVisibilityHidden(fn func()) CancelFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hiddenFns == nil {
		f.hiddenFns = make(map[int]func())
	}
	h := f.nextHandle
	f.nextHandle++
	f.hiddenFns[h] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.hiddenFns, h)
	}
}

func (f *Fake) OnUnload(fn func()) CancelFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unloadFns == nil {
		f.unloadFns = make(map[int]func())
	}
	h := f.nextHandle
	f.nextHandle++
	f.unloadFns[h] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.unloadFns, h)
	}
}

func (f *Fake) Location() string   { return f.PageURL }
func (f *Fake) UserAgent() string  { return f.UA }
func (f *Fake) Language() string   { return f.Lang }
func (f *Fake) Platform() string   { return f.Plat }
func (f *Fake) ScreenSize() string { return f.Screen }

func (f *Fake) StorageGet(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storage[key]
}

func (f *Fake) StorageSet(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storage[key] = value
}

// FireError delivers a raw error event to every installed global-error hook.
func (f *Fake) FireError(e ErrorEvent) {
	for _, fn := range f.snapshotErrorFns() {
		fn(e)
	}
}

// FireRejection delivers a raw rejection event to every installed hook.
func (f *Fake) FireRejection(e RejectionEvent) {
	for _, fn := range f.snapshotRejectFns() {
		fn(e)
	}
}

// FireHidden simulates the page becoming hidden.
func (f *Fake) FireHidden() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.hiddenFns))
	for _, fn := range f.hiddenFns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// FireUnload simulates the page unloading.
func (f *Fake) FireUnload() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.unloadFns))
	for _, fn := range f.unloadFns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Subscriptions reports how many hooks are currently installed, so tests can
// assert that disable removed everything enable added.
func (f *Fake) Subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errorFns) + len(f.rejectFns) + len(f.hiddenFns) + len(f.unloadFns)
}

func (f *Fake) snapshotErrorFns() []func(ErrorEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fns := make([]func(ErrorEvent), 0, len(f.errorFns))
	for _, fn := range f.errorFns {
		fns = append(fns, fn)
	}
	return fns
}

func (f *Fake) snapshotRejectFns() []func(RejectionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fns := make([]func(RejectionEvent), 0, len(f.rejectFns))
	for _, fn := range f.rejectFns {
		fns = append(fns, fn)
	}
	return fns
}

// Package platform abstracts the runtime hooks and ambient state a host
// environment (browser tab, embedded webview, test harness) exposes to the
// tracker. Keeping the capture pipeline behind this seam is what makes
// enable/disable and the whole delivery engine testable without a browser.
package platform

// ErrorEvent is a raw uncaught-error notification from the host.
type ErrorEvent struct {
	Message string
	Stack   string
	URL     string
	Line    int
	Column  int
}

// RejectionEvent is a raw unhandled-asynchronous-rejection notification.
type RejectionEvent struct {
	Message string
	Stack   string
}

// CancelFunc removes a previously installed subscription. Safe to call once;
// behaviour of repeated calls is host-defined.
type CancelFunc func()

// Host is the adapter the tracker installs its hooks on. Every On* method
// subscribes a callback and returns the handle that removes it again —
// the tracker never owns host-global state directly, so disabling it
// restores whatever was there before.
type Host interface {
	OnGlobalError(fn func(ErrorEvent)) CancelFunc
	OnUnhandledRejection(fn func(RejectionEvent)) CancelFunc
	OnVisibilityHidden(fn func()) CancelFunc
	OnUnload(fn func()) CancelFunc

	// Location is the current page URL at the moment of the call.
	Location() string
	UserAgent() string
	Language() string
	Platform() string
	ScreenSize() string

	// StorageGet/StorageSet access the host's transient per-tab storage,
	// used to keep the session identifier stable across in-tab navigations.
	// StorageGet returns "" for a missing key.
	StorageGet(key string) string
	StorageSet(key, value string)
}

// Package report defines the wire shape of a captured error. The json tags
// on Record and Envelope are the contract with the collection endpoint and
// must not change independently of it.
package report

import "github.com/hazyhaar/errtrack/envinfo"

// Source identifies which hook produced a record.
type Source string

const (
	SourceGlobalHook Source = "window.onerror"
	SourceRejection  Source = "unhandledrejection"
	SourceBoundary   Source = "react-error-boundary"
	SourceManual     Source = "manual"
)

// Record is a single normalized error.
//
// Line, Column and UserID use omitempty, so zero means "not set" — the
// collection side treats an absent field and zero identically.
type Record struct {
	Message        string              `json:"message"`
	Stack          string              `json:"stack,omitempty"`
	Source         Source              `json:"source"`
	URL            string              `json:"url"`
	Line           int                 `json:"line,omitempty"`
	Column         int                 `json:"column,omitempty"`
	ComponentStack string              `json:"componentStack,omitempty"`
	BrowserInfo    envinfo.Fingerprint `json:"browserInfo"`
	SessionID      string              `json:"sessionId"`
	UserID         int                 `json:"userId,omitempty"`
	Environment    string              `json:"environment,omitempty"`
	AppVersion     string              `json:"appVersion,omitempty"`
}

// Envelope is the batch payload POSTed to the collection endpoint.
type Envelope struct {
	Errors []*Record `json:"errors"`
}

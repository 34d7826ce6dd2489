package tracker

import (
	"github.com/hazyhaar/errtrack/idgen"
	"github.com/hazyhaar/errtrack/platform"
)

// SessionStorageKey is where the per-tab session identifier persists in the
// host's transient storage, so the identity is stable across in-tab
// navigations but not across tabs or restarts.
const SessionStorageKey = "errtrack_session_id"

func ensureSession(h platform.Host, gen idgen.Generator) string {
	if id := h.StorageGet(SessionStorageKey); id != "" {
		return id
	}
	id := gen()
	h.StorageSet(SessionStorageKey, id)
	return id
}

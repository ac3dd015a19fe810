package vendors

import (
	"fmt"

	"github.com/nordledger/gateway/internal/core"
)

// Error is a non-2xx vendor reply. It carries the upstream status code and
// body for diagnostic propagation, and implements the status classifier the
// retry driver consults.
type Error struct {
	Provider   core.Provider
	StatusCode int
	Path       string
	Body       string
}

func (e *Error) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: %s returned %d: %s", e.Provider, e.Path, e.StatusCode, body)
}

// HTTPStatusCode reports the upstream status for retry classification.
func (e *Error) HTTPStatusCode() int { return e.StatusCode }

package signal

import (
	"strings"

	"github.com/google/uuid"

	"github.com/tomaslejdung/obscam/pkg/registry"
)

// NewHandle returns a fresh connection handle.
func NewHandle() registry.Handle {
	return registry.Handle(uuid.NewString())
}

// NewEndpointID returns a source endpoint id. Sources persist it so they come
// back under the same id after a restart.
func NewEndpointID() string {
	return "src-" + shortID()
}

// NewViewerID returns a connection-scoped viewer id.
func NewViewerID() string {
	return "viewer-" + shortID()
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

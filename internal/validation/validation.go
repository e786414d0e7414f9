// Package validation holds shape checks for identifiers that cross the
// wire boundary: tool names and connection ids.
package validation

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// MaxToolNameLen bounds a registered or requested tool name (spec §3).
const MaxToolNameLen = 64

// toolNameRegex matches the tool name character class spec.md §3 allows.
var toolNameRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateToolName checks a tool name against spec.md §3's pattern and
// length bound before it reaches the registry.
func ValidateToolName(name string) error {
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if len(name) > MaxToolNameLen {
		return fmt.Errorf("tool name exceeds maximum length of %d", MaxToolNameLen)
	}
	if !toolNameRegex.MatchString(name) {
		return fmt.Errorf("invalid tool name %q: must match [A-Za-z0-9_.-]+", name)
	}
	return nil
}

// ValidateConnectionID checks a connection id is a well-formed UUID, the
// shape the listener assigns to every accepted socket.
func ValidateConnectionID(id string) error {
	if id == "" {
		return fmt.Errorf("connection ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid connection ID %q: %w", id, err)
	}
	return nil
}

// ValidateContainerID validates a Docker container id (hex string), used
// before handing an id from sandbox_exec's bookkeeping back into the Docker SDK.
func ValidateContainerID(id string) error {
	if id == "" {
		return fmt.Errorf("container ID cannot be empty")
	}
	if len(id) < 12 || len(id) > 64 {
		return fmt.Errorf("invalid container ID length: %s", id)
	}
	for _, c := range id {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return fmt.Errorf("invalid container ID format: %s", id)
		}
	}
	return nil
}

package proxmox

import (
	"errors"
	"fmt"
	"strings"
)

// APIError represents an error response from the Proxmox API.
type APIError struct {
	StatusCode int
	Message    string
	Errors     map[string]string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("proxmox API %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("proxmox API %d", e.StatusCode)
}

// IsNotFound reports whether err describes a VM that no longer exists.
// Proxmox answers 404 for unknown API paths but 500 with a "does not exist"
// message when the config file for a VMID is gone, so both are checked.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == 404 {
		return true
	}
	return strings.Contains(apiErr.Message, "does not exist")
}

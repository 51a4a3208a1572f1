package domain

import "fmt"

// PermissionStatus controls whether a tool may be used by dispatched tasks.
type PermissionStatus string

const (
	PermissionAllowed PermissionStatus = "ALLOWED"
	PermissionBlocked PermissionStatus = "BLOCKED"
	PermissionAsk     PermissionStatus = "ASK"
)

// ParsePermissionStatus validates s as a permission status.
func ParsePermissionStatus(s string) (PermissionStatus, error) {
	switch st := PermissionStatus(s); st {
	case PermissionAllowed, PermissionBlocked, PermissionAsk:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown permission status %q", ErrValidation, s)
	}
}

// ToolPermission is the stored permission for one tool, keyed by name.
type ToolPermission struct {
	ToolName string           `json:"toolName"`
	Status   PermissionStatus `json:"status"`
}

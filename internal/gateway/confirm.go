package gateway

import (
	"context"
	"strconv"
	"strings"
)

// MaxConfirmRetries bounds the confirm-and-retry loop so a misbehaving tool
// can never wedge the runner into an infinite request/reject cycle.
const MaxConfirmRetries = 4

const confirmationMarker = "requires_confirmation permission="

// ExtractConfirmationPermission parses a tool-level denial message of the
// form "requires_confirmation permission=<key> ..." and returns the key, or
// "" if the message is not a runtime-confirmation marker.
func ExtractConfirmationPermission(message string) (string, bool) {
	idx := strings.Index(message, confirmationMarker)
	if idx == -1 {
		return "", false
	}
	rest := message[idx+len(confirmationMarker):]
	end := strings.IndexByte(rest, ' ')
	if end == -1 {
		end = len(rest)
	}
	key := rest[:end]
	if key == "" {
		return "", false
	}
	return key, true
}

// Confirmer asks a human whether an operation described by description
// (tagged with permissionKey, when known) should proceed.
type Confirmer interface {
	Confirm(ctx context.Context, description string, permissionKey string) (bool, error)
}

// ToolInvoker runs a single tool call under an optional set of session-scoped
// permission overrides (empty on the first attempt).
type ToolInvoker func(ctx context.Context, overrides []string) (output string, err error)

// ExecuteWithRuntimeConfirmation implements the runtime-confirmation retry
// protocol from spec.md §4.2: a tool denial carrying a requires_confirmation
// marker is confirmed once per distinct permission key and retried, up to
// MaxConfirmRetries attempts, accumulating an approved-permission override
// set across attempts so tools gating on multiple sub-permissions converge.
func ExecuteWithRuntimeConfirmation(ctx context.Context, invoke ToolInvoker, confirm Confirmer, description string) (string, error) {
	approved := map[string]bool{}

	for attempt := 0; attempt < MaxConfirmRetries; attempt++ {
		var overrides []string
		for k := range approved {
			overrides = append(overrides, k)
		}

		output, err := invoke(ctx, overrides)
		if err == nil {
			return output, nil
		}

		ae, ok := err.(*AgentError)
		if !ok || ae.Kind != ErrPermissionDenied {
			return "", err
		}

		permission, isMarker := ExtractConfirmationPermission(ae.Message)
		if !isMarker {
			return "", err
		}
		if approved[permission] {
			return "", err
		}

		allowed, confirmErr := confirm.Confirm(ctx, description+" ["+ae.Message+"]", permission)
		if confirmErr != nil {
			return "", confirmErr
		}
		if !allowed {
			return "", NewPermissionDenied("permission_rejected: %s", ae.Message)
		}
		approved[permission] = true
	}

	return "", NewPermissionDenied("Permission confirmation loop exceeded retry limit after %s attempts", strconv.Itoa(MaxConfirmRetries))
}

package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRuleTable(t *testing.T) {
	cases := []struct {
		tool   string
		params string
		key    string
		desc   string
	}{
		{"write", `{"path":"a.txt"}`, "file_write", "write a.txt"},
		{"edit", `{"path":"a.txt"}`, "file_write", "edit a.txt"},
		{"read", `{"path":"a.txt"}`, "file_read", "read a.txt"},
		{"grep", `{"path":"."}`, "file_read", "grep ."},
		{"webfetch", `{}`, "network", "webfetch request"},
		{"shell", `{"command":"ls"}`, "shell_execute", "shell ls"},
		{"git", `{"operation":"commit"}`, "git_commit", "git commit"},
		{"git", `{"operation":"push"}`, "git", "git push"},
		{"fs", `{"operation":"delete","path":"a"}`, "file_delete", "delete a"},
		{"fs", `{"operation":"write","path":"a"}`, "file_write", "write a"},
		{"fs", `{"operation":"read","path":"a"}`, "file_read", "read a"},
		{"ndc_task_create", `{}`, "task_manage", "manage task via ndc_task_create"},
		{"ndc_memory_get", `{}`, "task_manage", "query memory via ndc_memory_get"},
		{"some_custom_tool", `{}`, "*", "tool some_custom_tool"},
	}

	for _, tc := range cases {
		t.Run(tc.tool+"_"+tc.desc, func(t *testing.T) {
			c := Classify(tc.tool, json.RawMessage(tc.params))
			assert.Equal(t, tc.key, c.PermissionKey)
			assert.Equal(t, tc.desc, c.Description)
		})
	}
}

func TestInjectWorkingDirOnlyForShellAndFs(t *testing.T) {
	out := InjectWorkingDir("shell", json.RawMessage(`{"command":"ls"}`), "/work")
	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	assert.Equal(t, "/work", obj["working_dir"])

	unchanged := InjectWorkingDir("read", json.RawMessage(`{"path":"a"}`), "/work")
	assert.JSONEq(t, `{"path":"a"}`, string(unchanged))
}

func TestInjectWorkingDirDoesNotOverride(t *testing.T) {
	out := InjectWorkingDir("shell", json.RawMessage(`{"command":"ls","working_dir":"/already"}`), "/work")
	var obj map[string]any
	require.NoError(t, json.Unmarshal(out, &obj))
	assert.Equal(t, "/already", obj["working_dir"])
}

func TestExtractConfirmationPermission(t *testing.T) {
	key, ok := ExtractConfirmationPermission("requires_confirmation permission=git_commit risk=high git commit requires confirmation")
	require.True(t, ok)
	assert.Equal(t, "git_commit", key)

	_, ok = ExtractConfirmationPermission("some other denial message")
	assert.False(t, ok)
}

type stubConfirmer struct {
	allow bool
	err   error
	calls int
}

func (s *stubConfirmer) Confirm(context.Context, string, string) (bool, error) {
	s.calls++
	return s.allow, s.err
}

func TestExecuteWithRuntimeConfirmationApproves(t *testing.T) {
	attempts := 0
	invoke := func(ctx context.Context, overrides []string) (string, error) {
		attempts++
		if len(overrides) == 0 {
			return "", NewPermissionDenied("requires_confirmation permission=git_commit risk=high")
		}
		return "commit-ok", nil
	}

	confirmer := &stubConfirmer{allow: true}
	out, err := ExecuteWithRuntimeConfirmation(context.Background(), invoke, confirmer, "git commit")
	require.NoError(t, err)
	assert.Equal(t, "commit-ok", out)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, confirmer.calls)
}

func TestExecuteWithRuntimeConfirmationRejects(t *testing.T) {
	invoke := func(ctx context.Context, overrides []string) (string, error) {
		return "", NewPermissionDenied("requires_confirmation permission=git_commit risk=high")
	}

	confirmer := &stubConfirmer{allow: false}
	_, err := ExecuteWithRuntimeConfirmation(context.Background(), invoke, confirmer, "git commit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission_rejected")
}

func TestExecuteWithRuntimeConfirmationNonMarkerPassesThrough(t *testing.T) {
	invoke := func(ctx context.Context, overrides []string) (string, error) {
		return "", NewPermissionDenied("plain denial, no marker")
	}
	confirmer := &stubConfirmer{allow: true}
	_, err := ExecuteWithRuntimeConfirmation(context.Background(), invoke, confirmer, "desc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plain denial")
	assert.Equal(t, 0, confirmer.calls)
}

func TestExecuteWithRuntimeConfirmationBoundedRetries(t *testing.T) {
	invoke := func(ctx context.Context, overrides []string) (string, error) {
		// Always returns a fresh, distinct permission key so the loop never
		// converges, exercising the hard retry bound.
		return "", NewPermissionDenied("requires_confirmation permission=p%d", len(overrides))
	}
	confirmer := &stubConfirmer{allow: true}
	_, err := ExecuteWithRuntimeConfirmation(context.Background(), invoke, confirmer, "desc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry limit")
}

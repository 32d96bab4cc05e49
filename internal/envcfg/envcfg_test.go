package envcfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStringFallsBackThroughNames(t *testing.T) {
	t.Setenv("ENVCFG_TEST_SECONDARY", "secondary-value")
	assert.Equal(t, "secondary-value", String("default", "ENVCFG_TEST_PRIMARY", "ENVCFG_TEST_SECONDARY"))
}

func TestStringUsesDefaultWhenUnset(t *testing.T) {
	assert.Equal(t, "default", String("default", "ENVCFG_TEST_MISSING"))
}

func TestBoolParsesCommonTruthyForms(t *testing.T) {
	t.Setenv("ENVCFG_TEST_BOOL", "yes")
	assert.True(t, Bool("ENVCFG_TEST_BOOL", false))
}

func TestBoolDefaultsWhenUnset(t *testing.T) {
	assert.False(t, Bool("ENVCFG_TEST_BOOL_MISSING", false))
	assert.True(t, Bool("ENVCFG_TEST_BOOL_MISSING", true))
}

func TestIntParsesOrFallsBack(t *testing.T) {
	t.Setenv("ENVCFG_TEST_INT", "42")
	assert.Equal(t, 42, Int("ENVCFG_TEST_INT", 7))

	t.Setenv("ENVCFG_TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, Int("ENVCFG_TEST_INT_BAD", 7))
}

func TestDurationParsesOrFallsBack(t *testing.T) {
	t.Setenv("ENVCFG_TEST_DURATION", "250ms")
	assert.Equal(t, 250*time.Millisecond, Duration("ENVCFG_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, Duration("ENVCFG_TEST_DURATION_MISSING", time.Second))
}

func TestStringSetSplitsOnComma(t *testing.T) {
	t.Setenv("ENVCFG_TEST_SET", "shell_execute,git_commit,file_write")
	set := StringSet("ENVCFG_TEST_SET")
	assert.True(t, set["shell_execute"])
	assert.True(t, set["git_commit"])
	assert.True(t, set["file_write"])
	assert.False(t, set["network"])
}

func TestStringSetNilWhenUnset(t *testing.T) {
	assert.Nil(t, StringSet("ENVCFG_TEST_SET_MISSING"))
}

func TestAutoApproveToolsWildcard(t *testing.T) {
	t.Setenv("NDC_AUTO_APPROVE_TOOLS", "*")
	assert.True(t, AutoApproveTools("git_commit"))
	assert.True(t, AutoApproveTools("anything"))
}

func TestAutoApproveToolsAllowlist(t *testing.T) {
	t.Setenv("NDC_AUTO_APPROVE_TOOLS", "git_commit,file_write")
	assert.True(t, AutoApproveTools("git_commit"))
	assert.False(t, AutoApproveTools("shell_execute"))
}

func TestAutoApproveToolsUnsetDeniesAll(t *testing.T) {
	assert.False(t, AutoApproveTools("git_commit"))
}

package permission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func profileWithPolicies(id string, policies map[string]Policy) PermissionProfile {
	return PermissionProfile{ID: id, Name: id, ToolPolicies: policies}
}

func TestCheckDeniesUnboundAgent(t *testing.T) {
	r := NewResolver(nil)
	decision := r.Check("agent-1", "tool-a")
	require.False(t, decision.Allowed)
	require.Equal(t, PolicyDeny, decision.Policy)
}

func TestCheckDeniesUnknownProfile(t *testing.T) {
	r := NewResolver(nil)
	r.BindAgent("agent-1", "missing-profile")
	decision := r.Check("agent-1", "tool-a")
	require.False(t, decision.Allowed)
}

func TestCheckDeniesToolNotEnumerated(t *testing.T) {
	r := NewResolver(nil)
	r.Reload([]PermissionProfile{profileWithPolicies("p1", map[string]Policy{"tool-a": PolicyAuto})})
	r.BindAgent("agent-1", "p1")

	decision := r.Check("agent-1", "tool-b")
	require.False(t, decision.Allowed)
	require.Contains(t, decision.Reason, "not enumerated")
}

func TestCheckAllowsPolicyAuto(t *testing.T) {
	r := NewResolver(nil)
	r.Reload([]PermissionProfile{profileWithPolicies("p1", map[string]Policy{"tool-a": PolicyAuto})})
	r.BindAgent("agent-1", "p1")

	decision := r.Check("agent-1", "tool-a")
	require.True(t, decision.Allowed)
	require.Equal(t, PolicyAuto, decision.Policy)
}

func TestCheckDeniesPolicyRequireApprovalWithReason(t *testing.T) {
	r := NewResolver(nil)
	r.Reload([]PermissionProfile{profileWithPolicies("p1", map[string]Policy{"tool-a": PolicyRequireApproval})})
	r.BindAgent("agent-1", "p1")

	decision := r.Check("agent-1", "tool-a")
	require.False(t, decision.Allowed)
	require.Equal(t, PolicyRequireApproval, decision.Policy)
	require.Equal(t, "tool call requires approval", decision.Reason)
}

func TestCheckDeniesPolicyDenyExplicitly(t *testing.T) {
	r := NewResolver(nil)
	r.Reload([]PermissionProfile{profileWithPolicies("p1", map[string]Policy{"tool-a": PolicyDeny})})
	r.BindAgent("agent-1", "p1")

	decision := r.Check("agent-1", "tool-a")
	require.False(t, decision.Allowed)
	require.Equal(t, PolicyDeny, decision.Policy)
}

func TestCheckResultIsCachedUntilReload(t *testing.T) {
	r := NewResolver(nil)
	r.Reload([]PermissionProfile{profileWithPolicies("p1", map[string]Policy{"tool-a": PolicyAuto})})
	r.BindAgent("agent-1", "p1")

	first := r.Check("agent-1", "tool-a")
	require.True(t, first.Allowed)

	// mutate the profile set directly without going through Reload: the
	// cached decision must still be returned because the cache has not been
	// invalidated.
	r.mu.Lock()
	r.profiles["p1"] = profileWithPolicies("p1", map[string]Policy{"tool-a": PolicyDeny})
	r.mu.Unlock()

	stillCached := r.Check("agent-1", "tool-a")
	require.True(t, stillCached.Allowed, "a cached decision must survive until Reload invalidates it")

	r.Reload([]PermissionProfile{profileWithPolicies("p1", map[string]Policy{"tool-a": PolicyDeny})})
	afterReload := r.Check("agent-1", "tool-a")
	require.False(t, afterReload.Allowed)
}

func TestUnbindAgentRevertsToDenied(t *testing.T) {
	r := NewResolver(nil)
	r.Reload([]PermissionProfile{profileWithPolicies("p1", map[string]Policy{"tool-a": PolicyAuto})})
	r.BindAgent("agent-1", "p1")
	require.True(t, r.Check("agent-1", "tool-a").Allowed)

	r.UnbindAgent("agent-1")
	r.Reload([]PermissionProfile{profileWithPolicies("p1", map[string]Policy{"tool-a": PolicyAuto})}) // force cache invalidation
	decision := r.Check("agent-1", "tool-a")
	require.False(t, decision.Allowed)
}

func TestCheckToleratesNilLogger(t *testing.T) {
	r := NewResolver(nil)
	require.NotPanics(t, func() {
		r.Check("agent-1", "tool-a")
	})
}

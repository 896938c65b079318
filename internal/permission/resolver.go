// Package permission implements the Skill & Permission Resolver: per-agent
// tool-call policy evaluation backed by an in-memory, TTL-cached profile
// store that reloads wholesale on change.
package permission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3e-network/agent-core/infrastructure/cache"
	"github.com/r3e-network/agent-core/infrastructure/logging"
)

// Policy is the per-tool decision a PermissionProfile assigns.
type Policy string

const (
	PolicyAuto            Policy = "auto"
	PolicyRequireApproval  Policy = "require_approval"
	PolicyDeny             Policy = "deny"
)

// PermissionProfile enumerates allowed tool ids, the policy for each, and
// any side-effect classification (e.g. "network", "filesystem", "billing").
type PermissionProfile struct {
	ID                 string
	Name               string
	ToolPolicies       map[string]Policy
	SideEffectClasses  map[string][]string // toolID -> classifications
}

// Decision is the outcome of a check(agentId, toolId) call.
type Decision struct {
	Allowed bool
	Policy  Policy
	Reason  string
}

// profileTTL bounds how long a resolved profile lookup is cached before the
// resolver re-reads the backing profile map; Reload invalidates immediately
// regardless of this TTL.
const profileTTL = 5 * time.Minute

// Resolver validates tool-call policy for each agent at runtime and caches
// profile lookups, grounded on infrastructure/cache's TTL+version-invalidate
// pattern.
type Resolver struct {
	mu sync.RWMutex
	// agentProfile maps agentId -> permissionProfileId, set by the lifecycle
	// manager whenever an agent's config changes.
	agentProfile map[string]string
	profiles     map[string]PermissionProfile
	cache        *cache.Cache
	logger       *logging.Logger
}

// NewResolver constructs a Resolver with an empty profile set. logger may be
// nil, in which case decisions are not logged.
func NewResolver(logger *logging.Logger) *Resolver {
	return &Resolver{
		agentProfile: make(map[string]string),
		profiles:     make(map[string]PermissionProfile),
		cache:        cache.NewCache(cache.DefaultConfig()),
		logger:       logger,
	}
}

// Reload replaces the full profile set and invalidates every cached
// decision — the cheapest correct response to a profile edit is to drop the
// whole version rather than track per-profile dependents.
func (r *Resolver) Reload(profiles []PermissionProfile) {
	r.mu.Lock()
	r.profiles = make(map[string]PermissionProfile, len(profiles))
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	r.mu.Unlock()
	r.cache.InvalidateVersion()
}

// BindAgent records which profile an agent currently uses. Called by the
// lifecycle manager whenever AgentConfig.PermissionProfileID changes.
func (r *Resolver) BindAgent(agentID, profileID string) {
	r.mu.Lock()
	r.agentProfile[agentID] = profileID
	r.mu.Unlock()
}

// UnbindAgent drops an agent's profile binding, e.g. on destroy.
func (r *Resolver) UnbindAgent(agentID string) {
	r.mu.Lock()
	delete(r.agentProfile, agentID)
	r.mu.Unlock()
}

// Check evaluates whether toolID may be invoked by agentID and returns a
// decision with a reason, consulting the cache before re-resolving.
func (r *Resolver) Check(agentID, toolID string) Decision {
	cacheKey := fmt.Sprintf("%s|%s", agentID, toolID)
	if cached, _, ok := r.cache.GetVersion(cacheKey); ok {
		return cached.(Decision)
	}

	decision := r.resolve(agentID, toolID)
	r.cache.SetVersioned(cacheKey, decision, profileTTL)
	if r.logger != nil {
		r.logger.LogPermissionCheck(context.Background(), agentID, toolID, decision.Allowed, decision.Reason)
	}
	return decision
}

func (r *Resolver) resolve(agentID, toolID string) Decision {
	r.mu.RLock()
	profileID, boundOK := r.agentProfile[agentID]
	var profile PermissionProfile
	var profileOK bool
	if boundOK {
		profile, profileOK = r.profiles[profileID]
	}
	r.mu.RUnlock()

	if !boundOK {
		return Decision{Allowed: false, Policy: PolicyDeny, Reason: fmt.Sprintf("agent %s has no bound permission profile", agentID)}
	}
	if !profileOK {
		return Decision{Allowed: false, Policy: PolicyDeny, Reason: fmt.Sprintf("permission profile %s not found", profileID)}
	}

	policy, ok := profile.ToolPolicies[toolID]
	if !ok {
		return Decision{Allowed: false, Policy: PolicyDeny, Reason: fmt.Sprintf("tool %s is not enumerated in profile %s", toolID, profile.Name)}
	}

	switch policy {
	case PolicyAuto:
		return Decision{Allowed: true, Policy: policy, Reason: "auto-approved by profile"}
	case PolicyRequireApproval:
		return Decision{Allowed: false, Policy: policy, Reason: "tool call requires approval"}
	default:
		return Decision{Allowed: false, Policy: PolicyDeny, Reason: "tool call denied by profile"}
	}
}

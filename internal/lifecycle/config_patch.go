package lifecycle

import (
	"time"

	"github.com/r3e-network/agent-core/internal/domain"
)

// ConfigPatch is the closed, partial-update shape accepted by UpdateConfig.
// Per SPEC_FULL.md's design notes, "deep-merge of identity/model/deployment
// only" is rendered as three explicit nested merges plus a shallow overlay
// of everything else, rather than an open bag of untyped fields.
type ConfigPatch struct {
	Name                *string
	DisplayName         *string
	Identity            *IdentityPatch
	Model               *ModelPatch
	Deployment          *DeploymentPatch
	Channels            *domain.ChannelSet
	Workspace           *domain.WorkspacePolicy
	Heartbeat           *domain.HeartbeatPolicy
	PermissionProfileID *string

	// Tags overlays ManagedAgent.Tags key by key (not part of AgentConfig,
	// so applyPatch does not touch it — Manager.UpdateConfig merges it
	// directly onto the agent record).
	Tags map[string]string
}

// IdentityPatch deep-merges onto AgentConfig.Identity field by field.
type IdentityPatch struct {
	Role        *string
	Tone        *string
	Language    *string
	DateOfBirth *time.Time
}

// ModelPatch deep-merges onto AgentConfig.Model field by field.
type ModelPatch struct {
	Provider      *string
	ModelID       *string
	ThinkingLevel *string
}

// DeploymentPatch deep-merges onto AgentConfig.Deployment field by field.
// Params is overlaid key by key, not replaced wholesale.
type DeploymentPatch struct {
	Target *string
	Region *string
	Params map[string]string
}

// applyPatch deep-merges identity/model/deployment and shallow-overlays
// everything else onto cfg, returning the updated config. Nil pointers in
// the patch leave the corresponding field untouched.
func applyPatch(cfg domain.AgentConfig, patch ConfigPatch) domain.AgentConfig {
	if patch.Name != nil {
		cfg.Name = *patch.Name
	}
	if patch.DisplayName != nil {
		cfg.DisplayName = *patch.DisplayName
	}
	if patch.Identity != nil {
		if patch.Identity.Role != nil {
			cfg.Identity.Role = *patch.Identity.Role
		}
		if patch.Identity.Tone != nil {
			cfg.Identity.Tone = *patch.Identity.Tone
		}
		if patch.Identity.Language != nil {
			cfg.Identity.Language = *patch.Identity.Language
		}
		if patch.Identity.DateOfBirth != nil {
			cfg.Identity.DateOfBirth = patch.Identity.DateOfBirth
		}
	}
	if patch.Model != nil {
		if patch.Model.Provider != nil {
			cfg.Model.Provider = *patch.Model.Provider
		}
		if patch.Model.ModelID != nil {
			cfg.Model.ModelID = *patch.Model.ModelID
		}
		if patch.Model.ThinkingLevel != nil {
			cfg.Model.ThinkingLevel = *patch.Model.ThinkingLevel
		}
	}
	if patch.Deployment != nil {
		if patch.Deployment.Target != nil {
			cfg.Deployment.Target = *patch.Deployment.Target
		}
		if patch.Deployment.Region != nil {
			cfg.Deployment.Region = *patch.Deployment.Region
		}
		if len(patch.Deployment.Params) > 0 {
			if cfg.Deployment.Params == nil {
				cfg.Deployment.Params = make(map[string]string, len(patch.Deployment.Params))
			}
			for k, v := range patch.Deployment.Params {
				cfg.Deployment.Params[k] = v
			}
		}
	}
	if patch.Channels != nil {
		cfg.Channels = *patch.Channels
	}
	if patch.Workspace != nil {
		cfg.Workspace = *patch.Workspace
	}
	if patch.Heartbeat != nil {
		cfg.Heartbeat = *patch.Heartbeat
	}
	if patch.PermissionProfileID != nil {
		cfg.PermissionProfileID = *patch.PermissionProfileID
	}
	return cfg
}

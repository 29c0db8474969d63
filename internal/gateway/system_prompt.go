package gateway

import (
	"fmt"
	"time"

	"github.com/JulianRyder01/resonance/internal/agent"
	"github.com/JulianRyder01/resonance/internal/config"
	"github.com/JulianRyder01/resonance/internal/datetime"
	"github.com/JulianRyder01/resonance/internal/skills"
	"github.com/JulianRyder01/resonance/internal/workspace"
	"github.com/JulianRyder01/resonance/pkg/models"
)

// BuildSystemPrompt assembles the system prompt a turn in sessionID would
// receive for msg. It is a thin adapter from cfg's workspace/identity/user
// configuration into agent.PromptContext — the actual section assembly
// lives in agent.BuildSystemPrompt, not here, so the prompt stays identical
// whether it is built for a live turn or for `resonance prompt` debugging.
func BuildSystemPrompt(cfg *config.Config, sessionID string, msg *models.Message) (string, error) {
	ws, err := workspace.LoadWorkspace(workspace.LoaderConfigFromConfig(cfg))
	if err != nil {
		return "", fmt.Errorf("load workspace: %w", err)
	}

	promptCtx := agent.PromptContext{
		MissionAnchor: identityAnchor(cfg),
		UserProfile:   userProfileFacts(ws),
	}

	if mgr, err := skills.NewManager(&cfg.Skills, workspace.LoaderConfigFromConfig(cfg).Root, nil); err == nil {
		for _, entry := range mgr.ListEligible() {
			promptCtx.AvailableSkills = append(promptCtx.AvailableSkills, agent.SkillSummary{
				Name:        entry.Name,
				Description: entry.Description,
			})
		}
	}

	if heartbeat, _ := msg.Metadata["heartbeat"].(bool); heartbeat {
		promptCtx.MissionAnchor += "\nThis turn is a scheduled heartbeat check; reply HEARTBEAT_OK if nothing needs attention."
	}

	return agent.BuildSystemPrompt(promptCtx), nil
}

func identityAnchor(cfg *config.Config) string {
	id := cfg.Identity
	if id.Name == "" {
		return ""
	}
	return fmt.Sprintf("Identity: %s, %s, %s, %s.", id.Name, id.Creature, id.Vibe, id.Emoji)
}

func userProfileFacts(ws *workspace.WorkspaceContext) map[string]string {
	if ws == nil || ws.User == nil {
		return nil
	}
	facts := map[string]string{}
	if ws.User.Name != "" {
		facts["name"] = ws.User.Name
	}
	if ws.User.PreferredAddress != "" {
		facts["preferred_address"] = ws.User.PreferredAddress
	}
	if ws.User.Pronouns != "" {
		facts["pronouns"] = ws.User.Pronouns
	}
	tz := datetime.ResolveUserTimezone(ws.User.Timezone)
	facts["timezone"] = tz
	format := datetime.ResolveUserTimeFormat(datetime.TimeFormatAuto)
	facts["current_time"] = datetime.FormatUserTime(time.Now(), tz, format)
	if ws.User.Notes != "" {
		facts["notes"] = ws.User.Notes
	}
	return facts
}

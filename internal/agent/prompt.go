package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// baseIdentityProtocol is the orchestrator's standing operating protocol,
// prepended to every system prompt ahead of the per-turn sections. Grounded
// on host_agent.py's base_identity block: it mandates a <plan> tracker,
// reminds the model that tool output alone is not a finished deliverable,
// and tells it how to reach for skills and memory tools.
const baseIdentityProtocol = `You are Resonance, a local AI host with full access to this machine's
filesystem, shell, browser, and scheduling primitives.

CORE OPERATING PROTOCOLS:
1. Before acting on any non-trivial request, open a <plan> block listing
   concrete steps as a checklist, e.g.:
   <plan>
   - [ ] step one
   - [ ] step two
   </plan>
   Update the checkboxes ([x]) as steps complete. Keep the plan visible in
   your responses until every item is checked off.
2. A tool call returning output is not the same as the task being done.
   Only consider a deliverable complete once its actual artifact exists
   (a file written, a message sent, a command's effect verified).
3. Prefer your available tools over guessing. Re-read a tool's result
   before deciding the next step.
4. Use remember_user_fact whenever you learn a durable fact about the
   user or this machine (names, paths, preferences) — do not ask twice.
5. When a user's request matches something in AVAILABLE SKILLS, activate
   it with manage_skills before improvising; once a skill is ACTIVE,
   follow its instructions exactly.`

const (
	sectionMissionAnchor    = "### CURRENT MISSION ANCHOR"
	sectionUserProfile      = "### USER PROFILE"
	sectionActiveSkillFmt   = "### \U0001F525 ACTIVE SKILL: %s"
	sectionAvailableSkills  = "### AVAILABLE SKILLS"
	sectionMemories         = "### Long-term Memories (Reference Only)"
	sectionPreviousSummary  = "### PREVIOUS CONVERSATION SUMMARY"
)

// supervisorInterventionFmt is the system message injected when the
// supervisor loop judges a turn INCOMPLETE (see runSupervisorLoop).
const supervisorInterventionFmt = "[\U0001F46E SUPERVISOR INTERVENTION]: Task not finished. %s Continue executing the plan immediately."

// toolResultReminderSuffix is appended to the LLM-facing copy of every tool
// result message (not the copy persisted to session history or streamed to
// the client) so the model keeps its <plan> block current.
const toolResultReminderSuffix = "\n\n[System: Check your plan. Update <plan> status in next response.]"

// SkillSummary is the index entry shown in the AVAILABLE SKILLS section.
type SkillSummary struct {
	Name        string
	Description string
}

// ActiveSkill carries the activated skill's full SOP content, injected
// verbatim in place of the available-skills index for the remainder of the
// session it was activated in.
type ActiveSkill struct {
	Name    string
	Content string
}

// PromptContext carries everything BuildSystemPrompt needs to compose a
// turn's system prompt. Zero-valued fields are omitted from the result.
type PromptContext struct {
	MissionAnchor   string
	UserProfile     map[string]string
	KnownProjects   []string
	ActiveSkill     *ActiveSkill
	AvailableSkills []SkillSummary
	Memories        []string
	PreviousSummary string
}

// BuildSystemPrompt assembles the full system prompt for a turn: the
// standing protocol block, then the mission anchor, user profile, active
// skill (or skill index), long-term memories, and previous summary
// sections, in that fixed order (see host_agent.py's
// _build_dynamic_system_prompt).
func BuildSystemPrompt(ctx PromptContext) string {
	var b strings.Builder
	b.WriteString(baseIdentityProtocol)

	if anchor := strings.TrimSpace(ctx.MissionAnchor); anchor != "" {
		fmt.Fprintf(&b, "\n\n%s\n%s", sectionMissionAnchor, anchor)
	}

	if profile := formatUserProfile(ctx.UserProfile, ctx.KnownProjects); profile != "" {
		fmt.Fprintf(&b, "\n\n%s\n%s", sectionUserProfile, profile)
	}

	switch {
	case ctx.ActiveSkill != nil && strings.TrimSpace(ctx.ActiveSkill.Content) != "":
		fmt.Fprintf(&b, "\n\n"+sectionActiveSkillFmt+"\n%s\nFollow this skill's instructions exactly; do not improvise around it.",
			ctx.ActiveSkill.Name, ctx.ActiveSkill.Content)
	case len(ctx.AvailableSkills) > 0:
		fmt.Fprintf(&b, "\n\n%s\n%s", sectionAvailableSkills, formatSkillIndex(ctx.AvailableSkills))
	}

	if len(ctx.Memories) > 0 {
		fmt.Fprintf(&b, "\n\n%s\n%s", sectionMemories, formatMemories(ctx.Memories))
	}

	if summary := strings.TrimSpace(ctx.PreviousSummary); summary != "" {
		fmt.Fprintf(&b, "\n\n%s\n%s", sectionPreviousSummary, summary)
	}

	return b.String()
}

func formatUserProfile(facts map[string]string, knownProjects []string) string {
	if len(facts) == 0 && len(knownProjects) == 0 {
		return ""
	}
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, facts[k])
	}
	if len(knownProjects) > 0 {
		fmt.Fprintf(&b, "- known_projects: %s\n", strings.Join(knownProjects, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSkillIndex(skills []SkillSummary) string {
	var b strings.Builder
	for _, s := range skills {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMemories(memories []string) string {
	var b strings.Builder
	for _, m := range memories {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", m)
	}
	return strings.TrimRight(b.String(), "\n")
}

// supervisorInterventionMessage formats the supervisor's steering system
// message for a given continuation instruction.
func supervisorInterventionMessage(instruction string) string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = "Resume the plan."
	}
	return fmt.Sprintf(supervisorInterventionFmt, instruction)
}

// supervisorProtocolSystem is the system prompt for the supervisor's
// end-of-turn verdict call (see runSupervisorLoop). Grounded on
// host_agent.py's supervisor pass: a second, cheap LLM call that judges
// whether the ReAct loop actually finished the user's request before handing
// control back to them.
const supervisorProtocolSystem = `[SUPERVISOR PROTOCOL]
You are auditing another instance of yourself that just finished responding
to a user request. You see the full transcript of that turn, including every
tool call and result. Judge ONLY whether the stated task was actually
completed — not whether the response was polished.

Respond with nothing but a single JSON object, no prose, no markdown fence:
{"status": "COMPLETE", "instruction": ""}
or
{"status": "INCOMPLETE", "instruction": "<the one concrete next step>"}

Default to COMPLETE unless you can point to a specific unmet part of the
request.`

// noInfoSentinel is returned by the fact-extraction call when nothing in the
// turn is worth remembering long-term (see runFactExtraction).
const noInfoSentinel = "NO_INFO"

// factExtractionSystem is the system prompt for the fire-and-forget memory
// extraction call that runs after a turn finalizes. Grounded on
// host_agent.py's _extract_and_save_memory_async.
const factExtractionSystem = `Read the exchange below. If it contains a durable fact worth remembering
about the user or this machine for future conversations (a name, a
preference, a path, a recurring project), respond with that fact as a single
plain sentence. Otherwise respond with exactly: ` + noInfoSentinel

// SupervisorVerdict is the parsed result of a supervisor protocol call.
type SupervisorVerdict struct {
	Status      string `json:"status"`
	Instruction string `json:"instruction"`
}

// parseSupervisorVerdict parses the supervisor's JSON verdict, falling back
// to COMPLETE on any malformed or ambiguous response so a confused
// supervisor can never wedge the loop into an infinite retry cycle.
func parseSupervisorVerdict(raw string) SupervisorVerdict {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return SupervisorVerdict{Status: "COMPLETE"}
	}

	var verdict SupervisorVerdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &verdict); err != nil {
		return SupervisorVerdict{Status: "COMPLETE"}
	}
	if strings.ToUpper(strings.TrimSpace(verdict.Status)) != "INCOMPLETE" {
		return SupervisorVerdict{Status: "COMPLETE"}
	}
	return SupervisorVerdict{Status: "INCOMPLETE", Instruction: verdict.Instruction}
}

package manifest

import (
	"runtime"

	"github.com/darbylab/darby/internal/capability"
)

// Defaults returns the bundled fallback document used for routing before any
// manifest has been generated (or when the file on disk is malformed).
func Defaults() *Manifest {
	m := &Manifest{
		InstantAnswers: defaultInstantAnswers(),
		BashCommands:   defaultBashCommands(),
		Categories:     defaultCategories(),
	}
	normalize(m)
	return m
}

// defaultInstantAnswers documents the Tier-0 patterns. The router owns the
// actual regex table; this mapping exists so the capabilities answer and
// humans reading the file can see what short-circuits.
func defaultInstantAnswers() map[string]string {
	return map[string]string{
		"what time is it|current time|time now":                    "time",
		"what day is it|what is the date|todays date|current date": "date",
		"hello|hi|hey|good morning|good evening":                   "greeting",
		"what can you do|capabilities|list skills|help":            "capabilities",
	}
}

// defaultBashCommands is the Tier-1 shortcut table: read-only commands whose
// trimmed stdout answers the request directly.
func defaultBashCommands() map[string]string {
	cmds := map[string]string{
		"uptime|how long running|system uptime": "uptime",
		"disk space|disk usage|free disk space": "df -h",
		"current directory|working directory":   "pwd",
		"who am i|current user|username":        "whoami",
		"hostname|computer name|machine name":   "hostname",
		"public ip|external ip":                 "curl -s --max-time 5 https://ifconfig.me",
	}
	if runtime.GOOS == "darwin" {
		cmds["memory usage|free memory|ram usage"] = "vm_stat"
		cmds["local ip|my ip address|ip address"] = "ipconfig getifaddr en0"
		cmds["battery|battery level|power status"] = "pmset -g batt"
	} else {
		cmds["memory usage|free memory|ram usage"] = "free -h"
		cmds["local ip|my ip address|ip address"] = "hostname -I"
	}
	return cmds
}

// defaultCategories is the bundled fallback used when model generation is
// unavailable or returns something unparseable.
func defaultCategories() []Category {
	cats := []Category{
		{
			ID:       "file_operations",
			Patterns: []string{"create file|new file|make a file", "read file|open file|show file", "delete file|remove file", "move file|rename file", "list files|show files"},
			Tools:    []string{capability.ToolReadFile, capability.ToolWriteFile},
		},
		{
			ID:       "system_info",
			Patterns: []string{"system info|system status", "cpu usage|processor load", "running processes|process list", "os version|software version"},
		},
		{
			ID:       "web_lookup",
			Patterns: []string{"search for|look up|find information", "fetch url|download page|get website", "check website|is site up"},
			Tools:    []string{capability.ToolFetchURL},
		},
		{
			ID:        "email",
			Patterns:  []string{"send email|compose email|write email", "check email|unread mail|new mail", "reply to email"},
			AgentType: AgentPlanExecute,
		},
		{
			ID:        "calendar",
			Patterns:  []string{"create event|schedule meeting|add to calendar", "next meeting|upcoming events|my schedule", "cancel event|delete meeting"},
			AgentType: AgentPlanExecute,
		},
		{
			ID:        "messages",
			Patterns:  []string{"send message|send sms|text someone", "unread messages|new texts", "reply to message"},
			AgentType: AgentPlanExecute,
		},
		{
			ID:       "reminders",
			Patterns: []string{"remind me|set reminder|create reminder", "list reminders|my reminders", "every day|every hour|schedule task"},
		},
		{
			ID:       "notes",
			Patterns: []string{"take a note|write down|note that", "show notes|my notes|find note"},
			Tools:    []string{capability.ToolWriteFile, capability.ToolReadFile},
		},
		{
			ID:         "git_operations",
			Patterns:   []string{"git status|uncommitted changes", "commit changes|create commit", "pull request|review pr|open pr", "recent commits|git log"},
			AgentType:  AgentPlanExecute,
			PromptTier: TierFull,
		},
		{
			ID:         "weather",
			Patterns:   []string{"weather|forecast|temperature outside", "will it rain|chance of rain"},
			Tools:      []string{capability.ToolFetchURL},
			PromptTier: TierMinimal,
		},
		{
			ID:         "media",
			Patterns:   []string{"play music|pause music|next track", "volume up|volume down|mute"},
			PromptTier: TierMinimal,
		},
		{
			ID:        "smart_home",
			Patterns:  []string{"turn on lights|turn off lights|dim lights", "set temperature|thermostat"},
			AgentType: AgentPlanExecute,
		},
	}

	for i := range cats {
		cats[i].Tools = EnsureCoreTools(cats[i].Tools)
		if cats[i].Skills == nil {
			cats[i].Skills = []string{}
		}
		if cats[i].AgentType == "" {
			cats[i].AgentType = AgentReact
		}
		if cats[i].PromptTier == "" {
			cats[i].PromptTier = TierStandard
		}
	}
	return cats
}

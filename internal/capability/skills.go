package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Skill files are markdown with a small front-matter block:
//
//	---
//	name: weather-report
//	description: Fetch the weather for a city
//	---
//	curl -s "https://wttr.in/{{CITY}}?format=3"
//
// The body after the closing delimiter is the skill's instructions. A file
// without front-matter is accepted; its name derives from the filename.

// LoadSkills replaces the registry's skill set with the contents of dir.
// A missing directory is not an error; it just means no skills yet.
func (r *Registry) LoadSkills(dir string) error {
	skills, err := readSkillDir(dir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.skills = skills
	r.mu.Unlock()

	log.Debug().Int("count", len(skills)).Str("dir", dir).Msg("Loaded skills")
	return nil
}

func readSkillDir(dir string) (map[string]Skill, error) {
	skills := make(map[string]Skill)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return skills, nil
		}
		return nil, fmt.Errorf("read skills directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			// A skill can be a subdirectory holding SKILL.md.
			path = filepath.Join(path, "SKILL.md")
			if _, err := os.Stat(path); err != nil {
				continue
			}
		} else if !strings.HasSuffix(strings.ToLower(entry.Name()), ".md") {
			continue
		}

		skill, err := parseSkillFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping unparseable skill file")
			continue
		}
		skills[skill.Name] = skill
	}
	return skills, nil
}

func parseSkillFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}

	skill := Skill{
		Name: defaultSkillName(path),
		Path: path,
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	body := content

	if strings.HasPrefix(content, "---\n") {
		rest := content[len("---\n"):]
		end := strings.Index(rest, "\n---")
		if end >= 0 {
			front := rest[:end]
			body = strings.TrimPrefix(rest[end+len("\n---"):], "\n")
			for _, line := range strings.Split(front, "\n") {
				key, value, found := strings.Cut(line, ":")
				if !found {
					continue
				}
				value = strings.TrimSpace(value)
				switch strings.ToLower(strings.TrimSpace(key)) {
				case "name":
					if value != "" {
						skill.Name = value
					}
				case "description":
					skill.Description = value
				}
			}
		}
	}

	skill.Instructions = strings.TrimSpace(body)
	if skill.Instructions == "" {
		return Skill{}, fmt.Errorf("skill %s has no instructions", path)
	}
	if skill.Description == "" {
		// First line of the body doubles as the description.
		skill.Description = firstLine(skill.Instructions)
	}
	return skill, nil
}

func defaultSkillName(path string) string {
	base := filepath.Base(path)
	if strings.EqualFold(base, "SKILL.md") {
		return filepath.Base(filepath.Dir(path))
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(strings.TrimLeft(s, "# "))
}

package skill

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Skill is one SKILL.md document. The directory name is the skill
// name; the frontmatter carries the description and dependencies.
type Skill struct {
	Name        string
	Path        string
	Description string
	Content     string
	Requires    []string
}

type frontmatter struct {
	Description string   `yaml:"description"`
	Requires    []string `yaml:"requires"`
}

// Library loads and selects markdown skills from a directory tree.
// Every SKILL.md under the root is one skill.
type Library struct {
	root string
}

func NewLibrary(root string) *Library {
	return &Library{root: root}
}

// List returns all skills sorted by name. A missing skills directory
// means no skills.
func (l *Library) List() ([]Skill, error) {
	if _, err := os.Stat(l.root); os.IsNotExist(err) {
		return nil, nil
	}

	var skills []Skill
	err := filepath.WalkDir(l.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "SKILL.md" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return goerr.Wrap(err, "failed to read skill file", goerr.V("path", path))
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			return nil
		}

		skill := parseSkill(filepath.Base(filepath.Dir(path)), path, content)
		skills = append(skills, skill)
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to scan skills directory", goerr.V("root", l.root))
	}

	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills, nil
}

// Summary renders the skill list for the system prompt. Empty when no
// skills are installed.
func (l *Library) Summary() (string, error) {
	skills, err := l.List()
	if err != nil {
		return "", err
	}
	if len(skills) == 0 {
		return "", nil
	}

	lines := []string{"Available skills:"}
	for _, s := range skills {
		lines = append(lines, "- "+s.Name+": "+s.Description)
	}
	return strings.Join(lines, "\n"), nil
}

// SelectForMessage picks up to maxSkills skills relevant to the
// message: explicit name mention first, then description keyword
// overlap, plus one level of required dependencies. Ordering is
// deterministic.
func (l *Library) SelectForMessage(message string, maxSkills int) ([]Skill, error) {
	if maxSkills <= 0 {
		return nil, nil
	}

	available, err := l.List()
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, nil
	}

	text := strings.ToLower(message)
	byName := make(map[string]Skill, len(available))
	for _, s := range available {
		byName[s.Name] = s
	}

	var selected []Skill
	for _, s := range available {
		if mentioned(text, s.Name) || keywordHit(text, s.Description) {
			selected = append(selected, s)
		}
	}
	if len(selected) == 0 {
		return nil, nil
	}

	sort.SliceStable(selected, func(i, j int) bool {
		mi, mj := mentioned(text, selected[i].Name), mentioned(text, selected[j].Name)
		if mi != mj {
			return mi
		}
		return selected[i].Name < selected[j].Name
	})
	if len(selected) > maxSkills {
		selected = selected[:maxSkills]
	}

	// one-level dependency expansion, no recursion
	names := make(map[string]bool, len(selected))
	for _, s := range selected {
		names[s.Name] = true
	}
	for _, s := range selected {
		for _, req := range s.Requires {
			if dep, ok := byName[req]; ok && !names[req] {
				selected = append(selected, dep)
				names[req] = true
			}
		}
	}
	if len(selected) > maxSkills {
		selected = selected[:maxSkills]
	}

	return selected, nil
}

func parseSkill(name, path, content string) Skill {
	skill := Skill{
		Name:        name,
		Path:        path,
		Description: "Skill instructions",
		Content:     content,
	}

	body := content
	if raw, rest, ok := splitFrontmatter(content); ok {
		var fm frontmatter
		if err := yaml.Unmarshal([]byte(raw), &fm); err == nil {
			if fm.Description != "" {
				skill.Description = fm.Description
			}
			skill.Requires = fm.Requires
		}
		body = rest
	}

	if skill.Description == "Skill instructions" {
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if len(line) > 180 {
				line = line[:180]
			}
			skill.Description = line
			break
		}
	}

	return skill
}

func splitFrontmatter(content string) (meta, body string, ok bool) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", content, false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), true
		}
	}
	return "", content, false
}

func mentioned(text, name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(text, "$"+lower) {
		return true
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(lower) + `\b`)
	return re.MatchString(text)
}

var keywordPattern = regexp.MustCompile(`[a-z0-9_]{4,}`)

var stopWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "into": true,
	"about": true, "your": true, "when": true, "where": true, "which": true,
	"should": true, "would": true, "could": true, "skill": true,
	"instructions": true,
}

func keywordHit(text, description string) bool {
	for _, word := range keywordPattern.FindAllString(strings.ToLower(description), -1) {
		if stopWords[word] {
			continue
		}
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}

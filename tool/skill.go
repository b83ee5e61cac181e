package tool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Skill is one loadable skill document.
type Skill struct {
	Name        string
	Description string
	Path        string
}

type skillHeader struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SkillSet indexes SKILL.md documents under a skills directory. The index
// reloads when the directory changes.
type SkillSet struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	skills map[string]Skill

	watcher *fsnotify.Watcher
	closeCh chan struct{}
}

// NewSkillSet scans dir and starts watching it for changes. A missing
// directory yields an empty set without error.
func NewSkillSet(dir string, logger *slog.Logger) (*SkillSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SkillSet{
		dir:     dir,
		logger:  logger,
		skills:  make(map[string]Skill),
		closeCh: make(chan struct{}),
	}
	if _, err := os.Stat(dir); err == nil {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("skill watcher: %w", err)
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		s.watcher = watcher
	}
	s.reload()
	if s.watcher != nil {
		go s.watch()
	}
	return s, nil
}

func (s *SkillSet) watch() {
	for {
		select {
		case <-s.closeCh:
			return
		case _, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			// Debounce: a new skill arrives as mkdir followed by the file
			// write; coalesce the burst into one rescan.
			timer := time.NewTimer(100 * time.Millisecond)
		drain:
			for {
				select {
				case <-s.closeCh:
					timer.Stop()
					return
				case _, ok := <-s.watcher.Events:
					if !ok {
						timer.Stop()
						return
					}
				case <-timer.C:
					break drain
				}
			}
			s.reload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("skill watcher error", "error", err)
		}
	}
}

// reload rescans the skills directory. Each immediate subdirectory holding a
// SKILL.md contributes one skill; a parse failure skips that entry only.
func (s *SkillSet) reload() {
	skills := make(map[string]Skill)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.mu.Lock()
		s.skills = skills
		s.mu.Unlock()
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		// Watch per-skill directories too; fsnotify is not recursive.
		if s.watcher != nil {
			_ = s.watcher.Add(filepath.Join(s.dir, entry.Name()))
		}
		path := filepath.Join(s.dir, entry.Name(), "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		skill := parseSkill(entry.Name(), path, string(data))
		skills[skill.Name] = skill
	}

	s.mu.Lock()
	s.skills = skills
	s.mu.Unlock()
}

// parseSkill extracts the name/description header from a SKILL.md document.
// The header is a YAML frontmatter block between --- lines; missing fields
// fall back to the directory name.
func parseSkill(dirName, path, content string) Skill {
	skill := Skill{Name: dirName, Path: path}

	trimmed := strings.TrimPrefix(content, "\ufeff")
	if strings.HasPrefix(trimmed, "---\n") {
		rest := trimmed[4:]
		if end := strings.Index(rest, "\n---"); end >= 0 {
			var header skillHeader
			if err := yaml.Unmarshal([]byte(rest[:end]), &header); err == nil {
				if header.Name != "" {
					skill.Name = header.Name
				}
				skill.Description = header.Description
			}
		}
	}
	return skill
}

// List returns the indexed skills sorted by name.
func (s *SkillSet) List() []Skill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Skill, 0, len(s.skills))
	for _, skill := range s.skills {
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load returns the full document for a named skill.
func (s *SkillSet) Load(name string) (string, error) {
	s.mu.RLock()
	skill, ok := s.skills[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no skill named %s", name)
	}
	data, err := os.ReadFile(skill.Path)
	if err != nil {
		return "", fmt.Errorf("load skill %s: %w", name, err)
	}
	return string(data), nil
}

// Close stops the directory watcher.
func (s *SkillSet) Close() {
	close(s.closeCh)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

// RegisterSkillTool registers the skill tool against a SkillSet.
func RegisterSkillTool(reg *Registry, skills *SkillSet) {
	reg.Register(&skillTool{skills: skills})
}

type skillTool struct {
	skills *SkillSet
}

func (t *skillTool) Name() string { return "skill" }

func (t *skillTool) Description() string {
	return "Load a skill document by name, or list available skills when called without a name."
}

func (t *skillTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Skill name to load. Omit to list available skills.",
			},
		},
	}
}

func (t *skillTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	name, _ := StringArg(args, "name")
	if name == "" {
		skills := t.skills.List()
		if len(skills) == 0 {
			return Ok("No skills available."), nil
		}
		var sb strings.Builder
		for _, skill := range skills {
			fmt.Fprintf(&sb, "%s: %s\n", skill.Name, skill.Description)
		}
		return Ok(sb.String()), nil
	}

	content, err := t.skills.Load(name)
	if err != nil {
		return Fail(err.Error()), nil
	}
	return Ok(content), nil
}

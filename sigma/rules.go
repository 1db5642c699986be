package sigma

import (
	"os"
	"path/filepath"

	"github.com/bradleyjkemp/sigma-go"
	"github.com/pkg/errors"
)

// ErrRuleNotFound is returned when no rule file carries the requested ID.
var ErrRuleNotFound = errors.New("rule not found")

// RuleInfo describes a rule file in one of the rule directories
type RuleInfo struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Level       string   `json:"level"`
	Author      string   `json:"author"`
	Tags        []string `json:"tags"`
	Filename    string   `json:"filename"`
	Enabled     bool     `json:"enabled"`
	YAML        string   `json:"yaml,omitempty"`
}

func newRuleInfo(rule sigma.Rule, filename string, enabled bool, content []byte) RuleInfo {
	return RuleInfo{
		ID:          rule.ID,
		Title:       rule.Title,
		Description: rule.Description,
		Level:       rule.Level,
		Author:      rule.Author,
		Tags:        rule.Tags,
		Filename:    filename,
		Enabled:     enabled,
		YAML:        string(content),
	}
}

// ListRules returns the enabled rules followed by the disabled ones.
// Unreadable files are skipped.
func (sd *Detector) ListRules() ([]RuleInfo, error) {
	enabled, err := readRulesFromDir(sd.enabledDir(), true)
	if err != nil {
		return nil, err
	}
	disabled, err := readRulesFromDir(sd.disabledDir(), false)
	if err != nil {
		return nil, err
	}
	return append(enabled, disabled...), nil
}

func readRulesFromDir(dir string, enabled bool) ([]RuleInfo, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var rules []RuleInfo
	for _, file := range files {
		if file.IsDir() || !isRuleFile(file.Name()) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			continue
		}
		rule, err := parseRule(content)
		if err != nil {
			continue
		}
		rules = append(rules, newRuleInfo(rule, file.Name(), enabled, content))
	}
	return rules, nil
}

// ToggleRule moves the rule with id between enabled_rules and
// disabled_rules. The watcher picks up the change.
func (sd *Detector) ToggleRule(id string) (RuleInfo, error) {
	rules, err := sd.ListRules()
	if err != nil {
		return RuleInfo{}, err
	}
	for _, info := range rules {
		if info.ID != id {
			continue
		}
		src, dst := sd.enabledDir(), sd.disabledDir()
		if !info.Enabled {
			src, dst = dst, src
		}
		if err := os.Rename(filepath.Join(src, info.Filename), filepath.Join(dst, info.Filename)); err != nil {
			return RuleInfo{}, errors.Wrap(err, "failed to move rule file")
		}
		info.Enabled = !info.Enabled
		return info, nil
	}
	return RuleInfo{}, ErrRuleNotFound
}

// SaveRule validates content and writes it as filename into the enabled
// or disabled rule directory.
func (sd *Detector) SaveRule(filename string, content []byte, enabled bool) (RuleInfo, error) {
	if filename == "" || filepath.Base(filename) != filename || !isRuleFile(filename) {
		return RuleInfo{}, errors.Errorf("invalid rule file name %q", filename)
	}
	rule, err := parseRule(content)
	if err != nil {
		return RuleInfo{}, err
	}
	dir := sd.disabledDir()
	if enabled {
		dir = sd.enabledDir()
	}
	if err := os.WriteFile(filepath.Join(dir, filename), content, 0644); err != nil {
		return RuleInfo{}, errors.Wrap(err, "failed to write rule file")
	}
	return newRuleInfo(rule, filename, enabled, content), nil
}

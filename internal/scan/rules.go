// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package scan

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Rule is a named pattern evaluated at one stage.
type Rule struct {
	Name     string
	Stage    Stage
	Pattern  *regexp.Regexp
	Severity Severity
}

func (r Rule) validate() error {
	switch {
	case r.Name == "":
		return sorcerr.New(sorcerr.CodeConfigValidateInvalidValue, "rule name is empty")
	case r.Pattern == nil:
		return sorcerr.Errorf(sorcerr.CodeConfigValidateInvalidValue, "rule %q has no pattern", r.Name)
	case !r.Stage.Valid():
		return sorcerr.Errorf(sorcerr.CodeConfigValidateInvalidValue, "rule %q has invalid stage %q", r.Name, r.Stage)
	case !r.Severity.Valid():
		return sorcerr.Errorf(sorcerr.CodeConfigValidateInvalidValue, "rule %q has invalid severity %q", r.Name, r.Severity)
	}
	return nil
}

// DefaultRules returns the built-in secret and prompt rules.
func DefaultRules() []Rule {
	return append(SecretRules(), PromptRules()...)
}

// PromptRules detect instruction-override text aimed at a model.
func PromptRules() []Rule {
	return []Rule{
		{
			Name:     "instruction_override",
			Stage:    StagePrompt,
			Pattern:  regexp.MustCompile(`(?i)(ignore|disregard|override|forget|do\s+not\s+follow)\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`),
			Severity: SeverityHigh,
		},
		{
			Name:     "role_confusion",
			Stage:    StagePrompt,
			Pattern:  regexp.MustCompile(`(?i)you\s+are\s+now\s+\w+[,.]?\s*(do|ignore|forget|disregard)`),
			Severity: SeverityHigh,
		},
		{
			Name:     "system_block",
			Stage:    StagePrompt,
			Pattern:  regexp.MustCompile("(?i)```system\\b"),
			Severity: SeverityHigh,
		},
		{
			Name:     "new_instructions",
			Stage:    StagePrompt,
			Pattern:  regexp.MustCompile(`(?i)(new\s+task|from\s+now\s+on|pretend\s+(?:the\s+)?(?:above|previous)\s+(?:rules?|instructions?)\s+(?:do\s+not|don'?t)\s+exist)`),
			Severity: SeverityMedium,
		},
		{
			Name:     "delimiter_abuse",
			Stage:    StagePrompt,
			Pattern:  regexp.MustCompile(`(?i)(?:<\|?system\|?>|\[system\]|<<SYS>>|\[INST\])`),
			Severity: SeverityHigh,
		},
		{
			Name:     "system_prefix",
			Stage:    StagePrompt,
			Pattern:  regexp.MustCompile(`(?im)^SYSTEM:\s`),
			Severity: SeverityMedium,
		},
	}
}

// SecretRules detect credentials in documents bound for an index.
func SecretRules() []Rule {
	return []Rule{
		{Name: "aws_access_key", Stage: StageIngest, Pattern: regexp.MustCompile(`AKIA[0-9A-Z]{16}`), Severity: SeverityHigh},
		{Name: "openai_project_key", Stage: StageIngest, Pattern: regexp.MustCompile(`sk-proj-[A-Za-z0-9_-]{20,}`), Severity: SeverityHigh},
		{Name: "openai_key", Stage: StageIngest, Pattern: regexp.MustCompile(`sk-[A-Za-z0-9]{40,}`), Severity: SeverityHigh},
		{Name: "anthropic_key", Stage: StageIngest, Pattern: regexp.MustCompile(`sk-ant-api\d{2}-[A-Za-z0-9_-]{20,}`), Severity: SeverityHigh},
		{Name: "github_token", Stage: StageIngest, Pattern: regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`), Severity: SeverityHigh},
		{Name: "github_pat", Stage: StageIngest, Pattern: regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`), Severity: SeverityHigh},
		{Name: "slack_token", Stage: StageIngest, Pattern: regexp.MustCompile(`xox[bpas]-[A-Za-z0-9-]+`), Severity: SeverityHigh},
		{Name: "google_api_key", Stage: StageIngest, Pattern: regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`), Severity: SeverityHigh},
		{Name: "bearer_token", Stage: StageIngest, Pattern: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]{20,}`), Severity: SeverityMedium},
		{Name: "private_key", Stage: StageIngest, Pattern: regexp.MustCompile(`-----BEGIN\s+(RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), Severity: SeverityHigh},
		{Name: "database_url", Stage: StageIngest, Pattern: regexp.MustCompile(`(?i)(postgres|mysql|mongodb|redis|jdbc:[a-z]+)://[^\s]+:[^\s]+@[^\s]+`), Severity: SeverityHigh},
		{Name: "connection_string", Stage: StageIngest, Pattern: regexp.MustCompile(`(?i)(?:Server|Data Source)\s*=\s*[^;]+;\s*(?:Password|Pwd)\s*=\s*[^;]+`), Severity: SeverityHigh},
		{Name: "keyring_uri", Stage: StageIngest, Pattern: regexp.MustCompile(`keyring://[^\s]+`), Severity: SeverityLow},
	}
}

type ruleFile struct {
	Rules []struct {
		Name     string `yaml:"name"`
		Stage    string `yaml:"stage"`
		Pattern  string `yaml:"pattern"`
		Severity string `yaml:"severity"`
	} `yaml:"rules"`
}

// ParseRules decodes rules from YAML of the form
//
//	rules:
//	  - name: internal_host
//	    stage: ingest
//	    pattern: '\bcorp\.internal\b'
//	    severity: medium
//
// Stage defaults to ingest and severity to medium.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, sorcerr.Wrap(err, sorcerr.CodeConfigParseInvalidFormat, "parsing scan rules")
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, raw := range f.Rules {
		re, err := regexp.Compile(raw.Pattern)
		if err != nil {
			return nil, sorcerr.Wrapf(err, sorcerr.CodeConfigParseInvalidFormat, "rule %d (%s): bad pattern", i, raw.Name)
		}
		r := Rule{Name: raw.Name, Stage: Stage(raw.Stage), Pattern: re, Severity: Severity(raw.Severity)}
		if r.Stage == "" {
			r.Stage = StageIngest
		}
		if r.Severity == "" {
			r.Severity = SeverityMedium
		}
		if err := r.validate(); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// LoadRules reads ParseRules input from path.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sorcerr.Wrapf(err, sorcerr.CodeConfigLoadReadFailure, "reading scan rules %s", path)
	}
	return ParseRules(data)
}

// Package ruleconfig loads and validates rule sets for the matching
// engine (pkg/engine), generalizing the teacher's versioned
// configuration loader from a CloudTrail drop-filter to the full
// FieldMatchSpec/Rule/plugin rule shape.
package ruleconfig

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"tflow/pkg/engine"
)

// RuleSet is the top-level document shape a rule file is unmarshalled
// into: a semver-tagged, optionally-annotated list of engine rules.
type RuleSet struct {
	Version string       `yaml:"version" validate:"required,semver"`
	Rules   []engine.Rule `yaml:"rules" validate:"required,dive"`
	Meta    *Meta         `yaml:"meta,omitempty"`
}

// Meta mirrors the teacher's ConfigMeta: free-form provenance that
// never participates in matching.
type Meta struct {
	Description string            `yaml:"description,omitempty"`
	Author      string            `yaml:"author,omitempty"`
	CreatedAt   string            `yaml:"created_at,omitempty"`
	UpdatedAt   string            `yaml:"updated_at,omitempty"`
	Tags        []string          `yaml:"tags,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
}

// ValidationError reports one failed field constraint.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s (rule: %s): %s", e.Field, e.Rule, e.Message)
}

// ValidationErrors collects every failed constraint from one Validate call.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Load parses and validates a rule set from raw YAML.
func Load(raw string) (*RuleSet, error) {
	rs := new(RuleSet)
	if err := yaml.Unmarshal([]byte(raw), rs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule set: %w", err)
	}
	if rs.Version == "" {
		return nil, fmt.Errorf("rule set version is required")
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("rule set validation failed: %w", err)
	}
	return rs, nil
}

// Validate runs struct-tag validation plus the checks tags alone can't
// express: duplicate rule names, RegexMatch patterns that fail the
// is-regex checks, and nesting MultiPlugin names on themselves. Plugin
// names are not checked against any plugin registry here.
func (rs *RuleSet) Validate() error {
	v := validator.New()
	for tag, fn := range customValidators {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	if err := v.Struct(rs); err != nil {
		return err
	}

	var errs ValidationErrors
	if dup := rs.checkDuplicateNames(); dup != nil {
		errs = append(errs, *dup)
	}
	for _, r := range rs.Rules {
		for _, spec := range r.FieldCheckList {
			pattern, isString := spec.MatchContent.(string)
			if (spec.MatchCode != engine.MatchRegex && spec.MatchCode != -engine.MatchRegex) || !isString {
				continue
			}
			_, compileErr := regexp.Compile(pattern)
			if len(pattern) > 1000 || containsReDoSPattern(pattern) || compileErr != nil {
				errs = append(errs, ValidationError{Field: "match_content", Rule: r.Name, Message: "invalid or potentially dangerous regex pattern"})
			}
		}
	}
	errs = append(errs, rs.checkPluginNesting()...)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (rs *RuleSet) checkDuplicateNames() *ValidationError {
	seen := make(map[string]bool, len(rs.Rules))
	for _, r := range rs.Rules {
		if r.Name == "" {
			continue
		}
		if seen[r.Name] {
			return &ValidationError{Field: "rules", Rule: r.Name, Message: "duplicate rule name"}
		}
		seen[r.Name] = true
	}
	return nil
}

// checkPluginNesting rejects a MultiPlugin rule that names itself in
// its own PluginNames, which would recurse through PluginExec forever.
func (rs *RuleSet) checkPluginNesting() ValidationErrors {
	var errs ValidationErrors
	for _, r := range rs.Rules {
		if r.PluginNames == "" {
			continue
		}
		for _, name := range strings.Split(r.PluginNames, ";") {
			if strings.TrimSpace(name) == "multiplugin" {
				errs = append(errs, ValidationError{
					Field: "plugin_names", Rule: r.Name,
					Message: "multiplugin cannot list itself in plugin_names",
				})
			}
		}
	}
	return errs
}

// ToRules extracts the plain []engine.Rule slice for engine.NewEngine.
func (rs *RuleSet) ToRules() []engine.Rule {
	return rs.Rules
}

// Export serializes the rule set back to yaml or json.
func (rs *RuleSet) Export(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return yaml.Marshal(rs)
	case "json":
		return marshalJSON(rs)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

var customValidators = map[string]validator.Func{
	"is-match-code":    validateMatchCode,
	"is-operator-code": validateOperatorCode,
	"is-regex":         validateIsRegex,
	"semver":           validateSemver,
}

func validateMatchCode(fl validator.FieldLevel) bool {
	code := int(fl.Field().Int())
	if code < 0 {
		code = -code
	}
	return code >= engine.MatchEqual && code <= engine.MatchLengthGreaterThan
}

func validateOperatorCode(fl validator.FieldLevel) bool {
	code := int(fl.Field().Int())
	if code < 0 {
		code = -code
	}
	return code == engine.OpAND || code == engine.OpOR
}

// validateIsRegex reuses the teacher's ReDoS deny-list approach: reject
// patterns matching known exponential-backtracking shapes before
// attempting compilation.
func validateIsRegex(fl validator.FieldLevel) bool {
	pattern := fl.Field().String()
	if pattern == "" {
		return true
	}
	if len(pattern) > 1000 {
		return false
	}
	if containsReDoSPattern(pattern) {
		log.Warn().Str("pattern", pattern).Msg("potentially dangerous regex pattern rejected")
		return false
	}
	_, err := regexp.Compile(pattern)
	return err == nil
}

var dangerousPatterns = []string{
	`\(\.\*\)\+`,
	`\(\.\+\)\+`,
	`\(\w\+\)\*\w\*`,
	`\(\d\+\)\+`,
	`\(\.\*\)\*`,
	`\(\[\^/\]\+\)\+/`,
}

func containsReDoSPattern(pattern string) bool {
	for _, d := range dangerousPatterns {
		if matched, _ := regexp.MatchString(d, pattern); matched {
			return true
		}
	}
	return false
}

func validateSemver(fl validator.FieldLevel) bool {
	semverRegex := regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.]+)?(\+[a-zA-Z0-9.]+)?$`)
	return semverRegex.MatchString(fl.Field().String())
}

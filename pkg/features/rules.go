package features

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidRules = errors.New("invalid classification rules")

// Word edges over Unicode letters and digits. RE2's \b only knows ASCII word characters,
// which would let "éHTN" match a \bHTN\b rule.
const (
	wordEdgeStart = `(?:^|[^\p{L}\p{N}_])`
	wordEdgeEnd   = `(?:$|[^\p{L}\p{N}_])`
)

var leadingFlags = regexp.MustCompile(`^\(\?[a-zA-Z]+\)`)

// CompilePattern compiles a condition pattern. A pattern whose body is wrapped in \b ... \b
// has those boundaries replaced with Unicode-aware edges; the text stored in the rules
// file is left as written. The result is only suitable for match tests, since the edges
// consume the neighbouring character.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	flags := leadingFlags.FindString(pattern)
	body := pattern[len(flags):]
	if len(body) > 4 && strings.HasPrefix(body, `\b`) && strings.HasSuffix(body, `\b`) && !strings.HasSuffix(body, `\\b`) {
		body = wordEdgeStart + "(?:" + body[2:len(body)-2] + ")" + wordEdgeEnd
	}
	return regexp.Compile(flags + body)
}

// ConditionRule flags a condition when the notes match Pattern or the diagnosis
// contains DiagnosisTerm.
type ConditionRule struct {
	Pattern       string `yaml:"pattern" json:"pattern"`
	DiagnosisTerm string `yaml:"diagnosis_term" json:"diagnosis_term"`
}

type LabRule struct {
	TestFilter string `yaml:"test_filter" json:"test_filter"`
	TestName   string `yaml:"test_name" json:"test_name"`
}

type Rules struct {
	SmokingKeywords []string      `yaml:"smoking_keywords" json:"smoking_keywords"`
	Hypertension    ConditionRule `yaml:"hypertension" json:"hypertension"`
	Diabetes        ConditionRule `yaml:"diabetes" json:"diabetes"`
	NullNotes       []string      `yaml:"null_notes" json:"null_notes"`
	HDL             LabRule       `yaml:"hdl" json:"hdl"`
}

// LoadRules reads a yaml rules file on top of DefaultRules; keys absent from the file
// keep their default.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Rules{}, fmt.Errorf("reading rules: %w", err)
	}
	if err := yaml.Unmarshal(content, &rules); err != nil {
		return Rules{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r Rules) Validate() error {
	if len(r.SmokingKeywords) == 0 {
		return fmt.Errorf("%w: no smoking keywords", ErrInvalidRules)
	}
	for name, cond := range map[string]ConditionRule{"hypertension": r.Hypertension, "diabetes": r.Diabetes} {
		if cond.Pattern == "" {
			return fmt.Errorf("%w: %s pattern empty", ErrInvalidRules, name)
		}
		if _, err := CompilePattern(cond.Pattern); err != nil {
			return fmt.Errorf("%w: %s pattern: %v", ErrInvalidRules, name, err)
		}
	}
	if r.HDL.TestFilter == "" || r.HDL.TestName == "" {
		return fmt.Errorf("%w: hdl test filter and name required", ErrInvalidRules)
	}
	return nil
}

func (r Rules) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// DefaultRules are the clinical classification lists used for the published scores.
// Changing them changes which encounters are flagged.
func DefaultRules() Rules {
	return Rules{
		SmokingKeywords: []string{"smokes", "has smoked", "of smoking"},
		Hypertension: ConditionRule{
			Pattern:       `(?i)\b(?:HTN|H(?:yperten(?:ision|tion|sion|ssion))|hypertension)\b`,
			DiagnosisTerm: "Hypertension",
		},
		Diabetes: ConditionRule{
			Pattern:       `(?i)\b(?:Diabetes)\b`,
			DiagnosisTerm: "Diabetes",
		},
		NullNotes: []string{"", "nan", "NaN", "None", "nan nan", "NaN NaN"},
		HDL: LabRule{
			TestFilter: "HDL",
			TestName:   "HDL-C",
		},
	}
}

// Package forms defines the seller questionnaire and validates answers
// against it. Fields can be conditional on the value of an earlier field;
// hidden fields never reach storage or prompts.
package forms

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed questionnaire.yaml
var defaultQuestionnaire []byte

type FieldType string

const (
	TypeText     FieldType = "text"
	TypeTextarea FieldType = "textarea"
	TypeNumber   FieldType = "number"
	TypeSelect   FieldType = "select"
	TypeBoolean  FieldType = "boolean"
)

const (
	maxTextLen     = 500
	maxTextareaLen = 10000
)

// Condition shows a field only while another field has the given value.
type Condition struct {
	Field  string `yaml:"field" json:"field"`
	Equals string `yaml:"equals" json:"equals"`
}

type Field struct {
	Key      string     `yaml:"key" json:"key"`
	Label    string     `yaml:"label" json:"label"`
	Type     FieldType  `yaml:"type" json:"type"`
	Required bool       `yaml:"required" json:"required"`
	Options  []string   `yaml:"options,omitempty" json:"options,omitempty"`
	ShowIf   *Condition `yaml:"show_if,omitempty" json:"show_if,omitempty"`
	// Confidential fields are kept out of public teasers.
	Confidential bool `yaml:"confidential,omitempty" json:"confidential,omitempty"`
}

type Section struct {
	Key    string  `yaml:"key" json:"key"`
	Title  string  `yaml:"title" json:"title"`
	Fields []Field `yaml:"fields" json:"fields"`
}

type Questionnaire struct {
	Name     string    `yaml:"name" json:"name"`
	Sections []Section `yaml:"sections" json:"sections"`

	index map[string]Field
}

// Data holds answers keyed by field key, as decoded from JSON.
type Data map[string]any

// ValidationError maps field keys to problems.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "forms: invalid answers: " + strings.Join(parts, "; ")
}

// Default parses the embedded questionnaire.
func Default() (*Questionnaire, error) {
	return Load(defaultQuestionnaire)
}

// Load parses a questionnaire definition. Conditions may only reference
// fields declared earlier, which rules out cycles.
func Load(data []byte) (*Questionnaire, error) {
	var q Questionnaire
	if err := yaml.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("forms: parse questionnaire: %w", err)
	}
	if len(q.Sections) == 0 {
		return nil, errors.New("forms: questionnaire has no sections")
	}

	q.index = make(map[string]Field)
	for _, s := range q.Sections {
		for _, f := range s.Fields {
			if f.Key == "" {
				return nil, fmt.Errorf("forms: section %q has a field without key", s.Key)
			}
			if _, dup := q.index[f.Key]; dup {
				return nil, fmt.Errorf("forms: duplicate field %q", f.Key)
			}
			switch f.Type {
			case TypeText, TypeTextarea, TypeNumber, TypeBoolean:
			case TypeSelect:
				if len(f.Options) == 0 {
					return nil, fmt.Errorf("forms: select field %q has no options", f.Key)
				}
			default:
				return nil, fmt.Errorf("forms: field %q has unknown type %q", f.Key, f.Type)
			}
			if f.ShowIf != nil {
				if _, ok := q.index[f.ShowIf.Field]; !ok {
					return nil, fmt.Errorf("forms: field %q depends on %q which is not declared before it", f.Key, f.ShowIf.Field)
				}
			}
			q.index[f.Key] = f
		}
	}
	return &q, nil
}

func (q *Questionnaire) Field(key string) (Field, bool) {
	f, ok := q.index[key]
	return f, ok
}

// Visible reports whether the field is shown for the given answers. A field
// whose controlling field is hidden is hidden as well.
func (q *Questionnaire) Visible(key string, data Data) bool {
	f, ok := q.index[key]
	if !ok {
		return false
	}
	if f.ShowIf == nil {
		return true
	}
	if !q.Visible(f.ShowIf.Field, data) {
		return false
	}
	ctrl := q.index[f.ShowIf.Field]
	return stringify(normalize(ctrl, data[ctrl.Key])) == f.ShowIf.Equals
}

// Clean keeps only visible, known, non-empty answers and normalizes them:
// strings are trimmed, numeric and boolean strings are converted.
func (q *Questionnaire) Clean(data Data) Data {
	out := make(Data)
	for _, s := range q.Sections {
		for _, f := range s.Fields {
			v, ok := data[f.Key]
			if !ok || isEmpty(v) || !q.Visible(f.Key, data) {
				continue
			}
			out[f.Key] = normalize(f, v)
		}
	}
	return out
}

// Validate type-checks every visible answer. With final set, every visible
// required field must be answered as well.
func (q *Questionnaire) Validate(data Data, final bool) error {
	problems := make(map[string]string)

	for _, s := range q.Sections {
		for _, f := range s.Fields {
			if !q.Visible(f.Key, data) {
				continue
			}
			v, ok := data[f.Key]
			if !ok || isEmpty(v) {
				if final && f.Required {
					problems[f.Key] = "is required"
				}
				continue
			}
			if msg := checkType(f, v); msg != "" {
				problems[f.Key] = msg
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Fields: problems}
	}
	return nil
}

// Describe renders visible answers as labelled plain text in questionnaire
// order. omitConfidential drops fields marked confidential.
func (q *Questionnaire) Describe(data Data, omitConfidential bool) string {
	var b strings.Builder
	for _, s := range q.Sections {
		var lines []string
		for _, f := range s.Fields {
			if omitConfidential && f.Confidential {
				continue
			}
			v, ok := data[f.Key]
			if !ok || isEmpty(v) || !q.Visible(f.Key, data) {
				continue
			}
			lines = append(lines, fmt.Sprintf("- %s: %s", f.Label, display(f, v)))
		}
		if len(lines) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s.Title)
		b.WriteString("\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// Text returns the answer for key as plain text, "" when absent.
func (d Data) Text(key string) string {
	return strings.TrimSpace(stringify(d[key]))
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		return true, true
	case "false", "no", "off", "0":
		return false, true
	}
	return false, false
}

func normalize(f Field, v any) any {
	switch f.Type {
	case TypeNumber:
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return n
			}
		}
		if n, ok := v.(int); ok {
			return float64(n)
		}
	case TypeBoolean:
		if s, ok := v.(string); ok {
			if b, ok := parseBool(s); ok {
				return b
			}
		}
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return v
}

func checkType(f Field, v any) string {
	switch f.Type {
	case TypeText, TypeTextarea:
		s, ok := v.(string)
		if !ok {
			return "must be text"
		}
		limit := maxTextLen
		if f.Type == TypeTextarea {
			limit = maxTextareaLen
		}
		if len(s) > limit {
			return fmt.Sprintf("must be at most %d characters", limit)
		}
	case TypeNumber:
		switch t := v.(type) {
		case float64, int, int64:
		case string:
			if _, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err != nil {
				return "must be a number"
			}
		default:
			return "must be a number"
		}
	case TypeBoolean:
		switch t := v.(type) {
		case bool:
		case string:
			if _, ok := parseBool(t); !ok {
				return "must be yes or no"
			}
		default:
			return "must be yes or no"
		}
	case TypeSelect:
		s := stringify(v)
		for _, o := range f.Options {
			if o == s {
				return ""
			}
		}
		return "must be one of " + strings.Join(f.Options, ", ")
	}
	return ""
}

func display(f Field, v any) string {
	switch f.Type {
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			b, _ = parseBool(stringify(v))
		}
		if b {
			return "Yes"
		}
		return "No"
	case TypeSelect:
		return strings.ReplaceAll(stringify(v), "_", " ")
	default:
		return stringify(v)
	}
}

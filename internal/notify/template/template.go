package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidTemplate  = errors.New("invalid template")
	ErrBuiltInReadOnly  = errors.New("built-in templates are read-only")
)

// Scope is the precedence tier of a template.
type Scope string

const (
	ScopeTenantOverride Scope = "tenant_override"
	ScopeSharedCustom   Scope = "shared_custom"
	ScopeBuiltInDefault Scope = "built_in_default"
)

// Template is a named, variable-substituted message.
type Template struct {
	ID          string    `json:"id,omitempty"`
	Scope       Scope     `json:"scope"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	BodyRich    string    `json:"body_html"`
	BodyPlain   string    `json:"body_text,omitempty"`
	Variables   []string  `json:"variables,omitempty"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Validate checks a persisted template.
func (t Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.Join(ErrInvalidTemplate, errors.New("name is required"))
	}
	if strings.TrimSpace(t.Subject) == "" && strings.TrimSpace(t.BodyRich) == "" && strings.TrimSpace(t.BodyPlain) == "" {
		return errors.Join(ErrInvalidTemplate, errors.New("template is empty"))
	}
	switch t.Scope {
	case ScopeTenantOverride:
		if t.TenantID == "" {
			return errors.Join(ErrInvalidTemplate, errors.New("tenant override requires tenant_id"))
		}
	case ScopeSharedCustom:
		if t.TenantID != "" {
			return errors.Join(ErrInvalidTemplate, errors.New("shared template must not carry tenant_id"))
		}
	case ScopeBuiltInDefault:
		return ErrBuiltInReadOnly
	default:
		return errors.Join(ErrInvalidTemplate, errors.New("unknown scope"))
	}
	return nil
}

// Rendered is a template after substitution.
type Rendered struct {
	Subject string `json:"subject"`
	Rich    string `json:"body_html"`
	Plain   string `json:"body_text"`
}

// Render substitutes vars into the template. Unknown placeholders are kept verbatim.
func Render(tpl Template, vars map[string]string) Rendered {
	r := placeholders(vars)
	out := Rendered{
		Subject: substitute(r, tpl.Subject),
		Rich:    substitute(r, tpl.BodyRich),
	}
	if strings.TrimSpace(tpl.BodyPlain) != "" {
		out.Plain = substitute(r, tpl.BodyPlain)
	} else {
		out.Plain = StripTags(out.Rich)
	}
	return out
}

// Stringify converts decoded JSON values to the strings Render substitutes.
// Numbers keep their shortest decimal form and nil becomes empty.
func Stringify(values map[string]any) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = stringValue(value)
	}
	return out
}

func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	default:
		return fmt.Sprint(v)
	}
}

// placeholders maps the tight {{key}} and spaced {{ key }} forms of every
// supplied key to its value. Replacement is a single pass, so values that
// themselves contain braces are not expanded again.
func placeholders(vars map[string]string) *strings.Replacer {
	if len(vars) == 0 {
		return nil
	}
	keys := make([]string, 0, len(vars))
	for key := range vars {
		if key != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys)*4)
	for _, key := range keys {
		pairs = append(pairs, "{{"+key+"}}", vars[key], "{{ "+key+" }}", vars[key])
	}
	return strings.NewReplacer(pairs...)
}

func substitute(r *strings.Replacer, text string) string {
	if r == nil || text == "" {
		return text
	}
	return r.Replace(text)
}

var (
	blockTags  = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/h[1-6]|/li|/tr)\s*/?>`)
	styleBlock = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`)
	anyTag     = regexp.MustCompile(`<[^>]*>`)
	blankLines = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// StripTags derives a plain-text body from rich text.
func StripTags(rich string) string {
	if rich == "" {
		return ""
	}
	text := styleBlock.ReplaceAllString(rich, "")
	text = blockTags.ReplaceAllString(text, "\n")
	text = anyTag.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

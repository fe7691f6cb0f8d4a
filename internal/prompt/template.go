package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands a template string with the given variables.
// {{variable}} is replaced with its value; missing variables cause an error.
// {{#if variable}}...{{/if}} blocks are kept only if the variable is non-empty.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := stripConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// stripConditionals resolves {{#if var}}...{{/if}} blocks, innermost first.
func stripConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeIdx := strings.Index(result, ifCloseStr)
		if closeIdx == -1 {
			break
		}

		// The matching open tag is the last one before this close tag.
		opens := ifOpenRe.FindAllStringSubmatchIndex(result[:closeIdx], -1)
		if len(opens) == 0 {
			return "", fmt.Errorf("unmatched %s in template", ifCloseStr)
		}
		open := opens[len(opens)-1]
		name := result[open[2]:open[3]]
		body := result[open[1]:closeIdx]

		replacement := ""
		if strings.TrimSpace(vars[name]) != "" {
			replacement = body
		}
		result = result[:open[0]] + replacement + result[closeIdx+len(ifCloseStr):]
	}

	if ifOpenRe.MatchString(result) {
		return "", fmt.Errorf("unclosed {{#if}} in template")
	}
	return result, nil
}

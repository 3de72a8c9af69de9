package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExportMarkdown renders an execution as a markdown document.
func ExportMarkdown(e *Execution) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Execution %s\n\n", e.ID))
	b.WriteString(fmt.Sprintf("- **Status:** %s\n", e.Status))
	b.WriteString(fmt.Sprintf("- **Duration:** %dms\n", e.DurationMS))
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", e.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString("\n---\n\n")

	b.WriteString(fmt.Sprintf("## Code\n\n```js\n%s\n```\n\n", e.Code))

	if len(e.Logs) > 0 {
		b.WriteString(fmt.Sprintf("## Logs\n\n```\n%s\n```\n\n", strings.Join(e.Logs, "\n")))
	}

	if e.Status == StatusSucceeded {
		b.WriteString(fmt.Sprintf("## Result\n\n```\n%s\n```\n", e.Result))
	} else {
		b.WriteString(fmt.Sprintf("## Error\n\n```\n%s\n```\n", e.Error))
	}

	return b.String()
}

// ExportJSON renders an execution as formatted JSON.
func ExportJSON(e *Execution) ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// ExportYAML renders an execution as YAML.
func ExportYAML(e *Execution) ([]byte, error) {
	return yaml.Marshal(e)
}

// Export renders an execution in the named format: markdown, json or yaml.
func Export(e *Execution, format string) ([]byte, error) {
	switch format {
	case "", "markdown", "md":
		return []byte(ExportMarkdown(e)), nil
	case "json":
		return ExportJSON(e)
	case "yaml", "yml":
		return ExportYAML(e)
	default:
		return nil, fmt.Errorf("unknown export format %q (want markdown, json or yaml)", format)
	}
}

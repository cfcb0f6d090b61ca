// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown with YAML frontmatter.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

type frontmatter struct {
	Title     string `yaml:"title"`
	Session   string `yaml:"session,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Date      string `yaml:"date"`
	Updated   string `yaml:"updated"`
	Turns     int    `yaml:"turns"`
	Exported  string `yaml:"exported"`
	Generator string `yaml:"generator"`
}

// Export converts a transcript to Markdown.
func (e *MarkdownExporter) Export(t *Transcript) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		fm, err := yaml.Marshal(frontmatter{
			Title:     t.Title,
			Session:   t.SessionID,
			Endpoint:  t.Endpoint,
			Date:      t.CreatedAt.Format(time.RFC3339),
			Updated:   t.UpdatedAt.Format(time.RFC3339),
			Turns:     t.History.Len(),
			Exported:  e.options.now().Format(time.RFC3339),
			Generator: "servechat",
		})
		if err != nil {
			return nil, fmt.Errorf("encode frontmatter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(fm)
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(t.Title)))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		if t.Endpoint != "" {
			sb.WriteString(fmt.Sprintf("- **Endpoint**: %s\n", t.Endpoint))
		}
		sb.WriteString(fmt.Sprintf("- **Started**: %s\n", formatTimestamp(t.CreatedAt)))
		sb.WriteString(fmt.Sprintf("- **Last Turn**: %s\n", formatTimestamp(t.UpdatedAt)))
		sb.WriteString(fmt.Sprintf("- **Turns**: %d\n", t.History.Len()))
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")

	entries := t.entries()
	for i, en := range entries {
		if e.options.IncludeTimestamps && (en.kind == entryUser || en.kind == entryAssistant) {
			sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n", en.kind.label(), formatShortTimestamp(en.at)))
		} else {
			sb.WriteString(fmt.Sprintf("### %s\n\n", en.kind.label()))
		}

		sb.WriteString(e.formatEntry(en))
		sb.WriteString("\n\n")

		if i < len(entries)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from servechat on %s*\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM")))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func (e *MarkdownExporter) formatEntry(en entry) string {
	switch en.kind {
	case entryToolCall:
		return fmt.Sprintf("**Tool**: `%s` (`%s`)\n\n%s", en.toolName, en.callID, fence("json", en.content))
	case entryToolOutput:
		return fmt.Sprintf("**Call**: `%s`\n\n%s", en.callID, fence("", en.content))
	case entryAssistant:
		var sb strings.Builder
		sb.WriteString(strings.TrimSpace(en.content))
		if en.structured {
			sb.WriteString("\n\n> " + StructuredCaption)
		}
		if en.requestID != "" && e.options.IncludeMetadata {
			sb.WriteString(fmt.Sprintf("\n\n<sub>Request: %s</sub>", en.requestID))
		}
		return sb.String()
	default:
		return strings.TrimSpace(en.content)
	}
}

// fence wraps s in a code fence long enough not to collide with any
// backtick run inside it.
func fence(lang, s string) string {
	ticks := "```"
	for strings.Contains(s, ticks) {
		ticks += "`"
	}
	return ticks + lang + "\n" + strings.TrimRight(s, "\n") + "\n" + ticks
}

// escapeMarkdown escapes characters that would break headings.
func escapeMarkdown(s string) string {
	return strings.NewReplacer(
		"#", `\#`,
		"*", `\*`,
		"_", `\_`,
		"[", `\[`,
		"]", `\]`,
	).Replace(s)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports transcripts to a standalone HTML page. Assistant and
// user text is rendered as Markdown; raw HTML in content is never passed
// through.
type HTMLExporter struct {
	options *Options
	md      goldmark.Markdown
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	// SECURITY: goldmark omits raw HTML unless html.WithUnsafe is set
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	return &HTMLExporter{options: opts, md: md}
}

// Export converts a transcript to HTML.
func (e *HTMLExporter) Export(t *Transcript) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("<meta charset=\"UTF-8\">\n")
	sb.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString(fmt.Sprintf("<title>%s</title>\n", html.EscapeString(t.Title)))
	sb.WriteString("<meta name=\"generator\" content=\"servechat\">\n")
	sb.WriteString(fmt.Sprintf("<meta name=\"date\" content=\"%s\">\n", t.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(stylesheet)
	sb.WriteString("</head>\n")
	sb.WriteString(fmt.Sprintf("<body class=\"%s-theme\">\n<div class=\"container\">\n", theme))

	if e.options.IncludeMetadata {
		sb.WriteString(e.renderHeader(t))
	}

	sb.WriteString("<main class=\"conversation\">\n")
	for _, en := range t.entries() {
		block, err := e.renderEntry(en)
		if err != nil {
			return nil, err
		}
		sb.WriteString(block)
	}
	sb.WriteString("</main>\n")

	sb.WriteString(fmt.Sprintf("<footer class=\"footer\">Exported from <strong>servechat</strong> on %s</footer>\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM")))
	sb.WriteString("</div>\n</body>\n</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderHeader(t *Transcript) string {
	var sb strings.Builder
	sb.WriteString("<header class=\"header\">\n")
	sb.WriteString(fmt.Sprintf("<h1>%s</h1>\n<div class=\"metadata\">\n", html.EscapeString(t.Title)))
	if t.Endpoint != "" {
		sb.WriteString(fmt.Sprintf("<span><strong>Endpoint:</strong> %s</span>\n", html.EscapeString(t.Endpoint)))
	}
	sb.WriteString(fmt.Sprintf("<span><strong>Started:</strong> %s</span>\n", formatTimestamp(t.CreatedAt)))
	sb.WriteString(fmt.Sprintf("<span><strong>Turns:</strong> %d</span>\n", t.History.Len()))
	sb.WriteString("</div>\n</header>\n")
	return sb.String()
}

func (e *HTMLExporter) renderEntry(en entry) (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("<section class=\"message %s-message\">\n", en.kind.class()))
	sb.WriteString("<div class=\"message-header\">")
	sb.WriteString(fmt.Sprintf("<span class=\"role-label\">%s</span>", en.kind.label()))
	if e.options.IncludeTimestamps && (en.kind == entryUser || en.kind == entryAssistant) {
		sb.WriteString(fmt.Sprintf("<span class=\"timestamp\">%s</span>", formatShortTimestamp(en.at)))
	}
	sb.WriteString("</div>\n<div class=\"message-content\">\n")

	switch en.kind {
	case entryToolCall:
		sb.WriteString(fmt.Sprintf("<p><code>%s</code> <span class=\"call-id\">%s</span></p>\n",
			html.EscapeString(en.toolName), html.EscapeString(en.callID)))
		sb.WriteString(preformatted(en.content))
	case entryToolOutput:
		sb.WriteString(fmt.Sprintf("<p class=\"call-id\">%s</p>\n", html.EscapeString(en.callID)))
		sb.WriteString(preformatted(en.content))
	default:
		var buf bytes.Buffer
		if err := e.md.Convert([]byte(en.content), &buf); err != nil {
			return "", fmt.Errorf("render markdown: %w", err)
		}
		sb.Write(buf.Bytes())
		if en.structured {
			sb.WriteString(fmt.Sprintf("<p class=\"caption\">%s</p>\n", StructuredCaption))
		}
	}
	sb.WriteString("</div>\n")

	if en.requestID != "" && e.options.IncludeMetadata {
		sb.WriteString(fmt.Sprintf("<div class=\"message-stats\">Request: %s</div>\n", html.EscapeString(en.requestID)))
	}
	sb.WriteString("</section>\n")
	return sb.String(), nil
}

func preformatted(s string) string {
	return fmt.Sprintf("<pre><code>%s</code></pre>\n", html.EscapeString(s))
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const stylesheet = `<style>
* { box-sizing: border-box; margin: 0; padding: 0; }
body { font: 15px/1.6 -apple-system, "Segoe UI", Roboto, sans-serif; }
code, pre { font-family: "SF Mono", Menlo, Consolas, monospace; font-size: 13px; }
.dark-theme { background: #16181d; color: #e3e5e8; }
.light-theme { background: #ffffff; color: #1f2328; }
.container { max-width: 920px; margin: 0 auto; padding: 32px 20px; }
.header { margin-bottom: 24px; border-bottom: 1px solid #8884; padding-bottom: 16px; }
.metadata { display: flex; gap: 16px; flex-wrap: wrap; opacity: .8; font-size: 13px; }
.message { border-radius: 8px; padding: 14px 18px; margin-bottom: 14px; border-left: 4px solid; }
.user-message { border-color: #4f8cff; background: #4f8cff14; }
.assistant-message { border-color: #3fb27f; background: #3fb27f14; }
.tool-message { border-color: #d29922; background: #d2992214; }
.message-header { display: flex; justify-content: space-between; font-weight: 600; margin-bottom: 6px; }
.timestamp, .call-id, .message-stats, .caption { font-size: 12px; opacity: .7; font-weight: normal; }
.caption { font-style: italic; margin-top: 8px; }
.message-content p { margin: 6px 0; }
.message-content pre { padding: 10px; border-radius: 6px; overflow-x: auto; background: #8882; }
.message-content table { border-collapse: collapse; margin: 8px 0; }
.message-content th, .message-content td { border: 1px solid #8886; padding: 4px 8px; }
.footer { margin-top: 32px; font-size: 12px; opacity: .6; text-align: center; }
</style>
`

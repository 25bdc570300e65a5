package render

import (
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	htmlformatter "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/kimnauryz/ai-sarbaz/pkg/logger"
)

var (
	fencePattern      = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\n?(.*?)```")
	inlineCodePattern = regexp.MustCompile("`([^`\n]+)`")
)

// CodeHighlighter renders fenced code blocks as syntax-highlighted HTML.
// It runs only on finalized content; streamed partial text goes through the
// plain incremental pipeline.
type CodeHighlighter struct {
	formatter *htmlformatter.Formatter
	style     *chroma.Style
}

// NewCodeHighlighter creates a highlighter with inline styles so output
// needs no accompanying stylesheet
func NewCodeHighlighter() *CodeHighlighter {
	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}

	return &CodeHighlighter{
		formatter: htmlformatter.New(
			htmlformatter.WithClasses(false),
			htmlformatter.PreventSurroundingPre(false),
		),
		style: style,
	}
}

// RenderMessage formats finalized message content: fenced code blocks are
// syntax-highlighted, inline code gets <code> treatment, and everything
// else goes through the escape/linkify/line-break pipeline.
func (h *CodeHighlighter) RenderMessage(content string) string {
	if content == "" {
		return ""
	}

	var b strings.Builder
	last := 0
	for _, loc := range fencePattern.FindAllStringSubmatchIndex(content, -1) {
		b.WriteString(formatProse(content[last:loc[0]]))

		language := content[loc[2]:loc[3]]
		source := content[loc[4]:loc[5]]
		b.WriteString(h.highlight(source, language))

		last = loc[1]
	}
	b.WriteString(formatProse(content[last:]))

	return b.String()
}

// highlight renders one code block, falling back to escaped preformatted
// text when tokenizing fails
func (h *CodeHighlighter) highlight(source, language string) string {
	log := logger.WithComponent("render")

	var lexer chroma.Lexer
	if language != "" {
		lexer = lexers.Get(language)
	}
	if lexer == nil {
		lexer = lexers.Analyse(source)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		log.Warn("Failed to tokenize code block", "language", language, "error", err)
		return "<pre><code>" + formatText(source) + "</code></pre>"
	}

	var buf strings.Builder
	if err := h.formatter.Format(&buf, h.style, iterator); err != nil {
		log.Warn("Failed to format code block", "language", language, "error", err)
		return "<pre><code>" + formatText(source) + "</code></pre>"
	}

	return buf.String()
}

// formatProse applies the standard text pipeline plus inline code spans
func formatProse(content string) string {
	if content == "" {
		return ""
	}
	formatted := formatText(content)
	return inlineCodePattern.ReplaceAllString(formatted, "<code>$1</code>")
}

package markdown

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var converter = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))

var multiNewline = regexp.MustCompile(`\n{3,}`)

// Telegram has no heading or list tags, so those degrade to bold lines and
// bullet lines. Raw HTML in the input is escaped and shown literally.
func ToTelegramHTML(markdown string) string {
	src := []byte(markdown)
	doc := converter.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	renderChildren(&b, doc, src)
	return strings.TrimSpace(multiNewline.ReplaceAllString(b.String(), "\n\n"))
}

func renderChildren(b *strings.Builder, n ast.Node, src []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		renderNode(b, c, src)
	}
}

func renderNode(b *strings.Builder, n ast.Node, src []byte) {
	switch v := n.(type) {
	case *ast.Paragraph:
		renderChildren(b, n, src)
		b.WriteString("\n\n")
	case *ast.TextBlock:
		renderChildren(b, n, src)
		b.WriteString("\n")
	case *ast.Heading:
		b.WriteString("<b>")
		renderChildren(b, n, src)
		b.WriteString("</b>\n\n")
	case *ast.Text:
		b.WriteString(esc(string(v.Segment.Value(src))))
		if v.SoftLineBreak() || v.HardLineBreak() {
			b.WriteString("\n")
		}
	case *ast.String:
		b.WriteString(esc(string(v.Value)))
	case *ast.Emphasis:
		tag := "i"
		if v.Level >= 2 {
			tag = "b"
		}
		b.WriteString("<" + tag + ">")
		renderChildren(b, n, src)
		b.WriteString("</" + tag + ">")
	case *east.Strikethrough:
		b.WriteString("<s>")
		renderChildren(b, n, src)
		b.WriteString("</s>")
	case *ast.CodeSpan:
		b.WriteString("<code>")
		renderChildren(b, n, src)
		b.WriteString("</code>")
	case *ast.FencedCodeBlock:
		lang := strings.TrimSpace(string(v.Language(src)))
		if lang != "" {
			fmt.Fprintf(b, "<pre><code class=\"language-%s\">", esc(lang))
			writeLines(b, v, src)
			b.WriteString("</code></pre>\n\n")
			return
		}
		b.WriteString("<pre>")
		writeLines(b, v, src)
		b.WriteString("</pre>\n\n")
	case *ast.CodeBlock:
		b.WriteString("<pre>")
		writeLines(b, v, src)
		b.WriteString("</pre>\n\n")
	case *ast.Blockquote:
		b.WriteString("<blockquote>")
		b.WriteString(trimmedChildren(n, src))
		b.WriteString("</blockquote>\n\n")
	case *ast.List:
		renderList(b, v, src)
	case *ast.Link:
		b.WriteString("<a href=\"" + esc(string(v.Destination)) + "\">")
		renderChildren(b, n, src)
		b.WriteString("</a>")
	case *ast.AutoLink:
		url := string(v.URL(src))
		if v.AutoLinkType == ast.AutoLinkEmail {
			b.WriteString(esc(url))
			return
		}
		b.WriteString("<a href=\"" + esc(url) + "\">" + esc(url) + "</a>")
	case *ast.Image:
		// Inline images cannot be embedded in a text message; degrade to a link.
		b.WriteString("<a href=\"" + esc(string(v.Destination)) + "\">")
		renderChildren(b, n, src)
		b.WriteString("</a>")
	case *ast.ThematicBreak:
		b.WriteString("\n")
	case *ast.RawHTML:
		for i := 0; i < v.Segments.Len(); i++ {
			seg := v.Segments.At(i)
			b.WriteString(esc(string(seg.Value(src))))
		}
	case *ast.HTMLBlock:
		writeLines(b, v, src)
		if v.HasClosure() {
			b.WriteString(esc(string(v.ClosureLine.Value(src))))
		}
		b.WriteString("\n\n")
	default:
		renderChildren(b, n, src)
	}
}

func renderList(b *strings.Builder, l *ast.List, src []byte) {
	index := l.Start
	if index == 0 {
		index = 1
	}
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		if l.IsOrdered() {
			fmt.Fprintf(b, "%d. ", index)
			index++
		} else {
			b.WriteString("• ")
		}
		b.WriteString(listItemText(item, src))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func listItemText(item ast.Node, src []byte) string {
	var b strings.Builder
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.(type) {
		case *ast.TextBlock, *ast.Paragraph:
			renderChildren(&b, c, src)
			b.WriteString("\n")
		default:
			renderNode(&b, c, src)
		}
	}
	return strings.TrimSpace(strings.ReplaceAll(b.String(), "\n\n", "\n"))
}

func trimmedChildren(n ast.Node, src []byte) string {
	var b strings.Builder
	renderChildren(&b, n, src)
	return strings.TrimSpace(b.String())
}

func writeLines(b *strings.Builder, n interface{ Lines() *text.Segments }, src []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.WriteString(esc(string(seg.Value(src))))
	}
}

func esc(s string) string {
	return html.EscapeString(s)
}

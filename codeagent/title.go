package codeagent

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/nevindra/vybe"
)

var markdown = goldmark.New()

// PlainTitle flattens a model-written title to plain text: Markdown markup is
// dropped, whitespace collapsed and surrounding quotes removed. An empty
// result yields vybe.FallbackTitle.
func PlainTitle(s string) string {
	src := []byte(s)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Text:
			b.Write(n.Segment.Value(src))
			if n.SoftLineBreak() || n.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(n.Value)
		case *ast.CodeSpan:
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					b.Write(t.Segment.Value(src))
				}
			}
			return ast.WalkSkipChildren, nil
		default:
			if n.Type() == ast.TypeBlock && b.Len() > 0 {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})

	title := strings.Join(strings.Fields(b.String()), " ")
	title = strings.Trim(title, "\"'`")
	title = strings.TrimSpace(title)
	if title == "" {
		return vybe.FallbackTitle
	}
	return title
}

package observer

import (
	"bytes"
	"io"

	"golang.org/x/net/html"
)

// Parse reads an HTML document into a node tree.
func Parse(r io.Reader) (*html.Node, error) {
	return html.Parse(r)
}

// Render serializes a node tree back to HTML.
func Render(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Find returns the first node for which match is true, depth first.
func Find(root *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) {
		if found == nil && match(n) {
			found = n
		}
	})
	return found
}

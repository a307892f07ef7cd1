package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mikey/phishguard/internal/core"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var plainURLPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"'()\[\]]+`)

// htmlContent is the visible text and the links of an HTML body
type htmlContent struct {
	text           string
	links          []core.Link
	trackingPixels int
}

// parseHTML walks an HTML document collecting visible text and anchors.
// Tracking pixels are dropped and counted.
func parseHTML(src string) (*htmlContent, bool) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return &htmlContent{text: src}, false
	}

	out := &htmlContent{}
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Head, atom.Noscript, atom.Template:
				return
			case atom.Img:
				if isTrackingPixel(n) {
					out.trackingPixels++
				} else if alt := attr(n, "alt"); alt != "" {
					sb.WriteString(" ")
					sb.WriteString(alt)
					sb.WriteString(" ")
				}
				return
			case atom.A:
				if href := strings.TrimSpace(attr(n, "href")); href != "" && !strings.HasPrefix(href, "#") {
					out.links = append(out.links, core.Link{Href: href, Display: collapse(nodeText(n))})
				}
			}
			if isBlock(n.DataAtom) {
				sb.WriteString("\n")
				defer sb.WriteString("\n")
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	out.text = sb.String()
	return out, true
}

// plainLinks finds bare URLs in plain text
func plainLinks(text string) []core.Link {
	matches := plainURLPattern.FindAllString(text, -1)
	links := make([]core.Link, 0, len(matches))
	for _, m := range matches {
		links = append(links, core.Link{Href: strings.TrimRight(m, ".,;:!?")})
	}
	return links
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// isTrackingPixel reports images sized 1x1 or smaller, or hidden by inline style
func isTrackingPixel(n *html.Node) bool {
	style := strings.ToLower(strings.ReplaceAll(attr(n, "style"), " ", ""))
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return true
	}
	w, wok := dimension(attr(n, "width"))
	h, hok := dimension(attr(n, "height"))
	if wok && hok {
		return w <= 1 && h <= 1
	}
	return (wok && w == 0) || (hok && h == 0)
}

func dimension(v string) (int, bool) {
	v = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(v)), "px")
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.Td, atom.Th, atom.Table,
		atom.Ul, atom.Ol, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Section, atom.Article, atom.Header, atom.Footer, atom.Hr, atom.Title:
		return true
	}
	return false
}

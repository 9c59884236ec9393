package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// GetText concatenates every text node under node.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		getTextRecursive(child, buffer)
	}
}

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	out := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			out.WriteRune(c)
		}
	}
	return out.String()
}

// Normalize drops non-printable characters, collapses runs of whitespace
// and trims the result.
func Normalize(s string) string {
	s = removeNonPrintable(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// CellTexts returns the normalized text of every td/th directly under a row.
func CellTexts(row *goquery.Selection) []string {
	cells := []string{}
	row.ChildrenFiltered("td, th").Each(func(_ int, cell *goquery.Selection) {
		var text string
		if len(cell.Nodes) > 0 {
			text = GetText(cell.Nodes[0])
		}
		cells = append(cells, Normalize(text))
	})
	return cells
}

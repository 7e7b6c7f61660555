package epub

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// leafBlockTags always become exactly one node and are never recursed into.
var leafBlockTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "pre": true, "hr": true,
}

// containerTags are dissolved into their children only when at least one
// child is itself a block or container element.
var containerTags = map[string]bool{
	"div": true, "section": true, "article": true, "aside": true,
	"blockquote": true, "ul": true, "ol": true, "li": true,
	"table": true, "thead": true, "tbody": true, "tfoot": true,
	"tr": true, "td": true, "th": true, "dl": true, "dt": true,
	"dd": true, "figure": true, "figcaption": true, "nav": true,
	"header": true, "footer": true, "main": true, "body": true,
}

var imageTags = map[string]bool{
	"img": true, "svg": true,
}

type flattener struct {
	fileName  string
	sourceDir string
	ordinal   int
	nodes     []Node
}

// Flatten parses an XHTML document or fragment and produces its ordered node
// list. Node ids are derived from the source file name and the node's
// ordinal position, so re-parsing the same document always yields the same
// ids in the same order.
func Flatten(markup, sourcePath string) ([]Node, error) {
	if err := validateXML(markup); err != nil {
		return nil, fmt.Errorf("malformed document %s: %w", sourcePath, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", sourcePath, err)
	}

	f := &flattener{
		fileName:  filepath.Base(sourcePath),
		sourceDir: path.Dir(filepath.ToSlash(sourcePath)),
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	// A root with no block or container children is inline-only content
	// and collapses to a single text node instead of being dissolved.
	if hasStructuredChildren(root) {
		f.dissolve(root)
	} else if text := extractText(root); text != "" {
		f.nodes = append(f.nodes, Node{
			ID:      f.nextID(),
			Type:    NodeText,
			Content: text,
		})
	}

	return f.nodes, nil
}

// validateXML checks well-formedness. goquery's HTML5 parser accepts almost
// anything, but EPUB content documents are XML and a broken file must fail
// loudly instead of silently losing content.
func validateXML(markup string) error {
	dec := xml.NewDecoder(strings.NewReader("<root>" + markup + "</root>"))
	dec.Strict = true
	dec.Entity = xml.HTMLEntity
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (f *flattener) visit(sel *goquery.Selection) {
	tag := goquery.NodeName(sel)

	switch {
	case imageTags[tag]:
		f.emitImage(sel, tag)
	case containerTags[tag] && hasStructuredChildren(sel):
		f.dissolve(sel)
	default:
		f.emitTextOrIgnored(sel, tag)
	}
}

// dissolve walks every child node of a container, not just its elements:
// text sitting between a container's block children is still content and
// must survive as its own node.
func (f *flattener) dissolve(sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		name := goquery.NodeName(child)
		switch {
		case name == "#text":
			text := strings.Join(strings.Fields(child.Text()), " ")
			if text != "" {
				f.nodes = append(f.nodes, Node{
					ID:      f.nextID(),
					Type:    NodeText,
					Content: text,
				})
			}
		case strings.HasPrefix(name, "#"):
			// comments and the like carry no content
		default:
			f.visit(child)
		}
	})
}

// hasStructuredChildren reports whether the element contains at least one
// block, container, or image child worth descending into.
func hasStructuredChildren(sel *goquery.Selection) bool {
	found := false
	sel.Children().Each(func(_ int, child *goquery.Selection) {
		tag := goquery.NodeName(child)
		if leafBlockTags[tag] || containerTags[tag] || imageTags[tag] {
			found = true
		}
	})
	return found
}

func (f *flattener) emitImage(sel *goquery.Selection, tag string) {
	html, err := goquery.OuterHtml(sel)
	if err != nil {
		return
	}

	src, _ := sel.Attr("src")
	if src == "" && tag == "svg" {
		inner := sel.Find("image")
		src, _ = inner.Attr("href")
		if src == "" {
			src, _ = inner.Attr("xlink:href")
		}
	}

	f.nodes = append(f.nodes, Node{
		ID:        f.nextID(),
		Type:      NodeImage,
		Tag:       tag,
		HTML:      html,
		ImagePath: f.resolvePath(src),
	})
}

func (f *flattener) emitTextOrIgnored(sel *goquery.Selection, tag string) {
	text := extractText(sel)

	if text == "" {
		// Leaf blocks always produce a node; hr and empty pre blocks
		// survive as ignored markup. Anything else empty is dropped.
		if !leafBlockTags[tag] {
			return
		}
		html, err := goquery.OuterHtml(sel)
		if err != nil {
			return
		}
		f.nodes = append(f.nodes, Node{
			ID:   f.nextID(),
			Type: NodeIgnored,
			Tag:  tag,
			HTML: html,
		})
		return
	}

	f.nodes = append(f.nodes, Node{
		ID:      f.nextID(),
		Type:    NodeText,
		Tag:     tag,
		Content: text,
		Attrs:   captureAttrs(sel),
	})
}

// extractText returns the element's normalized text with ruby pronunciation
// annotations (rt/rp) stripped first, so rendering hints never leak into the
// translated output.
func extractText(sel *goquery.Selection) string {
	clone := sel.Clone()
	clone.Find("rt, rp").Remove()
	return strings.Join(strings.Fields(clone.Text()), " ")
}

func captureAttrs(sel *goquery.Selection) []Attr {
	node := sel.Get(0)
	if node == nil || len(node.Attr) == 0 {
		return nil
	}
	attrs := make([]Attr, 0, len(node.Attr))
	for _, a := range node.Attr {
		name := a.Key
		if a.Namespace != "" {
			name = a.Namespace + ":" + a.Key
		}
		attrs = append(attrs, Attr{Name: name, Value: a.Val})
	}
	return attrs
}

func (f *flattener) nextID() string {
	id := fmt.Sprintf("%s_%d", f.fileName, f.ordinal)
	f.ordinal++
	return id
}

// resolvePath normalizes an image reference against the source file's
// directory. Absolute URLs and data URIs are kept as-is.
func (f *flattener) resolvePath(src string) string {
	if src == "" {
		return ""
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") ||
		strings.HasPrefix(src, "data:") || strings.HasPrefix(src, "/") {
		return src
	}
	return path.Clean(path.Join(f.sourceDir, src))
}

// Reconstruct regenerates markup from an ordered node list. Text nodes are
// re-emitted with their preserved tag and attributes around the (possibly
// translated) content; image and ignored nodes are emitted verbatim.
func Reconstruct(nodes []Node) string {
	var b strings.Builder
	for i, node := range nodes {
		if i > 0 {
			b.WriteString("\n")
		}
		switch node.Type {
		case NodeText:
			// Stray text carries no enclosing element of its own.
			if node.Tag == "" {
				b.WriteString(escapeXML(node.Content))
				continue
			}
			b.WriteString("<")
			b.WriteString(node.Tag)
			for _, a := range node.Attrs {
				b.WriteString(" ")
				b.WriteString(a.Name)
				b.WriteString(`="`)
				b.WriteString(escapeXML(a.Value))
				b.WriteString(`"`)
			}
			b.WriteString(">")
			b.WriteString(escapeXML(node.Content))
			b.WriteString("</")
			b.WriteString(node.Tag)
			b.WriteString(">")
		default:
			b.WriteString(node.HTML)
		}
	}
	return b.String()
}

package epub

import (
	"encoding/xml"
	"time"
)

// NodeType classifies a flattened document node.
type NodeType string

const (
	NodeText    NodeType = "text"
	NodeImage   NodeType = "image"
	NodeIgnored NodeType = "ignored"
)

// Attr is a single preserved element attribute. Order matters for
// deterministic reconstruction, so attributes are a slice, not a map.
type Attr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Node is one structural element of a flattened document. Text nodes carry
// normalized content and never raw markup; image and ignored nodes carry the
// original markup verbatim and are never mutated during translation.
type Node struct {
	ID        string   `json:"id"`
	Type      NodeType `json:"type"`
	Tag       string   `json:"tag"`
	Content   string   `json:"content,omitempty"`
	HTML      string   `json:"html,omitempty"`
	Attrs     []Attr   `json:"attributes,omitempty"`
	ImagePath string   `json:"image_path,omitempty"`
}

// Document is one spine entry of an EPUB, flattened into ordered nodes.
type Document struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	FilePath     string `json:"file_path"`
	RelativePath string `json:"relative_path"`
	Order        int    `json:"order"`
	Nodes        []Node `json:"nodes"`
}

type EPUB struct {
	ID          string     `json:"id"`
	FilePath    string     `json:"file_path"`
	TempDir     string     `json:"temp_dir"`
	Container   Container  `json:"container"`
	Package     Package    `json:"package"`
	Documents   []Document `json:"documents"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt time.Time  `json:"processed_at,omitempty"`
}

// AllNodes returns every node of every document in spine order.
func (e *EPUB) AllNodes() []Node {
	var nodes []Node
	for _, doc := range e.Documents {
		nodes = append(nodes, doc.Nodes...)
	}
	return nodes
}

type Container struct {
	XMLName   xml.Name `xml:"container"`
	Version   string   `xml:"version,attr"`
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type Package struct {
	XMLName      xml.Name `xml:"package"`
	Version      string   `xml:"version,attr"`
	UniqueID     string   `xml:"unique-identifier,attr"`
	Metadata     Metadata `xml:"metadata"`
	Manifest     Manifest `xml:"manifest"`
	Spine        Spine    `xml:"spine"`
	Guide        Guide    `xml:"guide"`
	OriginalPath string   `json:"original_path"`
}

type Metadata struct {
	XMLName     xml.Name `xml:"metadata"`
	Title       string   `xml:"title"`
	Language    string   `xml:"language"`
	Identifier  string   `xml:"identifier"`
	Creator     string   `xml:"creator"`
	Publisher   string   `xml:"publisher"`
	Date        string   `xml:"date"`
	Description string   `xml:"description"`
	Subject     string   `xml:"subject"`
	Rights      string   `xml:"rights"`
}

type Manifest struct {
	XMLName xml.Name `xml:"manifest"`
	Items   []Item   `xml:"item"`
}

type Item struct {
	ID        string `xml:"id,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

type Spine struct {
	XMLName  xml.Name  `xml:"spine"`
	TOC      string    `xml:"toc,attr"`
	ItemRefs []ItemRef `xml:"itemref"`
}

type ItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

type Guide struct {
	XMLName    xml.Name    `xml:"guide"`
	References []Reference `xml:"reference"`
}

type Reference struct {
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
	Href  string `xml:"href,attr"`
}

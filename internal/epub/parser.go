package epub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

type Parser struct {
	logger  *logrus.Logger
	tempDir string
}

func NewParser(logger *logrus.Logger, tempDir string) *Parser {
	return &Parser{
		logger:  logger,
		tempDir: tempDir,
	}
}

// Extract unpacks an EPUB file and flattens every spine document into nodes.
// A malformed content document is a hard failure for the whole file.
func (p *Parser) Extract(epubPath string) (*EPUB, error) {
	p.logger.Debugf("Extracting EPUB: %s", epubPath)

	epubID := generateID()
	extractDir := filepath.Join(p.tempDir, epubID)

	if err := os.MkdirAll(extractDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	book := &EPUB{
		ID:        epubID,
		FilePath:  epubPath,
		TempDir:   extractDir,
		CreatedAt: time.Now(),
	}

	if err := p.extractZip(epubPath, extractDir); err != nil {
		return nil, fmt.Errorf("failed to extract ZIP: %w", err)
	}

	if err := p.parseContainer(book); err != nil {
		return nil, fmt.Errorf("failed to parse container: %w", err)
	}

	if err := p.parsePackage(book); err != nil {
		return nil, fmt.Errorf("failed to parse package: %w", err)
	}

	if err := p.flattenDocuments(book); err != nil {
		return nil, fmt.Errorf("failed to flatten documents: %w", err)
	}

	book.ProcessedAt = time.Now()
	p.logger.Debugf("Successfully extracted EPUB with %d documents", len(book.Documents))

	return book, nil
}

func (p *Parser) extractZip(src, dest string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, file := range reader.File {
		if err := p.extractFile(file, dest); err != nil {
			return err
		}
	}

	return nil
}

func (p *Parser) extractFile(file *zip.File, dest string) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	path := filepath.Join(dest, file.Name)

	if file.FileInfo().IsDir() {
		return os.MkdirAll(path, file.FileInfo().Mode())
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	outFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.FileInfo().Mode())
	if err != nil {
		return err
	}
	defer outFile.Close()

	_, err = io.Copy(outFile, rc)
	return err
}

func (p *Parser) parseContainer(book *EPUB) error {
	containerPath := filepath.Join(book.TempDir, "META-INF", "container.xml")

	data, err := os.ReadFile(containerPath)
	if err != nil {
		return fmt.Errorf("failed to read container.xml: %w", err)
	}

	if err := xml.Unmarshal(data, &book.Container); err != nil {
		return fmt.Errorf("failed to parse container.xml: %w", err)
	}

	if len(book.Container.Rootfiles) == 0 {
		return fmt.Errorf("no rootfiles found in container.xml")
	}

	return nil
}

func (p *Parser) parsePackage(book *EPUB) error {
	packagePath := filepath.Join(book.TempDir, book.Container.Rootfiles[0].FullPath)
	book.Package.OriginalPath = book.Container.Rootfiles[0].FullPath

	data, err := os.ReadFile(packagePath)
	if err != nil {
		return fmt.Errorf("failed to read package file: %w", err)
	}

	if err := xml.Unmarshal(data, &book.Package); err != nil {
		return fmt.Errorf("failed to parse package file: %w", err)
	}

	return nil
}

// flattenDocuments converts every text document in the spine into an ordered
// node list, in spine order. Document ids reuse the node id scheme so they
// are stable across re-parses of the same file.
func (p *Parser) flattenDocuments(book *EPUB) error {
	packageDir := filepath.Dir(filepath.Join(book.TempDir, book.Package.OriginalPath))

	itemMap := make(map[string]Item)
	for _, item := range book.Package.Manifest.Items {
		itemMap[item.ID] = item
	}

	for order, itemRef := range book.Package.Spine.ItemRefs {
		item, exists := itemMap[itemRef.IDRef]
		if !exists {
			p.logger.Warnf("Item not found in manifest: %s", itemRef.IDRef)
			continue
		}

		if !isTextContent(item.MediaType) {
			continue
		}

		docPath := filepath.Join(packageDir, item.Href)
		body, err := p.readDocumentBody(docPath)
		if err != nil {
			return fmt.Errorf("failed to read document %s: %w", item.Href, err)
		}

		nodes, err := Flatten(body, item.Href)
		if err != nil {
			return fmt.Errorf("failed to flatten document %s: %w", item.Href, err)
		}

		book.Documents = append(book.Documents, Document{
			ID:           fmt.Sprintf("%s_%d", book.ID, order),
			Title:        extractTitle(body),
			FilePath:     docPath,
			RelativePath: item.Href,
			Order:        order,
			Nodes:        nodes,
		})
	}

	return nil
}

// readDocumentBody returns the inner body markup of an XHTML file, or the
// whole file when there is no body element.
func (p *Parser) readDocumentBody(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		return "", err
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		return string(data), nil
	}

	html, err := body.Html()
	if err != nil {
		return "", err
	}

	return html, nil
}

func extractTitle(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "Untitled"
	}

	title := doc.Find("h1, h2, h3, title").First().Text()
	if title == "" {
		title = "Untitled"
	}

	return strings.TrimSpace(title)
}

func (p *Parser) Validate(book *EPUB) error {
	if book == nil {
		return fmt.Errorf("epub is nil")
	}

	if book.ID == "" {
		return fmt.Errorf("epub ID is empty")
	}

	if book.TempDir == "" {
		return fmt.Errorf("temp directory is empty")
	}

	if len(book.Container.Rootfiles) == 0 {
		return fmt.Errorf("no rootfiles found")
	}

	if len(book.Package.Manifest.Items) == 0 {
		return fmt.Errorf("no manifest items found")
	}

	if len(book.Package.Spine.ItemRefs) == 0 {
		return fmt.Errorf("no spine items found")
	}

	if len(book.Documents) == 0 {
		return fmt.Errorf("no documents extracted")
	}

	return nil
}

func isTextContent(mediaType string) bool {
	return strings.Contains(mediaType, "html") || strings.Contains(mediaType, "xhtml")
}

func generateID() string {
	return fmt.Sprintf("epub_%d", time.Now().Unix())
}

// SaveTranslatedDocument writes a document's reconstructed markup back into
// its XHTML file, replacing only the body content so head metadata and
// styling survive untouched.
func (p *Parser) SaveTranslatedDocument(book *EPUB, doc *Document, nodes []Node) error {
	originalContent, err := os.ReadFile(doc.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read original document: %w", err)
	}

	rebuilt := Reconstruct(nodes)

	updated, err := replaceBodyContent(string(originalContent), rebuilt)
	if err != nil {
		return fmt.Errorf("failed to replace body content: %w", err)
	}

	if err := os.WriteFile(doc.FilePath, []byte(updated), 0644); err != nil {
		return fmt.Errorf("failed to write translated document: %w", err)
	}

	p.logger.Debugf("Saved translated document: %s", doc.RelativePath)
	return nil
}

func replaceBodyContent(originalHTML, newBodyContent string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(originalHTML))
	if err != nil {
		return "", err
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		return newBodyContent, nil
	}
	body.SetHtml(newBodyContent)

	html, err := doc.Html()
	if err != nil {
		return "", err
	}

	return html, nil
}

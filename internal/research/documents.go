package research

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve"
	readability "github.com/go-shiori/go-readability"

	"github.com/reelforge/reelforge/internal/adapter"
	"github.com/reelforge/reelforge/internal/failure"
)

const chunkTargetRunes = 1000

// extractText pulls plain text from a reference document. Plain text and
// markdown pass through, HTML goes through readability, DOCX is unpacked
// from its XML body, PDF bytes are filtered down to printable ASCII plus
// Arabic. Anything else is unsupported.
func extractText(doc adapter.DocumentHandle) (string, error) {
	data := doc.Data
	if len(data) == 0 && doc.Path != "" {
		b, err := os.ReadFile(doc.Path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", doc.Path, err)
		}
		data = b
	}
	name := doc.Name
	if name == "" {
		name = doc.Path
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return string(data), nil
	case ".html", ".htm":
		article, err := readability.FromReader(bytes.NewReader(data), nil)
		if err != nil {
			return "", fmt.Errorf("extracting article from %s: %w", name, err)
		}
		return article.TextContent, nil
	case ".docx":
		return extractDocx(data)
	case ".pdf":
		return extractPdf(data)
	default:
		return "", fmt.Errorf("%w: %s", failure.ErrUnsupportedDocumentFormat, name)
	}
}

// extractDocx reads the main document part of a DOCX archive and strips the
// WordprocessingML markup, keeping paragraph boundaries.
func extractDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening docx archive: %w", err)
	}
	var body io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("opening docx body: %w", err)
			}
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("docx archive has no document body")
	}
	defer body.Close()

	dec := xml.NewDecoder(body)
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing docx body: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			if t.Name.Local == "p" {
				sb.WriteString("\n\n")
			}
		}
	}
	return sb.String(), nil
}

// extractPdf reads the PDF bytes as text and keeps printable ASCII and
// Arabic characters. Crude, but enough to chunk and rank embedded text
// streams; a PDF with no extractable text simply yields no chunks.
func extractPdf(data []byte) (string, error) {
	var sb strings.Builder
	for _, r := range string(data) {
		switch {
		case r >= 0x20 && r <= 0x7e:
			sb.WriteRune(r)
		case r >= 0x0600 && r <= 0x06ff:
			sb.WriteRune(r)
		case r == '\n':
			sb.WriteRune(r)
		}
	}
	return sb.String(), nil
}

// chunkText splits text into paragraph-aligned chunks of roughly
// chunkTargetRunes characters.
func chunkText(text string) []string {
	paras := strings.Split(text, "\n\n")
	var chunks []string
	var cur strings.Builder
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(p) > chunkTargetRunes {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// relevantChunks selects chunks that relate to the topic using an in-memory
// full-text index. If indexing fails or nothing matches, it falls back to a
// token-overlap scan so a usable reference never yields zero chunks.
func relevantChunks(topic string, chunks []string, max int) []string {
	if len(chunks) == 0 {
		return nil
	}
	if max <= 0 || max > len(chunks) {
		max = len(chunks)
	}
	if selected := bleveSelect(topic, chunks, max); len(selected) > 0 {
		return selected
	}
	return overlapSelect(topic, chunks, max)
}

func bleveSelect(topic string, chunks []string, max int) []string {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil
	}
	defer index.Close()
	for i, c := range chunks {
		if err := index.Index(fmt.Sprintf("%d", i), map[string]string{"body": c}); err != nil {
			return nil
		}
	}
	query := bleve.NewMatchQuery(topic)
	req := bleve.NewSearchRequest(query)
	req.Size = max
	res, err := index.Search(req)
	if err != nil {
		return nil
	}
	var out []string
	for _, hit := range res.Hits {
		var idx int
		if _, err := fmt.Sscanf(hit.ID, "%d", &idx); err != nil {
			continue
		}
		out = append(out, chunks[idx])
	}
	return out
}

func overlapSelect(topic string, chunks []string, max int) []string {
	topicSet := tokenize(topic)
	type scored struct {
		chunk string
		score int
	}
	var ranked []scored
	for _, c := range chunks {
		set := tokenize(c)
		var n int
		for tok := range topicSet {
			if _, ok := set[tok]; ok {
				n++
			}
		}
		ranked = append(ranked, scored{c, n})
	}
	// stable selection: prefer overlap, keep document order on ties
	out := make([]string, 0, max)
	for len(out) < max {
		best := -1
		for i, r := range ranked {
			if r.score < 0 {
				continue
			}
			if best == -1 || r.score > ranked[best].score {
				best = i
			}
		}
		if best == -1 {
			break
		}
		out = append(out, ranked[best].chunk)
		ranked[best].score = -1
	}
	return out
}

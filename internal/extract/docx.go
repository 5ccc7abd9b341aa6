package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	defaultDocxBody  = "word/document.xml"
	contentTypesName = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// textRun matches <w:t>...</w:t> with any attributes.
var textRun = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// overrideTag matches one Override element of [Content_Types].xml.
var overrideTag = regexp.MustCompile(`<Override\s[^>]*>`)

var (
	partNameAttr    = regexp.MustCompile(`PartName="([^"]+)"`)
	contentTypeAttr = regexp.MustCompile(`ContentType="([^"]+)"`)
)

func readZipFile(zr *zip.Reader, name string) ([]byte, bool, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, true, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		return data, true, err
	}
	return nil, false, nil
}

// docxBodyPath returns the main document part named in [Content_Types].xml,
// or the conventional word/document.xml.
func docxBodyPath(zr *zip.Reader) string {
	data, ok, err := readZipFile(zr, contentTypesName)
	if !ok || err != nil {
		return defaultDocxBody
	}
	for _, tag := range overrideTag.FindAllString(string(data), -1) {
		ct := contentTypeAttr.FindStringSubmatch(tag)
		pn := partNameAttr.FindStringSubmatch(tag)
		if len(ct) > 1 && len(pn) > 1 && ct[1] == docxMainType {
			return strings.TrimPrefix(pn[1], "/")
		}
	}
	return defaultDocxBody
}

// extractDOCX joins the text runs of the main document part with spaces.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	body := docxBodyPath(zr)
	data, ok, err := readZipFile(zr, body)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: read %s: %w", body, err)
	}
	if !ok {
		return "", fmt.Errorf("extract DOCX: %s not found", body)
	}
	var runs []string
	for _, m := range textRun.FindAllStringSubmatch(string(data), -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			runs = append(runs, s)
		}
	}
	return strings.Join(runs, " "), nil
}

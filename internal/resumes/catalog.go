// Package resumes scans the resume directory and picks the file to attach for each
// contact, asking the LLM first and falling back to file-name keyword matching.
package resumes

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"
)

// Supported resume formats.
const (
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
)

// Resume is one attachable file.
type Resume struct {
	Path     string
	Name     string
	Format   string
	Pages    int
	Keywords []string
}

// ScanError reports a resume directory that could not be read.
type ScanError struct {
	Dir     string
	Message string
	Cause   error
}

func (e *ScanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("resume scan %s: %s: %v", e.Dir, e.Message, e.Cause)
	}
	return fmt.Sprintf("resume scan %s: %s", e.Dir, e.Message)
}

func (e *ScanError) Unwrap() error {
	return e.Cause
}

// Scan lists the .pdf and .docx files in dir sorted by name. PDFs that pdfcpu cannot
// read or validate are left out so a broken file is never attached.
func Scan(dir string, logger *zap.Logger) ([]Resume, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &ScanError{Dir: dir, Message: "failed to read directory", Cause: err}
	}

	var out []Resume
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		format := strings.TrimPrefix(strings.ToLower(filepath.Ext(entry.Name())), ".")
		if format != FormatPDF && format != FormatDOCX {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		resume := Resume{
			Path:     path,
			Name:     entry.Name(),
			Format:   format,
			Keywords: Keywords(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))),
		}

		if format == FormatPDF {
			pages, err := pdfPageCount(path)
			if err != nil {
				logger.Warn("resumes: skipping unreadable pdf", zap.String("path", path), zap.Error(err))
				continue
			}
			resume.Pages = pages
		} else if info, err := entry.Info(); err != nil || info.Size() == 0 {
			logger.Warn("resumes: skipping empty docx", zap.String("path", path))
			continue
		}
		out = append(out, resume)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	logger.Debug("resumes: catalog scanned", zap.String("dir", dir), zap.Int("files", len(out)))
	return out, nil
}

func pdfPageCount(path string) (int, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return 0, fmt.Errorf("invalid PDF: %w", err)
	}
	if ctx.PageCount < 1 {
		return 0, fmt.Errorf("PDF has no pages")
	}
	return ctx.PageCount, nil
}

// Keywords splits a file stem such as "Jo_Park-ML-Engineer" into lowercase words.
func Keywords(stem string) []string {
	fields := strings.FieldsFunc(strings.ToLower(stem), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

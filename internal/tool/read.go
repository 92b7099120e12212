package tool

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const readDescription = `Reads a file from the local filesystem.

Usage:
- The filePath parameter must be an absolute path
- Use offset/limit to read a slice of a long file by line number
- Images are returned as attachments, binary files are rejected`

const (
	defaultReadLimit = 2000
	maxReadLineWidth = 2000
)

// ReadTool reads text files (with line addressing) and images.
type ReadTool struct {
	workDir string
}

// ReadInput represents the input for the read tool.
type ReadInput struct {
	FilePath string `json:"filePath"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// NewReadTool creates a new read tool.
func NewReadTool(workDir string) *ReadTool {
	return &ReadTool{workDir: workDir}
}

func (t *ReadTool) ID() string          { return "read" }
func (t *ReadTool) Description() string { return readDescription }

func (t *ReadTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The absolute path to the file to read"
			},
			"offset": {
				"type": "integer",
				"description": "Line number to start reading from"
			},
			"limit": {
				"type": "integer",
				"description": "Number of lines to read (default: 2000)"
			}
		},
		"required": ["filePath"]
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ReadInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Limit <= 0 {
		params.Limit = defaultReadLimit
	}

	if shouldBlockEnvFile(params.FilePath) {
		return nil, fmt.Errorf("The user has blocked you from reading %s, DO NOT make further attempts to read it", params.FilePath)
	}

	info, err := os.Stat(params.FilePath)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", params.FilePath)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", params.FilePath)
	}
	if isImageFile(params.FilePath) {
		return t.readImage(params.FilePath)
	}
	if isBinaryFile(params.FilePath) {
		return nil, fmt.Errorf("file appears to be binary")
	}

	lines, totalLines, err := readLineWindow(params.FilePath, params.Offset, params.Limit)
	if err != nil {
		return nil, err
	}

	return &Result{
		Title:  fmt.Sprintf("Read %s", filepath.Base(params.FilePath)),
		Output: renderFileWindow(lines, params.Offset, totalLines),
		Metadata: map[string]any{
			"file":       params.FilePath,
			"lines":      len(lines),
			"totalLines": totalLines,
		},
	}, nil
}

// readLineWindow scans the file, collecting the numbered lines in
// [offset, offset+limit) while still counting every line so the caller
// knows the file's full extent. Overlong lines are clipped.
func readLineWindow(path string, offset, limit int) (lines []string, totalLines int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		totalLines++
		if offset > 0 && totalLines < offset {
			continue
		}
		if len(lines) >= limit {
			continue // keep counting, stop collecting
		}
		text := scanner.Text()
		if len(text) > maxReadLineWidth {
			text = text[:maxReadLineWidth] + "..."
		}
		lines = append(lines, fmt.Sprintf("%05d| %s", totalLines, text))
	}
	return lines, totalLines, scanner.Err()
}

// renderFileWindow wraps the collected lines in <file> tags with a
// trailer telling the model whether more content remains.
func renderFileWindow(lines []string, offset, totalLines int) string {
	var sb strings.Builder
	sb.WriteString("<file>\n")
	sb.WriteString(strings.Join(lines, "\n"))

	lastRead := len(lines)
	if offset > 0 {
		lastRead += offset - 1 // offset is the 1-based first line collected
	}
	if totalLines > lastRead {
		fmt.Fprintf(&sb, "\n\n(File has more lines. Use 'offset' parameter to read beyond line %d)", lastRead)
	} else {
		fmt.Fprintf(&sb, "\n\n(End of file - total %d lines)", totalLines)
	}
	sb.WriteString("\n</file>")
	return sb.String()
}

func (t *ReadTool) readImage(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mediaType := detectMediaType(path)
	return &Result{
		Title:  fmt.Sprintf("Read %s", filepath.Base(path)),
		Output: "(Image file)",
		Attachments: []Attachment{{
			Filename:  filepath.Base(path),
			MediaType: mediaType,
			URL:       "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data),
		}},
	}, nil
}

var imageMediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

func isImageFile(path string) bool {
	_, ok := imageMediaTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}

func detectMediaType(path string) string {
	if mt, ok := imageMediaTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// isBinaryFile sniffs the first 8000 bytes: any NUL byte, or a high ratio of
// control characters, marks the file binary.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 8000)
	n, _ := f.Read(buf)
	if n == 0 {
		return false
	}

	control := 0
	for _, b := range buf[:n] {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			control++
		}
	}
	return float64(control)/float64(n) > 0.3
}

// shouldBlockEnvFile keeps secrets-bearing .env files out of the
// model's context. Sample/template variants stay readable.
func shouldBlockEnvFile(filePath string) bool {
	for _, allowed := range []string{".env.sample", ".example"} {
		if strings.HasSuffix(filePath, allowed) {
			return false
		}
	}
	return strings.Contains(filePath, ".env")
}

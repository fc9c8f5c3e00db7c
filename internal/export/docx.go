package export

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// exportDOCX converts the rendered report HTML to DOCX via pandoc.
func exportDOCX(ctx context.Context, html, formName string) (*Result, error) {
	pandoc, err := exec.LookPath("pandoc")
	if err != nil {
		return nil, fmt.Errorf("%w: pandoc not installed", ErrDOCXDependencyMissing)
	}

	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, pandoc,
		"--from", "html",
		"--to", "docx",
		"--standalone",
		"--metadata", "title="+formName,
		"--output", "-",
	)
	cmd.Stdin = strings.NewReader(html)
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("pandoc: %s", strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("run pandoc: %w", err)
	}

	return &Result{
		Data:     out.Bytes(),
		Filename: sanitizeFilename(formName) + ".docx",
		MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}, nil
}

package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const pdfRenderTimeout = 30 * time.Second

// Letter paper with three-quarter inch margins, dimensions in inches.
const (
	pdfPaperWidth  = 8.5
	pdfPaperHeight = 11.0
	pdfMargin      = 0.75
)

// exportPDF renders the report HTML to PDF with headless Chrome. The page
// is fed in as a data URL so no temp files or local web server are needed.
func exportPDF(ctx context.Context, html, formName string) (*Result, error) {
	if !chromiumAvailable() {
		return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
	}

	ctx, cancel := context.WithTimeout(ctx, pdfRenderTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var pdfData []byte
	printTask := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		pdfData, _, err = page.PrintToPDF().
			WithPrintBackground(true).
			WithPaperWidth(pdfPaperWidth).
			WithPaperHeight(pdfPaperHeight).
			WithMarginTop(pdfMargin).
			WithMarginBottom(pdfMargin).
			WithMarginLeft(pdfMargin).
			WithMarginRight(pdfMargin).
			WithPreferCSSPageSize(true).
			Do(ctx)
		return err
	})

	err := chromedp.Run(taskCtx,
		chromedp.Navigate("data:text/html;charset=utf-8,"+percentEncodeForDataURL(html)),
		chromedp.WaitReady("body"),
		printTask,
	)
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	return &Result{
		Data:     pdfData,
		Filename: sanitizeFilename(formName) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

func chromiumAvailable() bool {
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

// percentEncodeForDataURL encodes a string for use in a data URL.
// Unlike url.QueryEscape, spaces become %20 rather than +.
func percentEncodeForDataURL(s string) string {
	var result strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '_', r == '.', r == '~':
			result.WriteRune(r)
		case r == ' ':
			result.WriteString("%20")
		default:
			for _, b := range string(r) {
				result.WriteString(fmt.Sprintf("%%%02X", b))
			}
		}
	}
	return result.String()
}

// sanitizeFilename derives a safe download name from a form name.
func sanitizeFilename(formName string) string {
	var b strings.Builder
	for _, r := range formName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		case r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "disclosure"
	}
	return name
}

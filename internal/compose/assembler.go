package compose

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/phpdave11/gofpdf"
	"github.com/phpdave11/gofpdf/contrib/gofpdi"
	fpdi "github.com/phpdave11/gofpdi"
	"go.uber.org/zap"

	"github.com/overprint/overprint/internal/storage"
)

// gofpdi keeps parse state in a package-level importer, so assembly and
// probing are serialized process-wide.
var importerMu sync.Mutex

// Assembler renders reconciled placements onto a source document. Pages
// without drawable placements are carried over unchanged; page count and
// order always match the source exactly.
type Assembler struct {
	store  storage.Store
	logger *zap.Logger
}

// NewAssembler constructs an Assembler reading image bytes through the
// provided store.
func NewAssembler(store storage.Store, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{store: store, logger: logger}
}

// Assemble composites placements onto every page of the source PDF and
// publishes the result at outputPath. The output is written to a
// temporary sibling file and renamed into place only on full success, so
// a failed commit never leaves a partial document behind. Per-placement
// failures are returned as warnings; a source read or output write
// failure returns a CompositingError.
func (a *Assembler) Assemble(ctx context.Context, sourcePath, outputPath string, pages map[int][]Placement) ([]Warning, error) {
	if err := ctx.Err(); err != nil {
		return nil, compositingErr("begin", err)
	}

	importerMu.Lock()
	defer importerMu.Unlock()

	var warnings []Warning
	pdf := gofpdf.New("P", "pt", "A4", "")
	registered := make(map[string]bool)

	err := capturePanic("read source document", func() {
		firstTemplate := gofpdi.ImportPage(pdf, sourcePath, 1, "/MediaBox")
		sizes := gofpdi.GetPageSizes()
		pageCount := len(sizes)

		for pageNumber := 1; pageNumber <= pageCount; pageNumber++ {
			box := sizes[pageNumber]["/MediaBox"]
			pageWidth, pageHeight := box["w"], box["h"]
			orientation := "P"
			if pageWidth > pageHeight {
				orientation = "L"
			}
			pdf.AddPageFormat(orientation, gofpdf.SizeType{Wd: pageWidth, Ht: pageHeight})

			template := firstTemplate
			if pageNumber > 1 {
				template = gofpdi.ImportPage(pdf, sourcePath, pageNumber, "/MediaBox")
			}
			gofpdi.UseImportedTemplate(pdf, template, 0, 0, pageWidth, pageHeight)

			for _, placement := range pages[pageNumber-1] {
				if warning := a.drawPlacement(pdf, registered, pageNumber-1, placement); warning != nil {
					warnings = append(warnings, *warning)
				}
			}
		}
	})
	if err != nil {
		return warnings, err
	}

	if pdf.Err() {
		return warnings, compositingErr("render", pdf.Error())
	}

	tempPath := outputPath + ".tmp"
	if writeErr := capturePanic("write output document", func() {
		if err := pdf.OutputFileAndClose(tempPath); err != nil {
			panic(err)
		}
	}); writeErr != nil {
		os.Remove(tempPath)
		return warnings, writeErr
	}

	if err := os.Rename(tempPath, outputPath); err != nil {
		os.Remove(tempPath)
		return warnings, compositingErr("publish output document", err)
	}

	for _, warning := range warnings {
		a.logger.Warn("placement skipped",
			zap.Int("page", warning.Page),
			zap.String("image_id", warning.ImageID),
			zap.String("reason", warning.Reason))
	}

	return warnings, nil
}

// drawPlacement draws a single placement on the current page. A nil
// return means the image was drawn; otherwise the placement was skipped
// for the returned reason. One bad placement never aborts the page.
func (a *Assembler) drawPlacement(pdf *gofpdf.Fpdf, registered map[string]bool, page int, placement Placement) *Warning {
	data, err := a.store.Read(placement.ImagePath)
	if err != nil {
		return &Warning{Page: page, ImageID: placement.ImageID, Reason: fmt.Sprintf("image unreadable: %v", err)}
	}

	imageType := sniffImageType(data)
	if imageType == "" {
		return &Warning{Page: page, ImageID: placement.ImageID, Reason: "unsupported image format"}
	}

	options := gofpdf.ImageOptions{ImageType: imageType, ReadDpi: false}
	if !registered[placement.ImageID] {
		pdf.RegisterImageOptionsReader(placement.ImageID, options, bytes.NewReader(data))
		if pdf.Err() {
			reason := fmt.Sprintf("image rejected: %v", pdf.Error())
			clearError(pdf)
			return &Warning{Page: page, ImageID: placement.ImageID, Reason: reason}
		}
		registered[placement.ImageID] = true
	}

	rotated := placement.Rotation != 0
	if rotated {
		centerX, centerY := placement.Center()
		pdf.TransformBegin()
		pdf.TransformRotate(placement.Rotation, centerX, centerY)
	}
	if placement.Opacity < 1 {
		pdf.SetAlpha(placement.Opacity, "Normal")
	}

	pdf.ImageOptions(placement.ImageID, placement.X, placement.Y, placement.Width, placement.Height, false, options, 0, "")

	if placement.Opacity < 1 {
		pdf.SetAlpha(1, "Normal")
	}
	if rotated {
		pdf.TransformEnd()
	}
	return nil
}

// ProbePageCount reports the number of pages in a PDF, or an error if the
// file cannot be parsed as one.
func ProbePageCount(path string) (int, error) {
	importerMu.Lock()
	defer importerMu.Unlock()

	var count int
	err := capturePanic("read source document", func() {
		importer := fpdi.NewImporter()
		importer.SetSourceFile(path)
		count = importer.GetNumPages()
	})
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, compositingErr("read source document", fmt.Errorf("document has no pages"))
	}
	return count, nil
}

// sniffImageType detects the image container from its magic bytes,
// returning a gofpdf image type or "" when unsupported.
func sniffImageType(data []byte) string {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n")):
		return "PNG"
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "JPEG"
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return "GIF"
	}
	return ""
}

// clearError resets gofpdf's sticky error state after a recoverable
// per-image failure so the rest of the page can still render.
func clearError(pdf *gofpdf.Fpdf) {
	pdf.ClearError()
}

// capturePanic runs fn, converting a gofpdi parse panic into a
// CompositingError.
func capturePanic(stage string, fn func()) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			if asErr, ok := recovered.(error); ok {
				err = compositingErr(stage, asErr)
				return
			}
			err = compositingErr(stage, fmt.Errorf("%v", recovered))
		}
	}()
	fn()
	return nil
}

// Package overlay derives the processed output series from a study's
// images: one new series per run with fresh UIDs, plus the burned-in
// research disclaimer.
package overlay

import (
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/cnct/netrt/dicom"
)

// NewUID returns a DICOM UID under the 2.25 root, derived from a random
// UUID (DICOM PS3.5 B.2).
func NewUID() string {
	id := uuid.New()
	var n big.Int
	n.SetBytes(id[:])
	return "2.25." + n.String()
}

// SeriesDeriver implements the contour processing stage: for each image in
// the study it emits a derived object into the output directory, all
// sharing one fresh SeriesInstanceUID.
type SeriesDeriver struct {
	seriesDescription string
	seriesNumber      int
	logger            *slog.Logger
}

// NewSeriesDeriver creates a deriver stamping the given series description
// and number onto its output.
func NewSeriesDeriver(seriesDescription string, seriesNumber int, logger *slog.Logger) *SeriesDeriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SeriesDeriver{
		seriesDescription: seriesDescription,
		seriesNumber:      seriesNumber,
		logger:            logger,
	}
}

// Run derives the output series. structureFile is accepted for contour
// reference; pixel-level rasterisation is not performed. When debug is set
// a copy of every derived object also lands in outputDir/DebugDicom and
// its path is reported.
func (d *SeriesDeriver) Run(imageDir, structureFile, outputDir string, debug bool, studyUID string) (bool, string, error) {
	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return false, "", fmt.Errorf("overlay: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".dcm") {
			files = append(files, filepath.Join(imageDir, entry.Name()))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return false, "", fmt.Errorf("overlay: no images in %s", imageDir)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return false, "", fmt.Errorf("overlay: %w", err)
	}

	debugDir := filepath.Join(outputDir, "DebugDicom")
	if debug {
		if err := os.MkdirAll(debugDir, 0o755); err != nil {
			return false, "", fmt.Errorf("overlay: %w", err)
		}
	}

	seriesUID := NewUID()

	d.logger.Info("Deriving output series",
		"study_uid", studyUID,
		"series_uid", seriesUID,
		"images", len(files),
		"structure_file", filepath.Base(structureFile))

	for i, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return false, "", fmt.Errorf("overlay: %w", err)
		}

		out, err := dicom.RewriteFile(data, func(ds *dicom.Dataset) error {
			ds.SetString(dicom.TagSeriesInstanceUID, seriesUID)
			ds.SetString(dicom.TagSeriesDescription, d.seriesDescription)
			ds.SetString(dicom.TagSeriesNumber, strconv.Itoa(d.seriesNumber))
			ds.SetString(dicom.TagSOPInstanceUID, NewUID())
			return nil
		})
		if err != nil {
			return false, "", fmt.Errorf("overlay %s: %w", file, err)
		}

		name := fmt.Sprintf("OVERLAY-%d.dcm", i+1)
		if err := os.WriteFile(filepath.Join(outputDir, name), out, 0o644); err != nil {
			return false, "", fmt.Errorf("overlay: %w", err)
		}
		if debug {
			if err := os.WriteFile(filepath.Join(debugDir, name), out, 0o644); err != nil {
				return false, "", fmt.Errorf("overlay: %w", err)
			}
		}
	}

	return debug, debugDir, nil
}

// Disclaimer implements the burn-in stage by stamping ImageComments with
// the research disclaimer on every object in a directory.
type Disclaimer struct {
	text   string
	logger *slog.Logger
}

// DefaultDisclaimer is the research-use banner burned into output objects.
const DefaultDisclaimer = "RESEARCH IMAGE - Not for diagnostic purpose"

// NewDisclaimer creates the burn-in collaborator. Empty text uses
// DefaultDisclaimer.
func NewDisclaimer(text string, logger *slog.Logger) *Disclaimer {
	if text == "" {
		text = DefaultDisclaimer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Disclaimer{text: text, logger: logger}
}

// Run stamps every .dcm file directly inside directory.
func (b *Disclaimer) Run(directory string) error {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return fmt.Errorf("burnin: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".dcm") {
			continue
		}
		path := filepath.Join(directory, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("burnin: %w", err)
		}

		out, err := dicom.RewriteFile(data, func(ds *dicom.Dataset) error {
			ds.SetString(dicom.TagImageComments, b.text)
			return nil
		})
		if err != nil {
			return fmt.Errorf("burnin %s: %w", path, err)
		}

		if err := os.WriteFile(path, out, 0o644); err != nil {
			return fmt.Errorf("burnin: %w", err)
		}
	}

	b.logger.Debug("Applied disclaimer", "directory", directory)
	return nil
}

// Package pipeline orchestrates the per-study processing run: validate,
// locate structure set, de-identify, derive the output series, burn in the
// disclaimer, send, and finalize with cleanup or quarantine.
package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Anonymizer de-identifies one file in place.
type Anonymizer interface {
	AnonymizeFile(path string) error
}

// ContourProcessor derives the output series for a study.
type ContourProcessor interface {
	Run(imageDir, structureFile, outputDir string, debug bool, studyUID string) (debugProduced bool, debugDir string, err error)
}

// BurnIn stamps the research disclaimer onto every object in a directory.
type BurnIn interface {
	Run(directory string) error
}

// Sender forwards a directory to the destination node. Reports success.
type Sender interface {
	SendDirectory(path string) bool
}

// StudyStore is the slice of the object store the pipeline needs.
type StudyStore interface {
	StudyPath(studyUID string) string
	ImageDir(studyUID string) string
	AdditionDir(studyUID string) string
	ImageFiles(studyUID string) ([]string, error)
	StructureFiles(studyUID string) ([]string, error)
	CleanupStudy(studyUID string) error
	QuarantineStudy(studyUID string) error
}

// Guard serializes runs per study UID.
type Guard interface {
	TryAcquire(key string) bool
	Release(key string)
}

// Orchestrator runs the processing pipeline for completion candidates.
type Orchestrator struct {
	store   StudyStore
	guard   Guard
	anon    Anonymizer
	contour ContourProcessor
	burnIn  BurnIn
	sender  Sender
	debug   bool
	txlog   zerolog.Logger
	logger  *slog.Logger
}

// New wires the orchestrator. A nil burnIn disables the disclaimer stage.
// txlog is the transaction log: one JSON event per study milestone, kept
// separate from the application log so the audit trail survives log level
// changes.
func New(store StudyStore, guard Guard, anon Anonymizer, contour ContourProcessor, burnIn BurnIn, sender Sender, debug bool, txlog zerolog.Logger, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:   store,
		guard:   guard,
		anon:    anon,
		contour: contour,
		burnIn:  burnIn,
		sender:  sender,
		debug:   debug,
		txlog:   txlog,
		logger:  logger,
	}
}

// ProcessStudy runs the pipeline for one study. A study already being
// processed is dropped. Exactly one of cleanup or quarantine runs at the
// end, regardless of where the run fails.
func (o *Orchestrator) ProcessStudy(studyUID string) {
	if !o.guard.TryAcquire(studyUID) {
		o.logger.Debug("Study already processing, dropping candidate",
			"study_uid", studyUID)
		return
	}
	defer o.guard.Release(studyUID)

	start := time.Now()
	o.txlog.Info().Str("study_uid", studyUID).Str("event", "processing_started").Msg("pipeline run started")

	if err := o.run(studyUID); err != nil {
		o.logger.Error("Pipeline failed",
			"study_uid", studyUID,
			"error", err)
		o.txlog.Error().Str("study_uid", studyUID).Str("event", "processing_failed").Dur("elapsed", time.Since(start)).Err(err).Msg("pipeline run failed")

		if qErr := o.store.QuarantineStudy(studyUID); qErr != nil {
			o.logger.Error("Failed to quarantine study",
				"study_uid", studyUID,
				"error", qErr)
			return
		}
		o.txlog.Warn().Str("study_uid", studyUID).Str("event", "quarantined").Dur("elapsed", time.Since(start)).Msg("study quarantined")
		return
	}

	if err := o.store.CleanupStudy(studyUID); err != nil {
		o.logger.Error("Failed to clean up study",
			"study_uid", studyUID,
			"error", err)
		return
	}
	o.txlog.Info().Str("study_uid", studyUID).Str("event", "cleaned_up").Dur("elapsed", time.Since(start)).Msg("study processed and removed")
}

func (o *Orchestrator) run(studyUID string) error {
	// Stage 1: validate
	images, err := o.store.ImageFiles(studyUID)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if len(images) == 0 {
		return fmt.Errorf("validate: study %s has no image objects", studyUID)
	}

	// Stage 2: locate structure set
	structures, err := o.store.StructureFiles(studyUID)
	if err != nil {
		return fmt.Errorf("locate structure: %w", err)
	}
	structureFile := ""
	switch len(structures) {
	case 0:
		o.logger.Info("No structure set, proceeding without contour processing",
			"study_uid", studyUID)
	case 1:
		structureFile = structures[0]
	default:
		structureFile = structures[0]
		o.logger.Warn("Multiple structure sets, using first in sorted order",
			"study_uid", studyUID,
			"count", len(structures),
			"selected", filepath.Base(structureFile))
	}

	// Stage 3: de-identify
	targets := images
	if structureFile != "" {
		targets = append(append([]string{}, images...), structureFile)
	}
	for _, file := range targets {
		if err := o.anon.AnonymizeFile(file); err != nil {
			o.txlog.Error().Str("study_uid", studyUID).Str("event", "stage_failed").Str("stage", "anonymize").Msg("de-identification failed")
			return fmt.Errorf("anonymize: %w", err)
		}
	}

	additionDir := o.store.AdditionDir(studyUID)
	debugProduced := false
	debugDir := ""

	if structureFile != "" {
		// Stage 4: derive the output series
		debugProduced, debugDir, err = o.contour.Run(o.store.ImageDir(studyUID), structureFile, additionDir, o.debug, studyUID)
		if err != nil {
			o.txlog.Error().Str("study_uid", studyUID).Str("event", "stage_failed").Str("stage", "contour").Msg("series derivation failed")
			return fmt.Errorf("contour: %w", err)
		}

		// Stage 5: burn in disclaimer
		if o.burnIn != nil {
			if err := o.burnIn.Run(additionDir); err != nil {
				o.txlog.Error().Str("study_uid", studyUID).Str("event", "stage_failed").Str("stage", "burnin").Msg("disclaimer burn-in failed")
				return fmt.Errorf("burnin: %w", err)
			}
		}
	}

	// Stage 6: send
	if !o.sender.SendDirectory(additionDir) {
		o.txlog.Error().Str("study_uid", studyUID).Str("event", "stage_failed").Str("stage", "send").Msg("send failed")
		return fmt.Errorf("send: directory %s not fully delivered", additionDir)
	}
	o.txlog.Info().Str("study_uid", studyUID).Str("event", "sent").Msg("output series delivered")

	// Stage 7: send debug series. A failure here loses only the debug
	// copies, so it does not fail the run.
	if debugProduced {
		if !o.sender.SendDirectory(debugDir) {
			o.logger.Warn("Debug series not fully delivered",
				"study_uid", studyUID,
				"directory", debugDir)
		}
	}

	return nil
}

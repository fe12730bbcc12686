// Package store manages the per-study working directory tree: object
// placement, quarantine and cleanup.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cnct/netrt/types"
)

const (
	studyDirPrefix = "UID_"
	imageSubdir    = "DCM"
	structSubdir   = "Structure"
	additionSubdir = "Addition"
	debugSubdir    = "DebugDicom"
)

// Store lays out one directory per study under the working root:
//
//	UID_<StudyInstanceUID>/
//	  DCM/        image objects
//	  Structure/  structure sets
//	  Addition/   pipeline output
//	  Addition/DebugDicom/  debug output
//
// Quarantined studies move into <root>/<quarantineSubdir>/.
type Store struct {
	root             string
	quarantineSubdir string
	logger           *slog.Logger
}

// New creates a store rooted at root. The root directory is created if
// missing.
func New(root, quarantineSubdir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	return &Store{
		root:             root,
		quarantineSubdir: quarantineSubdir,
		logger:           logger,
	}, nil
}

// Root returns the working root directory.
func (s *Store) Root() string { return s.root }

// QuarantineDir returns the quarantine directory path.
func (s *Store) QuarantineDir() string {
	return filepath.Join(s.root, s.quarantineSubdir)
}

// StudyPath returns the study directory for a StudyInstanceUID.
func (s *Store) StudyPath(studyUID string) string {
	return filepath.Join(s.root, studyDirPrefix+studyUID)
}

// ImageDir returns the image subdirectory of a study.
func (s *Store) ImageDir(studyUID string) string {
	return filepath.Join(s.StudyPath(studyUID), imageSubdir)
}

// StructureDir returns the structure set subdirectory of a study.
func (s *Store) StructureDir(studyUID string) string {
	return filepath.Join(s.StudyPath(studyUID), structSubdir)
}

// AdditionDir returns the pipeline output subdirectory of a study.
func (s *Store) AdditionDir(studyUID string) string {
	return filepath.Join(s.StudyPath(studyUID), additionSubdir)
}

// DebugDir returns the debug output subdirectory of a study.
func (s *Store) DebugDir(studyUID string) string {
	return filepath.Join(s.AdditionDir(studyUID), debugSubdir)
}

// StudyUIDFromDir extracts the StudyInstanceUID from a study directory
// name. Returns false for anything that is not a study directory.
func StudyUIDFromDir(name string) (string, bool) {
	if !strings.HasPrefix(name, studyDirPrefix) || len(name) == len(studyDirPrefix) {
		return "", false
	}
	return name[len(studyDirPrefix):], true
}

// WriteObject writes a received Part 10 file into the study tree, placing
// structure sets under Structure/ and everything else under DCM/. The
// study tree is created on first touch. Returns the written path.
func (s *Store) WriteObject(studyUID string, class types.ObjectClass, sopInstanceUID string, data []byte) (string, error) {
	if studyUID == "" {
		return "", fmt.Errorf("empty StudyInstanceUID")
	}
	if sopInstanceUID == "" {
		return "", fmt.Errorf("empty SOPInstanceUID")
	}

	subdir := imageSubdir
	if class == types.ObjectClassStructure {
		subdir = structSubdir
	}

	dir := filepath.Join(s.StudyPath(studyUID), subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create study directory: %w", err)
	}

	path := filepath.Join(dir, sopInstanceUID+".dcm")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}

	return path, nil
}

// ObjectCount counts the DICOM objects a study holds across DCM/ and
// Structure/. Used by the completion detector's readiness gate.
func (s *Store) ObjectCount(studyUID string) int {
	count := 0
	for _, dir := range []string{s.ImageDir(studyUID), s.StructureDir(studyUID)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".dcm") {
				count++
			}
		}
	}
	return count
}

// HasImages reports whether the study's DCM/ directory holds at least one
// object. A structure-only study is not ready for processing.
func (s *Store) HasImages(studyUID string) bool {
	entries, err := os.ReadDir(s.ImageDir(studyUID))
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".dcm") {
			return true
		}
	}
	return false
}

// ImageFiles lists the image objects of a study in sorted order.
func (s *Store) ImageFiles(studyUID string) ([]string, error) {
	return listDicomFiles(s.ImageDir(studyUID))
}

// StructureFiles lists the structure set objects of a study in sorted order.
func (s *Store) StructureFiles(studyUID string) ([]string, error) {
	return listDicomFiles(s.StructureDir(studyUID))
}

func listDicomFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".dcm") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// CleanupStudy removes the study directory recursively. Removing a study
// that is already gone is a success.
func (s *Store) CleanupStudy(studyUID string) error {
	path := s.StudyPath(studyUID)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove study %s: %w", studyUID, err)
	}
	s.logger.Info("Cleaned up study", "study_uid", studyUID, "path", path)
	return nil
}

// QuarantineStudy moves the study directory into the quarantine subtree.
// A name collision gets a unix epoch suffix, so earlier quarantined data
// is never clobbered.
func (s *Store) QuarantineStudy(studyUID string) error {
	src := s.StudyPath(studyUID)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("study %s not found for quarantine: %w", studyUID, err)
	}

	quarantineDir := s.QuarantineDir()
	if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
		return fmt.Errorf("failed to create quarantine directory: %w", err)
	}

	dst := filepath.Join(quarantineDir, studyDirPrefix+studyUID)
	if _, err := os.Stat(dst); err == nil {
		dst = fmt.Sprintf("%s_%d", dst, time.Now().Unix())
	}

	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to quarantine study %s: %w", studyUID, err)
	}

	s.logger.Warn("Quarantined study", "study_uid", studyUID, "path", dst)
	return nil
}

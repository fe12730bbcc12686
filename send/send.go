// Package send forwards processed directories to the downstream DICOM
// node over C-STORE.
package send

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cnct/netrt/client"
	"github.com/cnct/netrt/dicom"
	dicomerrors "github.com/cnct/netrt/errors"
	"github.com/cnct/netrt/types"
)

// Sender opens one association per directory and stores every file in it.
type Sender struct {
	address   string
	callingAE string
	calledAE  string
	logger    *slog.Logger
}

// New creates a Sender targeting address (host:port) with the given AE
// titles.
func New(address, callingAE, calledAE string, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		address:   address,
		callingAE: callingAE,
		calledAE:  calledAE,
		logger:    logger,
	}
}

// SendDirectory stores every .dcm file in path on the destination node.
// Returns true iff every file stored with success status. An empty or
// missing directory is a warning, not a failure: a study without contour
// output has nothing to send.
func (s *Sender) SendDirectory(path string) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		s.logger.Warn("Nothing to send", "directory", path, "error", err)
		return true
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".dcm") {
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		s.logger.Warn("Nothing to send", "directory", path)
		return true
	}

	assoc, err := client.Connect(s.address, client.Config{
		CallingAETitle: s.callingAE,
		CalledAETitle:  s.calledAE,
		Logger:         s.logger,
	})
	if err != nil {
		s.logger.Error("Failed to open association",
			"destination", s.address,
			"called_ae", s.calledAE,
			"error", err)
		return false
	}
	defer assoc.Close()

	ok := true
	for i, file := range files {
		if err := s.sendFile(assoc, file, uint16(i+1)); err != nil {
			s.logger.Error("Failed to send file",
				"file", filepath.Base(file),
				"error", err)
			ok = false
		}
	}

	if ok {
		s.logger.Info("Sent directory",
			"directory", path,
			"files", len(files),
			"destination", s.address)
	}
	return ok
}

func (s *Sender) sendFile(assoc *client.Association, path string, messageID uint16) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	meta, err := dicom.ReadFileMeta(data)
	if err != nil {
		return err
	}

	datasetBytes, err := dicom.StripPart10Header(data)
	if err != nil {
		return err
	}

	if !negotiatedSyntax(meta.TransferSyntaxUID) {
		s.logger.Warn("Object transfer syntax was not proposed, forwarding bytes as stored",
			"file", filepath.Base(path),
			"transfer_syntax", meta.TransferSyntaxUID)
	}

	resp, err := assoc.SendCStore(&client.CStoreRequest{
		SOPClassUID:    meta.MediaStorageSOPClassUID,
		SOPInstanceUID: meta.MediaStorageSOPInstanceUID,
		Data:           datasetBytes,
		MessageID:      messageID,
	})
	if err != nil {
		return err
	}

	if resp.Status != 0x0000 {
		return dicomerrors.NewDIMSEError("C-STORE", resp.Status, filepath.Base(path))
	}

	return nil
}

// negotiatedSyntax reports whether the association proposes uid itself.
// Objects stored under any other syntax go out byte for byte inside the
// accepted context; a destination that cannot take them fails the send.
func negotiatedSyntax(uid string) bool {
	return uid == types.ImplicitVRLittleEndian || uid == types.ExplicitVRLittleEndian
}

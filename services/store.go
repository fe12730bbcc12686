package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cnct/netrt/dicom"
	"github.com/cnct/netrt/dimse"
	"github.com/cnct/netrt/types"
)

// ObjectStore persists received objects into per-study directories.
type ObjectStore interface {
	WriteObject(studyUID string, class types.ObjectClass, sopInstanceUID string, data []byte) (string, error)
}

// StoreObserver is notified after every successfully stored object.
// The completion detector uses this to arm its per-study timer.
type StoreObserver interface {
	ObjectStored(studyUID string)
}

// StorageService handles inbound C-STORE requests.
//
// Each received dataset is decoded just far enough to read its routing
// attributes (StudyInstanceUID, SOPInstanceUID, Modality), classified as
// an image or a structure set, wrapped into a Part 10 file in its original
// transfer syntax and handed to the object store.
type StorageService struct {
	store    ObjectStore
	observer StoreObserver
	logger   *slog.Logger
}

// NewStorageService creates a C-STORE service writing into store.
// observer may be nil.
func NewStorageService(store ObjectStore, observer StoreObserver, logger *slog.Logger) *StorageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageService{
		store:    store,
		observer: observer,
		logger:   logger,
	}
}

// HandleDIMSE processes a C-STORE-RQ and returns the C-STORE-RSP.
//
// Objects without a StudyInstanceUID are refused with status 0xA700.
// Storage failures return status 0xC001. Neither closes the association,
// so one bad object does not sink the rest of the study.
func (s *StorageService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	s.logger.DebugContext(ctx, "Processing C-STORE request",
		"message_id", msg.MessageID,
		"affected_sop_class", msg.AffectedSOPClassUID,
		"dataset_size", len(data))

	if len(data) == 0 {
		s.logger.WarnContext(ctx, "C-STORE request without dataset",
			"message_id", msg.MessageID)
		return NewCStoreResponse(msg, dimse.StatusProcessingFailure), nil, nil
	}

	transferSyntax := msg.TransferSyntaxUID
	if transferSyntax == "" {
		transferSyntax = types.ImplicitVRLittleEndian
		s.logger.WarnContext(ctx, "No negotiated transfer syntax, assuming Implicit VR Little Endian",
			"message_id", msg.MessageID,
			"affected_sop_class", msg.AffectedSOPClassUID)
	}

	dataset, err := dicom.ParseDatasetWithTransferSyntax(data, transferSyntax)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to decode C-STORE dataset",
			"message_id", msg.MessageID,
			"transfer_syntax", transferSyntax,
			"error", err)
		return NewCStoreResponse(msg, dimse.StatusProcessingFailure), nil, nil
	}

	studyUID := dataset.GetString(dicom.TagStudyInstanceUID)
	if studyUID == "" {
		s.logger.WarnContext(ctx, "Refusing object without StudyInstanceUID",
			"message_id", msg.MessageID,
			"sop_instance", msg.AffectedSOPInstanceUID)
		return NewCStoreResponse(msg, dimse.StatusOutOfResources), nil, nil
	}

	sopClassUID := msg.AffectedSOPClassUID
	if sopClassUID == "" {
		sopClassUID = dataset.GetString(dicom.TagSOPClassUID)
	}
	sopInstanceUID := msg.AffectedSOPInstanceUID
	if sopInstanceUID == "" {
		sopInstanceUID = dataset.GetString(dicom.TagSOPInstanceUID)
	}
	if sopInstanceUID == "" {
		return NewCStoreResponse(msg, dimse.StatusProcessingFailure), nil, nil
	}

	class := types.ClassifyObject(sopClassUID, dataset.GetString(dicom.TagModality))

	fileBytes, err := dicom.WrapDataset(data, sopClassUID, sopInstanceUID, transferSyntax)
	if err != nil {
		return NewCStoreResponse(msg, dimse.StatusProcessingFailure), nil, nil
	}

	path, err := s.store.WriteObject(studyUID, class, sopInstanceUID, fileBytes)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to store object",
			"study_uid", studyUID,
			"sop_instance", sopInstanceUID,
			"error", err)
		return NewCStoreResponse(msg, dimse.StatusProcessingFailure), nil, nil
	}

	s.logger.InfoContext(ctx, "Stored object",
		"study_uid", studyUID,
		"sop_instance", sopInstanceUID,
		"class", class.String(),
		"path", path)

	if s.observer != nil {
		s.observer.ObjectStored(studyUID)
	}

	return NewCStoreResponse(msg, dimse.StatusSuccess), nil, nil
}

// HealthCheck verifies the storage service can reach its object store.
func (s *StorageService) HealthCheck(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("storage service has no object store")
	}
	return nil
}

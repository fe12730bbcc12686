package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/cnct/netrt/dicom"
	"github.com/cnct/netrt/dimse"
	"github.com/cnct/netrt/types"
)

type fakeObjectStore struct {
	writeErr error

	studyUID       string
	class          types.ObjectClass
	sopInstanceUID string
	data           []byte
	calls          int
}

func (f *fakeObjectStore) WriteObject(studyUID string, class types.ObjectClass, sopInstanceUID string, data []byte) (string, error) {
	f.calls++
	f.studyUID = studyUID
	f.class = class
	f.sopInstanceUID = sopInstanceUID
	f.data = data
	if f.writeErr != nil {
		return "", f.writeErr
	}
	return "/tmp/" + sopInstanceUID + ".dcm", nil
}

type fakeObserver struct {
	studyUIDs []string
}

func (f *fakeObserver) ObjectStored(studyUID string) {
	f.studyUIDs = append(f.studyUIDs, studyUID)
}

func encodeTestDataset(t *testing.T, studyUID, sopClassUID, sopInstanceUID, modality string) []byte {
	t.Helper()
	ds := dicom.NewDataset()
	if sopClassUID != "" {
		ds.AddElement(dicom.TagSOPClassUID, dicom.VR_UI, sopClassUID)
	}
	if sopInstanceUID != "" {
		ds.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, sopInstanceUID)
	}
	if modality != "" {
		ds.AddElement(dicom.TagModality, dicom.VR_CS, modality)
	}
	if studyUID != "" {
		ds.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, studyUID)
	}
	data, err := dicom.EncodeDatasetWithTransferSyntax(ds, types.ExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("Failed to encode dataset: %v", err)
	}
	return data
}

func cstoreRequest(sopClassUID, sopInstanceUID string) *types.Message {
	return &types.Message{
		CommandField:           dimse.CStoreRQ,
		MessageID:              7,
		AffectedSOPClassUID:    sopClassUID,
		AffectedSOPInstanceUID: sopInstanceUID,
		CommandDataSetType:     0x0000,
		TransferSyntaxUID:      types.ExplicitVRLittleEndian,
	}
}

func TestStorageService_HandleDIMSE_Success(t *testing.T) {
	store := &fakeObjectStore{}
	observer := &fakeObserver{}
	service := NewStorageService(store, observer, nil)

	data := encodeTestDataset(t, "1.2.3.100", types.CTImageStorage, "1.2.3.100.1", "CT")
	msg := cstoreRequest(types.CTImageStorage, "1.2.3.100.1")

	resp, respData, err := service.HandleDIMSE(context.Background(), msg, data)
	if err != nil {
		t.Fatalf("HandleDIMSE() error = %v", err)
	}
	if respData != nil {
		t.Error("Expected nil response data for C-STORE")
	}

	if resp.CommandField != dimse.CStoreRSP {
		t.Errorf("CommandField = 0x%04x, want C-STORE-RSP", resp.CommandField)
	}
	if resp.Status != dimse.StatusSuccess {
		t.Errorf("Status = 0x%04x, want success", resp.Status)
	}
	if resp.MessageIDBeingRespondedTo != msg.MessageID {
		t.Errorf("MessageIDBeingRespondedTo = %d, want %d", resp.MessageIDBeingRespondedTo, msg.MessageID)
	}

	if store.calls != 1 {
		t.Fatalf("WriteObject called %d times, want 1", store.calls)
	}
	if store.studyUID != "1.2.3.100" {
		t.Errorf("Stored study UID = %q, want 1.2.3.100", store.studyUID)
	}
	if store.class != types.ObjectClassImage {
		t.Errorf("Stored class = %v, want Image", store.class)
	}
	if store.sopInstanceUID != "1.2.3.100.1" {
		t.Errorf("Stored SOP instance UID = %q, want 1.2.3.100.1", store.sopInstanceUID)
	}
	if !dicom.HasPart10Header(store.data) {
		t.Error("Stored bytes are not a Part 10 file")
	}

	if len(observer.studyUIDs) != 1 || observer.studyUIDs[0] != "1.2.3.100" {
		t.Errorf("Observer notified with %v, want [1.2.3.100]", observer.studyUIDs)
	}
}

func TestStorageService_HandleDIMSE_StructureSet(t *testing.T) {
	tests := []struct {
		name     string
		sopClass string
		modality string
	}{
		{"by SOP class", types.RTStructureSetStorage, ""},
		{"by modality", types.SecondaryCaptureImageStorage, "RTSTRUCT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeObjectStore{}
			service := NewStorageService(store, nil, nil)

			data := encodeTestDataset(t, "1.2.3.200", tt.sopClass, "1.2.3.200.1", tt.modality)
			msg := cstoreRequest(tt.sopClass, "1.2.3.200.1")

			resp, _, err := service.HandleDIMSE(context.Background(), msg, data)
			if err != nil {
				t.Fatalf("HandleDIMSE() error = %v", err)
			}
			if resp.Status != dimse.StatusSuccess {
				t.Fatalf("Status = 0x%04x, want success", resp.Status)
			}
			if store.class != types.ObjectClassStructure {
				t.Errorf("Stored class = %v, want Structure", store.class)
			}
		})
	}
}

func TestStorageService_HandleDIMSE_MissingStudyUID(t *testing.T) {
	store := &fakeObjectStore{}
	observer := &fakeObserver{}
	service := NewStorageService(store, observer, nil)

	data := encodeTestDataset(t, "", types.CTImageStorage, "1.2.3.300.1", "CT")
	msg := cstoreRequest(types.CTImageStorage, "1.2.3.300.1")

	resp, _, err := service.HandleDIMSE(context.Background(), msg, data)
	if err != nil {
		t.Fatalf("HandleDIMSE() error = %v, refusal must not abort the association", err)
	}
	if resp.Status != dimse.StatusOutOfResources {
		t.Errorf("Status = 0x%04x, want 0x%04x", resp.Status, dimse.StatusOutOfResources)
	}
	if store.calls != 0 {
		t.Error("WriteObject called for refused object")
	}
	if len(observer.studyUIDs) != 0 {
		t.Error("Observer notified for refused object")
	}
}

func TestStorageService_HandleDIMSE_EmptyDataset(t *testing.T) {
	store := &fakeObjectStore{}
	service := NewStorageService(store, nil, nil)

	msg := cstoreRequest(types.CTImageStorage, "1.2.3.400.1")
	resp, _, err := service.HandleDIMSE(context.Background(), msg, nil)
	if err != nil {
		t.Fatalf("HandleDIMSE() error = %v", err)
	}
	if resp.Status != dimse.StatusProcessingFailure {
		t.Errorf("Status = 0x%04x, want 0x%04x", resp.Status, dimse.StatusProcessingFailure)
	}
	if store.calls != 0 {
		t.Error("WriteObject called without a dataset")
	}
}

func TestStorageService_HandleDIMSE_StoreFailure(t *testing.T) {
	store := &fakeObjectStore{writeErr: errors.New("disk full")}
	observer := &fakeObserver{}
	service := NewStorageService(store, observer, nil)

	data := encodeTestDataset(t, "1.2.3.500", types.CTImageStorage, "1.2.3.500.1", "CT")
	msg := cstoreRequest(types.CTImageStorage, "1.2.3.500.1")

	resp, _, err := service.HandleDIMSE(context.Background(), msg, data)
	if err != nil {
		t.Fatalf("HandleDIMSE() error = %v, storage failure must not abort the association", err)
	}
	if resp.Status != dimse.StatusProcessingFailure {
		t.Errorf("Status = 0x%04x, want 0x%04x", resp.Status, dimse.StatusProcessingFailure)
	}
	if len(observer.studyUIDs) != 0 {
		t.Error("Observer notified for failed store")
	}
}

func TestStorageService_HandleDIMSE_TransferSyntaxFallback(t *testing.T) {
	// No negotiated transfer syntax on the message: the dataset is decoded
	// as Implicit VR Little Endian and a warning is logged.
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	store := &fakeObjectStore{}
	service := NewStorageService(store, nil, logger)

	ds := dicom.NewDataset()
	ds.AddElement(dicom.TagSOPClassUID, dicom.VR_UI, types.CTImageStorage)
	ds.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, "1.2.3.700.1")
	ds.AddElement(dicom.TagModality, dicom.VR_CS, "CT")
	ds.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, "1.2.3.700")
	data, err := dicom.EncodeDatasetWithTransferSyntax(ds, types.ImplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("Failed to encode dataset: %v", err)
	}

	msg := cstoreRequest(types.CTImageStorage, "1.2.3.700.1")
	msg.TransferSyntaxUID = ""

	resp, _, err := service.HandleDIMSE(context.Background(), msg, data)
	if err != nil {
		t.Fatalf("HandleDIMSE() error = %v", err)
	}
	if resp.Status != dimse.StatusSuccess {
		t.Fatalf("Status = 0x%04x, want success", resp.Status)
	}
	if store.calls != 1 {
		t.Errorf("WriteObject called %d times, want 1", store.calls)
	}
	if !strings.Contains(logBuf.String(), "assuming Implicit VR Little Endian") {
		t.Errorf("Fallback not logged, log output: %s", logBuf.String())
	}
}

func TestStorageService_HandleDIMSE_UIDsFromDataset(t *testing.T) {
	// Command set without SOP UIDs falls back to the dataset attributes.
	store := &fakeObjectStore{}
	service := NewStorageService(store, nil, nil)

	data := encodeTestDataset(t, "1.2.3.600", types.RTStructureSetStorage, "1.2.3.600.1", "RTSTRUCT")
	msg := cstoreRequest("", "")

	resp, _, err := service.HandleDIMSE(context.Background(), msg, data)
	if err != nil {
		t.Fatalf("HandleDIMSE() error = %v", err)
	}
	if resp.Status != dimse.StatusSuccess {
		t.Fatalf("Status = 0x%04x, want success", resp.Status)
	}
	if store.sopInstanceUID != "1.2.3.600.1" {
		t.Errorf("Stored SOP instance UID = %q, want dataset value", store.sopInstanceUID)
	}
	if store.class != types.ObjectClassStructure {
		t.Errorf("Stored class = %v, want Structure", store.class)
	}
}

func TestStorageService_HealthCheck(t *testing.T) {
	service := NewStorageService(&fakeObjectStore{}, nil, nil)
	if err := service.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}

	broken := NewStorageService(nil, nil, nil)
	if err := broken.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() with nil store should fail")
	}
}

package dicom

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// createValidPart10File creates a minimal valid DICOM Part 10 file for testing
func createValidPart10File() []byte {
	var data []byte

	// 128-byte preamble (all zeros)
	preamble := make([]byte, 128)
	data = append(data, preamble...)

	// DICM prefix
	data = append(data, []byte("DICM")...)

	// Transfer Syntax UID (0002,0010) - using short VR format
	data = append(data, 0x02, 0x00, 0x10, 0x00) // Tag
	data = append(data, 'U', 'I')                // VR
	tsUID := "1.2.840.10008.1.2.1\x00"          // Explicit VR Little Endian (padded)
	tsLength := make([]byte, 2)
	binary.LittleEndian.PutUint16(tsLength, uint16(len(tsUID)))
	data = append(data, tsLength...)
	data = append(data, []byte(tsUID)...)

	// Dataset starts here (group > 0x0002)
	// Patient Name (0010,0010)
	data = append(data, 0x10, 0x00, 0x10, 0x00) // Tag
	data = append(data, 'P', 'N')                // VR
	patientName := "TEST^PATIENT"
	nameLength := make([]byte, 2)
	binary.LittleEndian.PutUint16(nameLength, uint16(len(patientName)))
	data = append(data, nameLength...)
	data = append(data, []byte(patientName)...)

	return data
}

func TestStripPart10Header_ValidFile(t *testing.T) {
	data := createValidPart10File()

	dataset, err := StripPart10Header(data)
	if err != nil {
		t.Fatalf("StripPart10Header() error = %v", err)
	}

	// Dataset should start with Patient Name tag (0010,0010)
	if len(dataset) < 4 {
		t.Fatal("Dataset too short")
	}

	expectedTag := []byte{0x10, 0x00, 0x10, 0x00}
	if !bytes.Equal(dataset[0:4], expectedTag) {
		t.Errorf("Expected dataset to start with tag 0010,0010, got %02x%02x,%02x%02x",
			dataset[1], dataset[0], dataset[3], dataset[2])
	}
}

func TestStripPart10Header_TooShort(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}

	_, err := StripPart10Header(data)
	if err == nil {
		t.Error("Expected error for data too short")
	}

	if !bytes.Contains([]byte(err.Error()), []byte("too short")) {
		t.Errorf("Expected 'too short' error, got: %v", err)
	}
}

func TestStripPart10Header_MissingDICM(t *testing.T) {
	// Create data with 132 bytes but no DICM prefix
	data := make([]byte, 200)

	_, err := StripPart10Header(data)
	if err == nil {
		t.Error("Expected error for missing DICM prefix")
	}

	if !bytes.Contains([]byte(err.Error()), []byte("missing DICM")) {
		t.Errorf("Expected 'missing DICM' error, got: %v", err)
	}
}

func TestStripPart10Header_InvalidDICM(t *testing.T) {
	data := make([]byte, 200)
	// Put wrong prefix at offset 128
	copy(data[128:132], []byte("XXXX"))

	_, err := StripPart10Header(data)
	if err == nil {
		t.Error("Expected error for invalid DICM prefix")
	}
}

func TestStripPart10Header_EmptyMetaInfo(t *testing.T) {
	var data []byte

	// 128-byte preamble
	preamble := make([]byte, 128)
	data = append(data, preamble...)

	// DICM prefix
	data = append(data, []byte("DICM")...)

	// Immediately start dataset (group 0x0010)
	data = append(data, 0x10, 0x00, 0x10, 0x00) // Patient Name tag
	data = append(data, 'P', 'N')                // VR
	data = append(data, 0x04, 0x00)              // Length
	data = append(data, []byte("TEST")...)

	dataset, err := StripPart10Header(data)
	if err != nil {
		t.Fatalf("StripPart10Header() error = %v", err)
	}

	// Should start right after DICM prefix
	if len(dataset) < 4 {
		t.Fatal("Dataset too short")
	}

	expectedTag := []byte{0x10, 0x00, 0x10, 0x00}
	if !bytes.Equal(dataset[0:4], expectedTag) {
		t.Errorf("Expected dataset to start with tag 0010,0010")
	}
}

func TestStripPart10Header_MultipleMetaElements(t *testing.T) {
	var data []byte

	// 128-byte preamble
	preamble := make([]byte, 128)
	data = append(data, preamble...)

	// DICM prefix
	data = append(data, []byte("DICM")...)

	// Media Storage SOP Class UID (0002,0002)
	data = append(data, 0x02, 0x00, 0x02, 0x00) // Tag
	data = append(data, 'U', 'I')                // VR
	sopClass := "1.2.3.4\x00"                    // Padded
	sopLength := make([]byte, 2)
	binary.LittleEndian.PutUint16(sopLength, uint16(len(sopClass)))
	data = append(data, sopLength...)
	data = append(data, []byte(sopClass)...)

	// Transfer Syntax UID (0002,0010)
	data = append(data, 0x02, 0x00, 0x10, 0x00) // Tag
	data = append(data, 'U', 'I')                // VR
	tsUID := "1.2.840.10008.1.2\x00"            // Implicit VR Little Endian
	tsLength := make([]byte, 2)
	binary.LittleEndian.PutUint16(tsLength, uint16(len(tsUID)))
	data = append(data, tsLength...)
	data = append(data, []byte(tsUID)...)

	// Dataset starts here
	data = append(data, 0x10, 0x00, 0x10, 0x00) // Patient Name tag
	data = append(data, 'P', 'N')                // VR
	data = append(data, 0x04, 0x00)              // Length
	data = append(data, []byte("TEST")...)

	dataset, err := StripPart10Header(data)
	if err != nil {
		t.Fatalf("StripPart10Header() error = %v", err)
	}

	// Should skip both meta elements
	if len(dataset) < 4 {
		t.Fatal("Dataset too short")
	}

	expectedTag := []byte{0x10, 0x00, 0x10, 0x00}
	if !bytes.Equal(dataset[0:4], expectedTag) {
		t.Errorf("Expected dataset to start with tag 0010,0010")
	}
}

func TestStripPart10Header_LongVRElement(t *testing.T) {
	var data []byte

	// 128-byte preamble
	preamble := make([]byte, 128)
	data = append(data, preamble...)

	// DICM prefix
	data = append(data, []byte("DICM")...)

	// Use OB VR which has 32-bit length
	data = append(data, 0x02, 0x00, 0x01, 0x00) // Tag (0002,0001)
	data = append(data, 'O', 'B')                // VR
	data = append(data, 0x00, 0x00)              // Reserved
	valueData := make([]byte, 100)               // 100 bytes of data
	length := make([]byte, 4)
	binary.LittleEndian.PutUint32(length, uint32(len(valueData)))
	data = append(data, length...)
	data = append(data, valueData...)

	// Dataset starts here
	data = append(data, 0x10, 0x00, 0x10, 0x00) // Patient Name tag
	data = append(data, 'P', 'N')                // VR
	data = append(data, 0x04, 0x00)              // Length
	data = append(data, []byte("TEST")...)

	dataset, err := StripPart10Header(data)
	if err != nil {
		t.Fatalf("StripPart10Header() error = %v", err)
	}

	expectedTag := []byte{0x10, 0x00, 0x10, 0x00}
	if !bytes.Equal(dataset[0:4], expectedTag) {
		t.Errorf("Expected dataset to start with tag 0010,0010")
	}
}

func TestHasPart10Header_Valid(t *testing.T) {
	data := createValidPart10File()

	if !HasPart10Header(data) {
		t.Error("Expected HasPart10Header to return true for valid Part 10 file")
	}
}

func TestHasPart10Header_TooShort(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}

	if HasPart10Header(data) {
		t.Error("Expected HasPart10Header to return false for short data")
	}
}

func TestHasPart10Header_NoDICM(t *testing.T) {
	data := make([]byte, 200)
	copy(data[128:132], []byte("XXXX"))

	if HasPart10Header(data) {
		t.Error("Expected HasPart10Header to return false without DICM prefix")
	}
}

func TestWriteFile_ReadFile_RoundTrip(t *testing.T) {
	ds := NewDataset()
	ds.AddElement(TagSOPClassUID, VR_UI, "1.2.840.10008.5.1.4.1.1.2")
	ds.AddElement(TagSOPInstanceUID, VR_UI, "1.2.3.4.5")
	ds.AddElement(TagStudyInstanceUID, VR_UI, "1.2.3.4")
	ds.AddElement(TagPatientName, VR_PN, "DOE^JOHN")

	data, err := WriteFile(ds, "1.2.840.10008.1.2.1")
	if err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if !HasPart10Header(data) {
		t.Fatal("WriteFile output has no Part 10 header")
	}

	file, err := ReadFile(data)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	if file.MediaStorageSOPClassUID != "1.2.840.10008.5.1.4.1.1.2" {
		t.Errorf("MediaStorageSOPClassUID = %s, want dataset SOP class", file.MediaStorageSOPClassUID)
	}
	if file.MediaStorageSOPInstanceUID != "1.2.3.4.5" {
		t.Errorf("MediaStorageSOPInstanceUID = %s, want 1.2.3.4.5", file.MediaStorageSOPInstanceUID)
	}
	if file.TransferSyntaxUID != "1.2.840.10008.1.2.1" {
		t.Errorf("TransferSyntaxUID = %s, want 1.2.840.10008.1.2.1", file.TransferSyntaxUID)
	}
	if got := file.Dataset.GetString(TagPatientName); got != "DOE^JOHN" {
		t.Errorf("PatientName = %q, want DOE^JOHN", got)
	}
}

func TestWriteFile_MissingSOPInstanceUID(t *testing.T) {
	ds := NewDataset()
	ds.AddElement(TagPatientName, VR_PN, "DOE^JOHN")

	if _, err := WriteFile(ds, "1.2.840.10008.1.2.1"); err == nil {
		t.Error("Expected error for dataset without SOPInstanceUID")
	}
}

func TestReadFileMeta(t *testing.T) {
	ds := NewDataset()
	ds.AddElement(TagSOPClassUID, VR_UI, "1.2.840.10008.5.1.4.1.1.4")
	ds.AddElement(TagSOPInstanceUID, VR_UI, "1.2.3.9")

	data, err := WriteFile(ds, "1.2.840.10008.1.2")
	if err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	meta, err := ReadFileMeta(data)
	if err != nil {
		t.Fatalf("ReadFileMeta() error = %v", err)
	}
	if meta.TransferSyntaxUID != "1.2.840.10008.1.2" {
		t.Errorf("TransferSyntaxUID = %s, want 1.2.840.10008.1.2", meta.TransferSyntaxUID)
	}
	if meta.MediaStorageSOPClassUID != "1.2.840.10008.5.1.4.1.1.4" {
		t.Errorf("MediaStorageSOPClassUID = %s", meta.MediaStorageSOPClassUID)
	}
	if meta.Dataset != nil {
		t.Error("ReadFileMeta should not decode the dataset")
	}
}

func TestWrapDataset(t *testing.T) {
	// Bytes in some arbitrary encoding, wrapped as received
	datasetBytes := []byte{0x10, 0x00, 0x10, 0x00, 'P', 'N', 0x04, 0x00, 'T', 'E', 'S', 'T'}

	data, err := WrapDataset(datasetBytes, "1.2.840.10008.5.1.4.1.1.2", "1.2.3.4", "1.2.840.10008.1.2.4.90")
	if err != nil {
		t.Fatalf("WrapDataset() error = %v", err)
	}

	meta, err := ReadFileMeta(data)
	if err != nil {
		t.Fatalf("ReadFileMeta() error = %v", err)
	}
	if meta.TransferSyntaxUID != "1.2.840.10008.1.2.4.90" {
		t.Errorf("TransferSyntaxUID = %s, want recorded syntax", meta.TransferSyntaxUID)
	}

	stripped, err := StripPart10Header(data)
	if err != nil {
		t.Fatalf("StripPart10Header() error = %v", err)
	}
	if !bytes.Equal(stripped, datasetBytes) {
		t.Error("Dataset bytes not stored as received")
	}
}

func TestWrapDataset_MissingSOPInstanceUID(t *testing.T) {
	if _, err := WrapDataset([]byte{0x00}, "1.2.3", "", "1.2.840.10008.1.2"); err == nil {
		t.Error("Expected error for missing SOPInstanceUID")
	}
}

func TestRewriteFile(t *testing.T) {
	ds := NewDataset()
	ds.AddElement(TagSOPClassUID, VR_UI, "1.2.840.10008.5.1.4.1.1.2")
	ds.AddElement(TagSOPInstanceUID, VR_UI, "1.2.3.4.5")
	ds.AddElement(TagPatientName, VR_PN, "DOE^JOHN")
	ds.AddElement(TagPatientID, VR_LO, "12345")

	data, err := WriteFile(ds, "1.2.840.10008.1.2.1")
	if err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	out, err := RewriteFile(data, func(d *Dataset) error {
		d.RemoveElement(TagPatientID)
		d.SetString(TagPatientName, "")
		return nil
	})
	if err != nil {
		t.Fatalf("RewriteFile() error = %v", err)
	}

	file, err := ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if _, exists := file.Dataset.GetElement(TagPatientID); exists {
		t.Error("PatientID still present after rewrite")
	}
	if got := file.Dataset.GetString(TagPatientName); got != "" {
		t.Errorf("PatientName = %q, want blanked", got)
	}
	if got := file.Dataset.GetString(TagSOPInstanceUID); got != "1.2.3.4.5" {
		t.Errorf("SOPInstanceUID = %q, want preserved", got)
	}
	if file.TransferSyntaxUID != "1.2.840.10008.1.2.1" {
		t.Errorf("TransferSyntaxUID = %s, want unchanged", file.TransferSyntaxUID)
	}
}

func TestRewriteFile_PreservesEncapsulatedTail(t *testing.T) {
	// Build an explicit VR dataset ending in an undefined-length pixel data
	// element, the shape of a compressed object.
	var dsBytes []byte

	// SOP Instance UID (0008,0018)
	dsBytes = append(dsBytes, 0x08, 0x00, 0x18, 0x00)
	dsBytes = append(dsBytes, 'U', 'I')
	uid := "1.2.3.4\x00"
	dsBytes = append(dsBytes, byte(len(uid)), 0x00)
	dsBytes = append(dsBytes, []byte(uid)...)

	// Patient Name (0010,0010)
	dsBytes = append(dsBytes, 0x10, 0x00, 0x10, 0x00)
	dsBytes = append(dsBytes, 'P', 'N')
	dsBytes = append(dsBytes, 0x08, 0x00)
	dsBytes = append(dsBytes, []byte("DOE^JOHN")...)

	// Pixel Data (7FE0,0010), OB with undefined length
	tail := []byte{
		0xE0, 0x7F, 0x10, 0x00,
		'O', 'B', 0x00, 0x00,
		0xFF, 0xFF, 0xFF, 0xFF,
		// Basic offset table item
		0xFE, 0xFF, 0x00, 0xE0, 0x00, 0x00, 0x00, 0x00,
		// One fragment
		0xFE, 0xFF, 0x00, 0xE0, 0x04, 0x00, 0x00, 0x00, 0xDE, 0xAD, 0xBE, 0xEF,
		// Sequence delimiter
		0xFE, 0xFF, 0xDD, 0xE0, 0x00, 0x00, 0x00, 0x00,
	}
	dsBytes = append(dsBytes, tail...)

	data, err := WrapDataset(dsBytes, "1.2.840.10008.5.1.4.1.1.2", "1.2.3.4", "1.2.840.10008.1.2.4.90")
	if err != nil {
		t.Fatalf("WrapDataset() error = %v", err)
	}

	out, err := RewriteFile(data, func(d *Dataset) error {
		d.SetString(TagPatientName, "")
		return nil
	})
	if err != nil {
		t.Fatalf("RewriteFile() error = %v", err)
	}

	if !bytes.HasSuffix(out, tail) {
		t.Error("Encapsulated pixel data not preserved verbatim")
	}

	stripped, err := StripPart10Header(out)
	if err != nil {
		t.Fatalf("StripPart10Header() error = %v", err)
	}
	reparsed, err := ParseDatasetWithTransferSyntax(stripped, "1.2.840.10008.1.2.4.90")
	if err != nil {
		t.Fatalf("Failed to reparse rewritten dataset: %v", err)
	}
	if got := reparsed.GetString(TagPatientName); got != "" {
		t.Errorf("PatientName = %q, want blanked", got)
	}
	if got := reparsed.GetString(TagSOPInstanceUID); got != "1.2.3.4" {
		t.Errorf("SOPInstanceUID = %q, want 1.2.3.4", got)
	}
}

func TestHasPart10Header_RawDataset(t *testing.T) {
	// Create raw dataset (no Part 10 header)
	var data []byte
	data = append(data, 0x10, 0x00, 0x10, 0x00) // Patient Name tag
	data = append(data, 'P', 'N')                // VR
	data = append(data, 0x04, 0x00)              // Length
	data = append(data, []byte("TEST")...)

	if HasPart10Header(data) {
		t.Error("Expected HasPart10Header to return false for raw dataset")
	}
}

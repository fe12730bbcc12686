package types

// DICOM Transfer Syntax UIDs as defined in DICOM Part 5, Section 8 and Part 6, Annex A.4
// https://dicom.nema.org/medical/dicom/current/output/chtml/part05/chapter_8.html

// Uncompressed Transfer Syntaxes
const (
	// ImplicitVRLittleEndian - Default Transfer Syntax for DICOM
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	// ExplicitVRLittleEndian - Explicit VR with little endian byte ordering
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// ExplicitVRBigEndian - Explicit VR with big endian byte ordering (retired,
	// still emitted by older planning workstations)
	ExplicitVRBigEndian = "1.2.840.10008.1.2.2"
)

// JPEG Compression Transfer Syntaxes
const (
	// JPEGBaseline8Bit - JPEG Baseline (Process 1), lossy, 8-bit samples
	JPEGBaseline8Bit = "1.2.840.10008.1.2.4.50"

	// JPEGExtended12Bit - JPEG Extended (Process 2 & 4), lossy, 8-12 bit samples
	JPEGExtended12Bit = "1.2.840.10008.1.2.4.51"
)

// JPEG 2000 Transfer Syntaxes
const (
	// JPEG2000Lossless - JPEG 2000 Image Compression (Lossless Only)
	JPEG2000Lossless = "1.2.840.10008.1.2.4.90"

	// JPEG2000 - JPEG 2000 Image Compression (lossy or lossless)
	JPEG2000 = "1.2.840.10008.1.2.4.91"
)

// TransferSyntaxInfo provides metadata about a transfer syntax
type TransferSyntaxInfo struct {
	UID          string
	Name         string
	IsCompressed bool
	IsLossless   bool
	IsRetired    bool
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID
func GetTransferSyntaxInfo(uid string) *TransferSyntaxInfo {
	info, ok := transferSyntaxRegistry[uid]
	if !ok {
		return &TransferSyntaxInfo{
			UID:          uid,
			Name:         "Unknown",
			IsCompressed: false,
			IsLossless:   true,
		}
	}
	return &info
}

// IsCompressed returns true if the transfer syntax uses compression
func IsCompressed(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsCompressed
}

// IsSupportedTransferSyntax reports whether the relay can negotiate and
// store objects in the given transfer syntax. Compressed pixel data is
// stored as received, never transcoded.
func IsSupportedTransferSyntax(uid string) bool {
	_, ok := transferSyntaxRegistry[uid]
	return ok
}

// transferSyntaxRegistry maps transfer syntax UIDs to their information
var transferSyntaxRegistry = map[string]TransferSyntaxInfo{
	ImplicitVRLittleEndian: {
		UID:          ImplicitVRLittleEndian,
		Name:         "Implicit VR Little Endian",
		IsCompressed: false,
		IsLossless:   true,
	},
	ExplicitVRLittleEndian: {
		UID:          ExplicitVRLittleEndian,
		Name:         "Explicit VR Little Endian",
		IsCompressed: false,
		IsLossless:   true,
	},
	ExplicitVRBigEndian: {
		UID:          ExplicitVRBigEndian,
		Name:         "Explicit VR Big Endian",
		IsCompressed: false,
		IsLossless:   true,
		IsRetired:    true,
	},
	JPEGBaseline8Bit: {
		UID:          JPEGBaseline8Bit,
		Name:         "JPEG Baseline (Process 1)",
		IsCompressed: true,
		IsLossless:   false,
	},
	JPEGExtended12Bit: {
		UID:          JPEGExtended12Bit,
		Name:         "JPEG Extended (Process 2 & 4)",
		IsCompressed: true,
		IsLossless:   false,
	},
	JPEG2000Lossless: {
		UID:          JPEG2000Lossless,
		Name:         "JPEG 2000 Lossless Only",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEG2000: {
		UID:          JPEG2000,
		Name:         "JPEG 2000",
		IsCompressed: true,
		IsLossless:   false,
	},
}

// StorageTransferSyntaxes returns the transfer syntaxes proposed and accepted
// for storage presentation contexts, in negotiation preference order
// (uncompressed first, then lossless, then lossy).
func StorageTransferSyntaxes() []string {
	return []string{
		ExplicitVRLittleEndian,
		ImplicitVRLittleEndian,
		ExplicitVRBigEndian,
		JPEG2000Lossless,
		JPEG2000,
		JPEGBaseline8Bit,
		JPEGExtended12Bit,
	}
}

// Package types contains DICOM protocol constants and small shared value types.
package types

// DICOM Application Context UID
// The Application Context defines the DICOM application-level message exchange rules.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Implementation identifiers written into File Meta Information and
// announced during association negotiation.
const (
	ImplementationClassUID    = "1.2.826.0.1.3680043.10.1082.1"
	ImplementationVersionName = "NETRT_GO_010"
)

// Verification Service
const (
	VerificationSOPClass = "1.2.840.10008.1.1"
)

// Storage Service SOP Classes, as defined in DICOM Part 4, Annex B.
// The relay accepts any storage SOP class; the named constants below are the
// ones it reasons about directly.
const (
	// Computed Tomography
	CTImageStorage                        = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage                = "1.2.840.10008.5.1.4.1.1.2.1"
	LegacyConvertedEnhancedCTImageStorage = "1.2.840.10008.5.1.4.1.1.2.2"

	// Magnetic Resonance
	MRImageStorage         = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage = "1.2.840.10008.5.1.4.1.1.4.1"

	// Secondary Capture and Multi-frame
	SecondaryCaptureImageStorage                        = "1.2.840.10008.5.1.4.1.1.7"
	MultiFrameGrayscaleByteSecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7.1"
	MultiFrameGrayscaleWordSecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7.2"
	MultiFrameTrueColorSecondaryCaptureImageStorage     = "1.2.840.10008.5.1.4.1.1.7.3"

	// RT (Radiation Therapy)
	RTImageStorage        = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage         = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage = "1.2.840.10008.5.1.4.1.1.481.3"
	RTPlanStorage         = "1.2.840.10008.5.1.4.1.1.481.5"

	// Positron Emission Tomography
	PETImageStorage = "1.2.840.10008.5.1.4.1.1.128"

	// Nuclear Medicine
	NuclearMedicineImageStorage = "1.2.840.10008.5.1.4.1.1.20"
)

// storageSOPClassPrefix covers the composite image/object storage subtree of
// the DICOM UID space. Any UID below it is a storage SOP class even when it
// does not appear in the registry.
const storageSOPClassPrefix = "1.2.840.10008.5.1.4.1.1."

// SOPClassInfo provides human-readable information about a SOP Class UID
type SOPClassInfo struct {
	UID      string
	Name     string
	Category string
}

// GetSOPClassInfo returns information about a SOP Class UID
func GetSOPClassInfo(uid string) *SOPClassInfo {
	info, ok := sopClassRegistry[uid]
	if !ok {
		return &SOPClassInfo{
			UID:      uid,
			Name:     "Unknown",
			Category: "Unknown",
		}
	}
	return &info
}

// IsStorageSOPClass returns true if the UID is a storage SOP class
func IsStorageSOPClass(uid string) bool {
	if info, ok := sopClassRegistry[uid]; ok {
		return info.Category == "Storage"
	}
	return hasPrefix(uid, storageSOPClassPrefix)
}

func hasPrefix(s, prefix string) bool {
	return len(s) > len(prefix) && s[:len(prefix)] == prefix
}

// ObjectClass is the relay's classification of a received object.
// It determines where the object is filed within a study directory.
type ObjectClass int

const (
	// ObjectClassImage covers CT slices and every other non-structure object.
	ObjectClassImage ObjectClass = iota

	// ObjectClassStructure is an RT Structure Set.
	ObjectClassStructure
)

func (c ObjectClass) String() string {
	if c == ObjectClassStructure {
		return "Structure"
	}
	return "Image"
}

// ClassifyObject decides the object class from SOPClassUID and Modality.
// A structure set is recognized by its SOP class or, for objects written by
// planning systems that mislabel the class, by Modality RTSTRUCT.
func ClassifyObject(sopClassUID, modality string) ObjectClass {
	if sopClassUID == RTStructureSetStorage || modality == "RTSTRUCT" {
		return ObjectClassStructure
	}
	return ObjectClassImage
}

// sopClassRegistry maps SOP Class UIDs to their information
var sopClassRegistry = map[string]SOPClassInfo{
	VerificationSOPClass: {
		UID:      VerificationSOPClass,
		Name:     "Verification SOP Class",
		Category: "Verification",
	},

	// CT
	CTImageStorage: {
		UID:      CTImageStorage,
		Name:     "CT Image Storage",
		Category: "Storage",
	},
	EnhancedCTImageStorage: {
		UID:      EnhancedCTImageStorage,
		Name:     "Enhanced CT Image Storage",
		Category: "Storage",
	},
	LegacyConvertedEnhancedCTImageStorage: {
		UID:      LegacyConvertedEnhancedCTImageStorage,
		Name:     "Legacy Converted Enhanced CT Image Storage",
		Category: "Storage",
	},

	// MR
	MRImageStorage: {
		UID:      MRImageStorage,
		Name:     "MR Image Storage",
		Category: "Storage",
	},
	EnhancedMRImageStorage: {
		UID:      EnhancedMRImageStorage,
		Name:     "Enhanced MR Image Storage",
		Category: "Storage",
	},

	// Secondary Capture
	SecondaryCaptureImageStorage: {
		UID:      SecondaryCaptureImageStorage,
		Name:     "Secondary Capture Image Storage",
		Category: "Storage",
	},
	MultiFrameGrayscaleByteSecondaryCaptureImageStorage: {
		UID:      MultiFrameGrayscaleByteSecondaryCaptureImageStorage,
		Name:     "Multi-frame Grayscale Byte Secondary Capture Image Storage",
		Category: "Storage",
	},
	MultiFrameGrayscaleWordSecondaryCaptureImageStorage: {
		UID:      MultiFrameGrayscaleWordSecondaryCaptureImageStorage,
		Name:     "Multi-frame Grayscale Word Secondary Capture Image Storage",
		Category: "Storage",
	},
	MultiFrameTrueColorSecondaryCaptureImageStorage: {
		UID:      MultiFrameTrueColorSecondaryCaptureImageStorage,
		Name:     "Multi-frame True Color Secondary Capture Image Storage",
		Category: "Storage",
	},

	// RT
	RTImageStorage: {
		UID:      RTImageStorage,
		Name:     "RT Image Storage",
		Category: "Storage",
	},
	RTDoseStorage: {
		UID:      RTDoseStorage,
		Name:     "RT Dose Storage",
		Category: "Storage",
	},
	RTStructureSetStorage: {
		UID:      RTStructureSetStorage,
		Name:     "RT Structure Set Storage",
		Category: "Storage",
	},
	RTPlanStorage: {
		UID:      RTPlanStorage,
		Name:     "RT Plan Storage",
		Category: "Storage",
	},

	// PET
	PETImageStorage: {
		UID:      PETImageStorage,
		Name:     "PET Image Storage",
		Category: "Storage",
	},

	// Nuclear Medicine
	NuclearMedicineImageStorage: {
		UID:      NuclearMedicineImageStorage,
		Name:     "Nuclear Medicine Image Storage",
		Category: "Storage",
	},
}

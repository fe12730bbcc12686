package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cnct/netrt/types"
)

// File represents a parsed DICOM Part 10 file: the File Meta Information
// fields the relay cares about plus the decoded dataset.
//
// DICOM Part 10 files contain:
//   - 128 byte preamble
//   - 4 byte "DICM" prefix
//   - File Meta Information elements (group 0x0002, explicit VR little endian)
//   - Dataset, encoded per the recorded TransferSyntaxUID
type File struct {
	MediaStorageSOPClassUID    string
	MediaStorageSOPInstanceUID string
	TransferSyntaxUID          string
	Dataset                    *Dataset
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < 132 {
		return false
	}
	return string(data[128:132]) == "DICM"
}

// parseFileMeta walks the group 0x0002 elements and returns the recorded
// transfer syntax plus the offset where the dataset begins.
func parseFileMeta(data []byte) (meta File, datasetOffset int, err error) {
	if !HasPart10Header(data) {
		return File{}, 0, fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}

	offset := 132

	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])

		if group != 0x0002 {
			break
		}

		vr := string(data[offset+4 : offset+6])

		var length uint32
		var valueOffset int

		if isLongVR(vr) {
			if offset+12 > len(data) {
				break
			}
			length = binary.LittleEndian.Uint32(data[offset+8 : offset+12])
			valueOffset = offset + 12
		} else {
			length = uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
			valueOffset = offset + 8
		}

		if valueOffset+int(length) > len(data) {
			break
		}

		value := strings.TrimRight(string(data[valueOffset:valueOffset+int(length)]), "\x00 ")
		switch element {
		case 0x0002:
			meta.MediaStorageSOPClassUID = value
		case 0x0003:
			meta.MediaStorageSOPInstanceUID = value
		case 0x0010:
			meta.TransferSyntaxUID = value
		}

		offset = valueOffset + int(length)
	}

	if offset >= len(data) {
		return File{}, 0, fmt.Errorf("failed to find dataset after File Meta Information")
	}

	return meta, offset, nil
}

// StripPart10Header removes the preamble and File Meta Information and
// returns just the raw dataset bytes, for sending via C-STORE.
func StripPart10Header(data []byte) ([]byte, error) {
	_, offset, err := parseFileMeta(data)
	if err != nil {
		return nil, err
	}
	return data[offset:], nil
}

// ReadFile parses a complete Part 10 file into meta fields and a decoded
// dataset. Files without a recorded transfer syntax decode as implicit VR
// little endian.
func ReadFile(data []byte) (*File, error) {
	meta, offset, err := parseFileMeta(data)
	if err != nil {
		return nil, err
	}

	transferSyntax := meta.TransferSyntaxUID
	if transferSyntax == "" {
		transferSyntax = types.ImplicitVRLittleEndian
	}

	dataset, err := ParseDatasetWithTransferSyntax(data[offset:], transferSyntax)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}

	meta.Dataset = dataset
	return &meta, nil
}

// WriteFile builds a complete Part 10 file for the dataset: 128-byte
// preamble, DICM magic, File Meta Information group, then the dataset
// encoded in transferSyntaxUID. MediaStorage identifiers are taken from
// the dataset's SOPClassUID and SOPInstanceUID.
func WriteFile(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, fmt.Errorf("nil dataset")
	}
	if transferSyntaxUID == "" {
		transferSyntaxUID = types.ImplicitVRLittleEndian
	}

	sopClassUID := dataset.GetString(TagSOPClassUID)
	sopInstanceUID := dataset.GetString(TagSOPInstanceUID)
	if sopInstanceUID == "" {
		return nil, fmt.Errorf("dataset missing SOPInstanceUID")
	}

	datasetBytes, err := EncodeDatasetWithTransferSyntax(dataset, transferSyntaxUID)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dataset: %w", err)
	}

	meta := encodeFileMeta(sopClassUID, sopInstanceUID, transferSyntaxUID)

	out := make([]byte, 0, 132+len(meta)+len(datasetBytes))
	out = append(out, make([]byte, 128)...)
	out = append(out, []byte("DICM")...)
	out = append(out, meta...)
	out = append(out, datasetBytes...)

	return out, nil
}

// ReadFileMeta parses only the File Meta Information of a Part 10 file.
func ReadFileMeta(data []byte) (*File, error) {
	meta, _, err := parseFileMeta(data)
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// RewriteFile decodes a Part 10 file, applies modify to the decodable prefix
// of its dataset and rebuilds the file in the same transfer syntax. Bytes
// past the decodable prefix (encapsulated pixel data, undefined length
// sequences) are preserved verbatim, so compressed objects survive a
// metadata rewrite.
func RewriteFile(data []byte, modify func(*Dataset) error) ([]byte, error) {
	meta, offset, err := parseFileMeta(data)
	if err != nil {
		return nil, err
	}

	transferSyntax := meta.TransferSyntaxUID
	if transferSyntax == "" {
		transferSyntax = types.ImplicitVRLittleEndian
	}

	dataset, consumed, err := ParseDatasetPrefix(data[offset:], transferSyntax)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}

	if err := modify(dataset); err != nil {
		return nil, err
	}

	head, err := EncodeDatasetWithTransferSyntax(dataset, transferSyntax)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dataset: %w", err)
	}

	sopClassUID := dataset.GetString(TagSOPClassUID)
	if sopClassUID == "" {
		sopClassUID = meta.MediaStorageSOPClassUID
	}
	sopInstanceUID := dataset.GetString(TagSOPInstanceUID)
	if sopInstanceUID == "" {
		sopInstanceUID = meta.MediaStorageSOPInstanceUID
	}

	metaBytes := encodeFileMeta(sopClassUID, sopInstanceUID, transferSyntax)
	tail := data[offset+consumed:]

	out := make([]byte, 0, 132+len(metaBytes)+len(head)+len(tail))
	out = append(out, make([]byte, 128)...)
	out = append(out, []byte("DICM")...)
	out = append(out, metaBytes...)
	out = append(out, head...)
	out = append(out, tail...)

	return out, nil
}

// WrapDataset builds a Part 10 file around dataset bytes that are already
// encoded in transferSyntaxUID. The bytes are stored as received, so
// compressed pixel data survives untouched.
func WrapDataset(datasetBytes []byte, sopClassUID, sopInstanceUID, transferSyntaxUID string) ([]byte, error) {
	if sopInstanceUID == "" {
		return nil, fmt.Errorf("missing SOPInstanceUID")
	}
	if transferSyntaxUID == "" {
		transferSyntaxUID = types.ImplicitVRLittleEndian
	}

	meta := encodeFileMeta(sopClassUID, sopInstanceUID, transferSyntaxUID)

	out := make([]byte, 0, 132+len(meta)+len(datasetBytes))
	out = append(out, make([]byte, 128)...)
	out = append(out, []byte("DICM")...)
	out = append(out, meta...)
	out = append(out, datasetBytes...)

	return out, nil
}

// encodeFileMeta encodes the group 0x0002 elements in explicit VR little
// endian, prefixed with the (0002,0000) group length element.
func encodeFileMeta(sopClassUID, sopInstanceUID, transferSyntaxUID string) []byte {
	var body []byte

	// (0002,0001) File Meta Information Version
	body = appendMetaLongElement(body, 0x0001, VR_OB, []byte{0x00, 0x01})
	// (0002,0002) Media Storage SOP Class UID
	body = appendMetaShortElement(body, 0x0002, VR_UI, uiBytes(sopClassUID))
	// (0002,0003) Media Storage SOP Instance UID
	body = appendMetaShortElement(body, 0x0003, VR_UI, uiBytes(sopInstanceUID))
	// (0002,0010) Transfer Syntax UID
	body = appendMetaShortElement(body, 0x0010, VR_UI, uiBytes(transferSyntaxUID))
	// (0002,0012) Implementation Class UID
	body = appendMetaShortElement(body, 0x0012, VR_UI, uiBytes(types.ImplementationClassUID))
	// (0002,0013) Implementation Version Name
	body = appendMetaShortElement(body, 0x0013, VR_SH, shBytes(types.ImplementationVersionName))

	// (0002,0000) File Meta Information Group Length
	var out []byte
	out = append(out, 0x02, 0x00, 0x00, 0x00)
	out = append(out, []byte(VR_UL)...)
	out = append(out, 0x04, 0x00)
	groupLength := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLength, uint32(len(body)))
	out = append(out, groupLength...)
	out = append(out, body...)

	return out
}

func appendMetaShortElement(buf []byte, element uint16, vr string, value []byte) []byte {
	buf = append(buf, 0x02, 0x00, byte(element), byte(element>>8))
	buf = append(buf, []byte(vr)...)
	length := make([]byte, 2)
	binary.LittleEndian.PutUint16(length, uint16(len(value)))
	buf = append(buf, length...)
	return append(buf, value...)
}

func appendMetaLongElement(buf []byte, element uint16, vr string, value []byte) []byte {
	buf = append(buf, 0x02, 0x00, byte(element), byte(element>>8))
	buf = append(buf, []byte(vr)...)
	buf = append(buf, 0x00, 0x00)
	length := make([]byte, 4)
	binary.LittleEndian.PutUint32(length, uint32(len(value)))
	buf = append(buf, length...)
	return append(buf, value...)
}

func uiBytes(uid string) []byte {
	b := []byte(uid)
	if len(b)%2 == 1 {
		b = append(b, 0x00)
	}
	return b
}

func shBytes(s string) []byte {
	b := []byte(s)
	if len(b)%2 == 1 {
		b = append(b, 0x20)
	}
	return b
}

// Package dicom implements the dataset codec and Part 10 file handling used
// by the relay. It supports implicit VR little endian and explicit VR in
// both byte orders; encapsulated pixel data is carried opaquely.
package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cnct/netrt/types"
)

// VR (Value Representation) constants
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OD = "OD" // Other Double
	VR_OF = "OF" // Other Float
	VR_OL = "OL" // Other Long
	VR_OV = "OV" // Other Very Long
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SQ = "SQ" // Sequence of Items
	VR_ST = "ST" // Short Text
	VR_SV = "SV" // Signed Very Long
	VR_TM = "TM" // Time
	VR_UC = "UC" // Unlimited Characters
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_UR = "UR" // Universal Resource
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
	VR_UV = "UV" // Unsigned Very Long
)

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

// Tags the relay reads or rewrites.
var (
	TagSOPClassUID        = Tag{0x0008, 0x0016}
	TagSOPInstanceUID     = Tag{0x0008, 0x0018}
	TagAccessionNumber    = Tag{0x0008, 0x0050}
	TagModality           = Tag{0x0008, 0x0060}
	TagInstitutionName    = Tag{0x0008, 0x0080}
	TagReferringPhysician = Tag{0x0008, 0x0090}
	TagSeriesDescription  = Tag{0x0008, 0x103E}
	TagOperatorsName      = Tag{0x0008, 0x1070}
	TagPatientName        = Tag{0x0010, 0x0010}
	TagPatientID          = Tag{0x0010, 0x0020}
	TagPatientBirthDate   = Tag{0x0010, 0x0030}
	TagPatientSex         = Tag{0x0010, 0x0040}
	TagOtherPatientIDs    = Tag{0x0010, 0x1000}
	TagStudyInstanceUID   = Tag{0x0020, 0x000D}
	TagSeriesInstanceUID  = Tag{0x0020, 0x000E}
	TagSeriesNumber       = Tag{0x0020, 0x0011}
	TagInstanceNumber     = Tag{0x0020, 0x0013}
	TagImageComments      = Tag{0x0020, 0x4000}
	TagPixelData          = Tag{0x7FE0, 0x0010}
)

// Element represents a DICOM data element
type Element struct {
	Tag   Tag
	VR    string
	Value interface{}
}

// Dataset represents a collection of DICOM elements
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		Elements: make(map[Tag]*Element),
	}
}

// AddElement adds an element to the dataset
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	d.Elements[tag] = &Element{
		Tag:   tag,
		VR:    vr,
		Value: value,
	}
}

// RemoveElement drops an element; removing an absent tag is a no-op.
func (d *Dataset) RemoveElement(tag Tag) {
	delete(d.Elements, tag)
}

// GetElement returns an element by tag
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	element, exists := d.Elements[tag]
	return element, exists
}

// GetString returns a string value for a tag
func (d *Dataset) GetString(tag Tag) string {
	if element, exists := d.Elements[tag]; exists {
		if str, ok := element.Value.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

// SetString replaces the value of an element, keeping its VR, or creates
// the element with the dictionary VR when absent.
func (d *Dataset) SetString(tag Tag, value string) {
	if element, exists := d.Elements[tag]; exists {
		element.Value = value
		return
	}
	d.AddElement(tag, determineVR(tag), value)
}

// sortedTags returns the dataset's tags in ascending group/element order,
// which DICOM requires on the wire.
func (d *Dataset) sortedTags() []Tag {
	var tags []Tag
	for tag := range d.Elements {
		tags = append(tags, tag)
	}
	for i := 0; i < len(tags)-1; i++ {
		for j := i + 1; j < len(tags); j++ {
			if tags[i].Group > tags[j].Group ||
				(tags[i].Group == tags[j].Group && tags[i].Element > tags[j].Element) {
				tags[i], tags[j] = tags[j], tags[i]
			}
		}
	}
	return tags
}

func isLongVR(vr string) bool {
	switch vr {
	case VR_OB, VR_OD, VR_OF, VR_OL, VR_OW, VR_SQ, VR_UC, VR_UR, VR_UT, VR_UN, VR_OV, VR_SV, VR_UV:
		return true
	}
	return false
}

// ParseDataset parses a DICOM dataset from raw bytes (Explicit VR Little Endian)
func ParseDataset(data []byte) (*Dataset, error) {
	dataset, _ := parseExplicitDataset(data, binary.LittleEndian)
	return dataset, nil
}

// ParseDatasetWithTransferSyntax parses a dataset using the provided transfer
// syntax. Encapsulated (compressed) syntaxes use explicit VR little endian
// element encoding.
func ParseDatasetWithTransferSyntax(data []byte, transferSyntaxUID string) (*Dataset, error) {
	dataset, _, err := ParseDatasetPrefix(data, transferSyntaxUID)
	return dataset, err
}

// ParseDatasetPrefix parses elements until the data ends or an undefined
// length value halts decoding, and also returns the number of bytes
// consumed. data[consumed:] is the opaque tail (encapsulated pixel data or
// an undefined-length sequence); callers that rewrite files keep it intact.
func ParseDatasetPrefix(data []byte, transferSyntaxUID string) (*Dataset, int, error) {
	var dataset *Dataset
	var consumed int
	switch transferSyntaxUID {
	case types.ImplicitVRLittleEndian:
		dataset, consumed = parseImplicitVRDataset(data)
	case types.ExplicitVRBigEndian:
		dataset, consumed = parseExplicitDataset(data, binary.BigEndian)
	default:
		dataset, consumed = parseExplicitDataset(data, binary.LittleEndian)
	}
	return dataset, consumed, nil
}

func parseExplicitDataset(data []byte, order binary.ByteOrder) (*Dataset, int) {
	dataset := NewDataset()

	if len(data) == 0 {
		return dataset, 0
	}

	offset := 0
	for offset < len(data) {
		// Need at least 8 bytes for tag + VR + length
		if offset+8 > len(data) {
			break
		}

		group := order.Uint16(data[offset : offset+2])
		element := order.Uint16(data[offset+2 : offset+4])
		tag := Tag{Group: group, Element: element}

		vr := string(data[offset+4 : offset+6])

		var length uint32
		var valueOffset int

		if isLongVR(vr) {
			// Long VR: Tag (4) + VR (2) + Reserved (2) + Length (4)
			if offset+12 > len(data) {
				break
			}
			length = order.Uint32(data[offset+8 : offset+12])
			valueOffset = offset + 12
		} else {
			// Short VR: Tag (4) + VR (2) + Length (2)
			length = uint32(order.Uint16(data[offset+6 : offset+8]))
			valueOffset = offset + 8
		}

		// Undefined length marks an encapsulated value; everything before it
		// has been captured, which is all the relay needs.
		if length == 0xFFFFFFFF {
			break
		}

		if valueOffset+int(length) > len(data) {
			break
		}

		valueData := data[valueOffset : valueOffset+int(length)]
		value := parseElementValue(tag, vr, valueData)

		dataset.AddElement(tag, vr, value)

		nextOffset := valueOffset + int(length)
		if length%2 == 1 {
			nextOffset++
		}
		offset = nextOffset
	}

	return dataset, offset
}

func parseImplicitVRDataset(data []byte) (*Dataset, int) {
	dataset := NewDataset()

	if len(data) == 0 {
		return dataset, 0
	}

	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		tag := Tag{Group: group, Element: element}

		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		valueOffset := offset + 8

		if length == 0xFFFFFFFF {
			break
		}

		if valueOffset+int(length) > len(data) {
			break
		}

		valueData := data[valueOffset : valueOffset+int(length)]
		vr := determineVR(tag)
		value := parseElementValue(tag, vr, valueData)

		dataset.AddElement(tag, vr, value)

		nextOffset := valueOffset + int(length)
		if length%2 == 1 {
			nextOffset++
		}
		offset = nextOffset
	}

	return dataset, offset
}

// parseElementValue parses the value based on the tag, VR and raw data.
// Binary bulk data and sequence items are kept as raw bytes; everything
// else is a string.
func parseElementValue(tag Tag, vr string, data []byte) interface{} {
	if len(data) == 0 {
		return ""
	}

	switch vr {
	case VR_OB, VR_OW, VR_OF, VR_OD, VR_OL, VR_OV, VR_UN, VR_SQ:
		raw := make([]byte, len(data))
		copy(raw, data)
		return raw
	case VR_US:
		if len(data) >= 2 {
			return binary.LittleEndian.Uint16(data[:2])
		}
	case VR_UL:
		if len(data) >= 4 {
			return binary.LittleEndian.Uint32(data[:4])
		}
	}

	value := string(data)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

// determineVR determines the VR based on the tag (simplified dictionary)
func determineVR(tag Tag) string {
	switch tag {
	case Tag{0x0008, 0x0005}: // Specific Character Set
		return VR_CS
	case TagSOPClassUID:
		return VR_UI
	case TagSOPInstanceUID:
		return VR_UI
	case Tag{0x0008, 0x0020}: // Study Date
		return VR_DA
	case Tag{0x0008, 0x0030}: // Study Time
		return VR_TM
	case TagAccessionNumber:
		return VR_SH
	case TagModality:
		return VR_CS
	case TagInstitutionName:
		return VR_LO
	case TagReferringPhysician:
		return VR_PN
	case Tag{0x0008, 0x1030}: // Study Description
		return VR_LO
	case TagSeriesDescription:
		return VR_LO
	case Tag{0x0008, 0x1040}: // Institutional Department Name
		return VR_LO
	case Tag{0x0008, 0x1050}: // Performing Physician's Name
		return VR_PN
	case TagOperatorsName:
		return VR_PN
	case TagPatientName:
		return VR_PN
	case TagPatientID:
		return VR_LO
	case TagPatientBirthDate:
		return VR_DA
	case TagPatientSex:
		return VR_CS
	case Tag{0x0010, 0x1010}: // Patient's Age
		return VR_AS
	case TagOtherPatientIDs:
		return VR_LO
	case TagStudyInstanceUID:
		return VR_UI
	case TagSeriesInstanceUID:
		return VR_UI
	case Tag{0x0020, 0x0010}: // Study ID
		return VR_SH
	case TagSeriesNumber:
		return VR_IS
	case TagInstanceNumber:
		return VR_IS
	case TagImageComments:
		return VR_LT
	case TagPixelData:
		return VR_OW
	default:
		return VR_UN
	}
}

// EncodeDataset encodes a dataset to bytes (Explicit VR Little Endian)
func (d *Dataset) EncodeDataset() []byte {
	return d.encodeExplicitDataset(binary.LittleEndian)
}

// EncodeDatasetWithTransferSyntax encodes a dataset using the provided
// transfer syntax. Encapsulated syntaxes use explicit VR little endian
// element encoding.
func EncodeDatasetWithTransferSyntax(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, nil
	}

	switch transferSyntaxUID {
	case types.ImplicitVRLittleEndian:
		return encodeImplicitVRDataset(dataset), nil
	case types.ExplicitVRBigEndian:
		return dataset.encodeExplicitDataset(binary.BigEndian), nil
	default:
		return dataset.encodeExplicitDataset(binary.LittleEndian), nil
	}
}

func (d *Dataset) encodeExplicitDataset(order binary.ByteOrder) []byte {
	var result []byte

	for _, tag := range d.sortedTags() {
		element := d.Elements[tag]

		tagBytes := make([]byte, 4)
		order.PutUint16(tagBytes[0:2], tag.Group)
		order.PutUint16(tagBytes[2:4], tag.Element)
		result = append(result, tagBytes...)

		result = append(result, []byte(element.VR)...)

		valueBytes := encodeElementValue(element, order)
		valueBytes = padEven(valueBytes, element.VR)

		if isLongVR(element.VR) {
			// Long VR format: VR (2 bytes) + Reserved (2 bytes) + Length (4 bytes)
			result = append(result, 0x00, 0x00)
			lengthBytes := make([]byte, 4)
			order.PutUint32(lengthBytes, uint32(len(valueBytes)))
			result = append(result, lengthBytes...)
		} else {
			// Short VR format: VR (2 bytes) + Length (2 bytes)
			if len(valueBytes) > 65535 {
				valueBytes = valueBytes[:65535]
			}
			lengthBytes := make([]byte, 2)
			order.PutUint16(lengthBytes, uint16(len(valueBytes)))
			result = append(result, lengthBytes...)
		}

		result = append(result, valueBytes...)
	}

	return result
}

func encodeImplicitVRDataset(dataset *Dataset) []byte {
	var result []byte

	for _, tag := range dataset.sortedTags() {
		element := dataset.Elements[tag]

		tagBytes := make([]byte, 4)
		binary.LittleEndian.PutUint16(tagBytes[0:2], tag.Group)
		binary.LittleEndian.PutUint16(tagBytes[2:4], tag.Element)
		result = append(result, tagBytes...)

		valueBytes := encodeElementValue(element, binary.LittleEndian)
		valueBytes = padEven(valueBytes, element.VR)

		lengthBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lengthBytes, uint32(len(valueBytes)))
		result = append(result, lengthBytes...)
		result = append(result, valueBytes...)
	}

	return result
}

// padEven pads odd-length values to even length. UI values pad with NUL,
// binary values with zero, text with space.
func padEven(value []byte, vr string) []byte {
	if len(value)%2 == 0 {
		return value
	}
	switch vr {
	case VR_UI, VR_OB, VR_OW, VR_UN, VR_SQ:
		return append(value, 0x00)
	default:
		return append(value, 0x20)
	}
}

// encodeElementValue encodes an element value to bytes
func encodeElementValue(element *Element, order binary.ByteOrder) []byte {
	switch v := element.Value.(type) {
	case string:
		return []byte(strings.TrimRight(v, "\x00"))
	case []string:
		joined := strings.Join(v, "\\")
		return []byte(strings.TrimRight(joined, "\x00"))
	case []byte:
		return v
	case int:
		return []byte(fmt.Sprintf("%d", v))
	case uint16:
		result := make([]byte, 2)
		order.PutUint16(result, v)
		return result
	case uint32:
		result := make([]byte, 4)
		order.PutUint32(result, v)
		return result
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}

package types

// DIMSE Command types
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
)

// DIMSE Status codes
const (
	StatusSuccess = 0x0000

	// StatusOutOfResources is returned when an object cannot be accepted,
	// for example when it lacks the StudyInstanceUID needed to file it.
	StatusOutOfResources = 0xA700

	// StatusProcessingFailure is returned when the object was understood
	// but could not be persisted.
	StatusProcessingFailure = 0xC001
)

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	MessageIDBeingRespondedTo uint16
	TransferSyntaxUID         string // Negotiated transfer syntax for the associated dataset
}

// HasDataset reports whether the command announces an accompanying dataset.
func (m *Message) HasDataset() bool {
	return m.CommandDataSetType != 0x0101
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	switch request {
	case CStoreRQ:
		return CStoreRSP
	case CEchoRQ:
		return CEchoRSP
	default:
		return request | 0x8000
	}
}

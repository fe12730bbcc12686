// Package dimse implements DIMSE command encoding, decoding and message
// exchange for both the SCP and SCU roles.
package dimse

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/cnct/netrt/interfaces"
	"github.com/cnct/netrt/types"
)

// Command types
const (
	CStoreRQ  = types.CStoreRQ
	CStoreRSP = types.CStoreRSP
	CEchoRQ   = types.CEchoRQ
	CEchoRSP  = types.CEchoRSP
)

// Status codes
const (
	StatusSuccess           = types.StatusSuccess
	StatusOutOfResources    = types.StatusOutOfResources
	StatusProcessingFailure = types.StatusProcessingFailure
)

// PDULayer interface for sending responses and querying negotiation state
type PDULayer interface {
	SendDIMSEResponse(presContextID byte, commandData []byte) error
	SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, datasetData []byte) error
	GetTransferSyntax(presContextID byte) (string, error)
}

// Service manages DIMSE operations and message routing.
// One Service instance serves one association; fragments of the in-flight
// message accumulate until the last fragment arrives.
type Service struct {
	handler     interfaces.ServiceHandler
	commandData []byte
	datasetData []byte
	currentMsg  *types.Message
	logger      *slog.Logger
}

// NewService creates a new DIMSE service with a handler
func NewService(handler interfaces.ServiceHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		handler: handler,
		logger:  logger,
	}
}

// HandleDIMSEMessage processes DIMSE message fragments and dispatches the
// complete message to the handler.
func (d *Service) HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer PDULayer) error {
	ctx := context.Background()

	d.logger.Debug("Processing DIMSE message",
		"context_id", presContextID,
		"control_header", fmt.Sprintf("0x%02x", msgCtrlHeader))

	// Message control header:
	// bit 0 set = command fragment, clear = dataset fragment
	// bit 1 set = last fragment
	isCommand := (msgCtrlHeader & 0x01) != 0
	isLastFragment := (msgCtrlHeader & 0x02) != 0

	if isCommand {
		d.logger.Debug("Received command data", "size_bytes", len(data))
		d.commandData = append(d.commandData, data...)
		if isLastFragment {
			msg, err := parseDIMSECommand(d.commandData, d.logger)
			if err != nil {
				return fmt.Errorf("failed to parse DIMSE command: %v", err)
			}
			d.currentMsg = msg

			// No dataset announced, process immediately
			if !msg.HasDataset() {
				return d.processCompleteMessage(ctx, presContextID, pduLayer)
			}
		}
	} else {
		d.logger.Debug("Received dataset data", "size_bytes", len(data))
		d.datasetData = append(d.datasetData, data...)
		if isLastFragment {
			return d.processCompleteMessage(ctx, presContextID, pduLayer)
		}
	}

	return nil
}

// processCompleteMessage processes a complete DIMSE message (command + optional dataset)
func (d *Service) processCompleteMessage(ctx context.Context, presContextID byte, pduLayer PDULayer) error {
	if d.currentMsg == nil {
		return fmt.Errorf("no current message to process")
	}

	// The handler needs the negotiated transfer syntax to decode the dataset.
	if transferSyntax, err := pduLayer.GetTransferSyntax(presContextID); err == nil {
		d.currentMsg.TransferSyntaxUID = transferSyntax
	} else {
		d.logger.Warn("No transfer syntax for presentation context",
			"context_id", presContextID,
			"error", err)
	}

	d.logger.InfoContext(ctx, "Processing complete DIMSE message",
		"command_field", fmt.Sprintf("0x%04x", d.currentMsg.CommandField),
		"message_id", d.currentMsg.MessageID,
		"dataset_size", len(d.datasetData))

	responseMsg, responseData, err := d.handler.HandleDIMSE(ctx, d.currentMsg, d.datasetData)

	// Reset for next message on the same association
	d.commandData = nil
	d.datasetData = nil
	d.currentMsg = nil

	if err != nil {
		return fmt.Errorf("service handler failed: %v", err)
	}

	commandData := createDIMSECommand(responseMsg)
	return pduLayer.SendDIMSEResponseWithDataset(presContextID, commandData, responseData)
}

// createDIMSECommand creates a DIMSE command set in implicit VR little endian
func createDIMSECommand(msg *types.Message) []byte {
	var elements []byte

	// Affected SOP Class UID (0000,0002)
	if msg.AffectedSOPClassUID != "" {
		sopClassUID := msg.AffectedSOPClassUID
		if len(sopClassUID)%2 == 1 {
			sopClassUID += "\x00"
		}
		elements = append(elements, 0x00, 0x00, 0x02, 0x00) // Tag
		sopLen := make([]byte, 4)
		binary.LittleEndian.PutUint32(sopLen, uint32(len(sopClassUID)))
		elements = append(elements, sopLen...)
		elements = append(elements, []byte(sopClassUID)...)
	}

	// Command Field (0000,0100)
	elements = append(elements, 0x00, 0x00, 0x00, 0x01) // Tag
	elements = append(elements, 0x02, 0x00, 0x00, 0x00) // Length = 2
	cmdField := make([]byte, 2)
	binary.LittleEndian.PutUint16(cmdField, msg.CommandField)
	elements = append(elements, cmdField...)

	// Message ID Being Responded To (0000,0120)
	if msg.MessageIDBeingRespondedTo > 0 {
		elements = append(elements, 0x00, 0x00, 0x20, 0x01) // Tag
		elements = append(elements, 0x02, 0x00, 0x00, 0x00) // Length = 2
		msgID := make([]byte, 2)
		binary.LittleEndian.PutUint16(msgID, msg.MessageIDBeingRespondedTo)
		elements = append(elements, msgID...)
	}

	// CommandDataSetType (0000,0800)
	elements = append(elements, 0x00, 0x00, 0x00, 0x08) // Tag
	elements = append(elements, 0x02, 0x00, 0x00, 0x00) // Length = 2
	cmdDataSetType := make([]byte, 2)
	binary.LittleEndian.PutUint16(cmdDataSetType, msg.CommandDataSetType)
	elements = append(elements, cmdDataSetType...)

	// Status (0000,0900)
	elements = append(elements, 0x00, 0x00, 0x00, 0x09) // Tag
	elements = append(elements, 0x02, 0x00, 0x00, 0x00) // Length = 2
	status := make([]byte, 2)
	binary.LittleEndian.PutUint16(status, msg.Status)
	elements = append(elements, status...)

	// Affected SOP Instance UID (0000,1000)
	if msg.AffectedSOPInstanceUID != "" {
		sopInstanceUID := msg.AffectedSOPInstanceUID
		if len(sopInstanceUID)%2 == 1 {
			sopInstanceUID += "\x00"
		}
		elements = append(elements, 0x00, 0x00, 0x00, 0x10) // Tag
		instLen := make([]byte, 4)
		binary.LittleEndian.PutUint32(instLen, uint32(len(sopInstanceUID)))
		elements = append(elements, instLen...)
		elements = append(elements, []byte(sopInstanceUID)...)
	}

	// Add Group Length (0000,0000) at the beginning
	groupLengthValue := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLengthValue, uint32(len(elements)))

	var commandSet []byte
	commandSet = append(commandSet, 0x00, 0x00, 0x00, 0x00) // Group Length tag
	commandSet = append(commandSet, 0x04, 0x00, 0x00, 0x00) // Length = 4
	commandSet = append(commandSet, groupLengthValue...)    // Value
	commandSet = append(commandSet, elements...)

	return commandSet
}

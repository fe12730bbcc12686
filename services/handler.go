package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cnct/netrt/dimse"
	"github.com/cnct/netrt/interfaces"
	"github.com/cnct/netrt/types"
)

// Handler routes inbound DIMSE messages to the echo and storage services.
type Handler struct {
	echo    interfaces.ServiceHandler
	storage interfaces.ServiceHandler
	logger  *slog.Logger
}

// NewHandler creates the dispatcher for the two supported inbound operations.
func NewHandler(echo, storage interfaces.ServiceHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		echo:    echo,
		storage: storage,
		logger:  logger,
	}
}

// HandleDIMSE implements interfaces.ServiceHandler.
//
// Unsupported command fields fail the message, which aborts the
// association, rather than silently acknowledging an operation the relay
// does not implement.
func (h *Handler) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	switch msg.CommandField {
	case dimse.CEchoRQ:
		return h.echo.HandleDIMSE(ctx, msg, data)
	case dimse.CStoreRQ:
		return h.storage.HandleDIMSE(ctx, msg, data)
	default:
		h.logger.WarnContext(ctx, "Unsupported DIMSE command",
			"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
			"message_id", msg.MessageID)
		return nil, nil, fmt.Errorf("unsupported DIMSE command: 0x%04x", msg.CommandField)
	}
}

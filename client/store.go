package client

import (
	"fmt"
	"log/slog"

	"github.com/cnct/netrt/dimse"
)

// CStoreRequest represents a C-STORE request
type CStoreRequest = dimse.CStoreRequest

// CStoreResponse represents a C-STORE response
type CStoreResponse = dimse.CStoreResponse

// SendCStore sends a C-STORE request on this association and waits for the
// response. The presentation context is selected by the request's SOP class.
func (a *Association) SendCStore(req *CStoreRequest) (*CStoreResponse, error) {
	presContextID, err := a.GetPresentationContextID(req.SOPClassUID)
	if err != nil {
		return nil, fmt.Errorf("no presentation context for SOP class %s: %w", req.SOPClassUID, err)
	}

	slog.Debug("Sending C-STORE-RQ",
		"sop_class", req.SOPClassUID,
		"sop_instance", req.SOPInstanceUID,
		"data_size", len(req.Data))

	return dimse.SendCStore(a.conn, presContextID, a.maxPDULength, req)
}

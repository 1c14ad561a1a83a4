package webhooks

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coreybb/datapusher/delivery"
	"github.com/coreybb/datapusher/webutil"
)

const (
	maxIncomingBodyBytes = 10 << 20

	msgUnauthenticated = "Unauthenticated user"
	msgInvalidData     = "Invalid data provided"
	msgDataForwarded   = "Data forwarded to destinations successfully"
)

// IncomingDataHandler accepts token-authenticated JSON and fans it out to the
// account's destinations.
type IncomingDataHandler struct {
	Service *delivery.DeliveryService
}

func NewIncomingDataHandler(service *delivery.DeliveryService) *IncomingDataHandler {
	return &IncomingDataHandler{Service: service}
}

// HandleIncomingData answers 200 once every destination has been attempted,
// whatever the individual outcomes were.
func (h *IncomingDataHandler) HandleIncomingData(w http.ResponseWriter, r *http.Request) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIncomingBodyBytes))
	if err != nil {
		return webutil.ErrBadRequestWrap(msgInvalidData, err)
	}

	_, err = h.Service.Dispatch(r.Context(), r.Header.Get(webutil.HeaderAppToken), body)
	switch {
	case errors.Is(err, delivery.ErrUnauthenticated):
		return webutil.ErrUnauthorized(msgUnauthenticated)
	case errors.Is(err, delivery.ErrInvalidPayload):
		return webutil.ErrBadRequest(msgInvalidData)
	case err != nil:
		return fmt.Errorf("failed to dispatch incoming data: %w", err)
	}

	webutil.RespondWithMessage(w, http.StatusOK, msgDataForwarded)
	return nil
}

package routehandlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/coreybb/datapusher/validation"
	"github.com/coreybb/datapusher/webutil"
	"github.com/go-chi/chi/v5"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Path parameter names shared with the api package.
const (
	ParamAccountID     = "accountID"
	ParamDestinationID = "destinationID"
)

// Client-facing messages.
const (
	msgAccountNotFound        = "Account not found"
	msgAccountDeleted         = "Account deleted successfully"
	msgDestinationNotFound    = "Destination not found"
	msgDestinationDeleted     = "Destination deleted successfully"
	msgHTTPMethodRequired     = "HTTP method is required"
	msgInvalidHTTPMethod      = "Invalid HTTP method"
	msgEmailAlreadyRegistered = "Email already registered"
)

func parseIDParam(r *http.Request, name, label string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, webutil.ErrBadRequest("Invalid " + label + " ID")
	}
	return id, nil
}

// decodeRequest validates the body against schema and decodes it into dst,
// turning validation failures into 400 responses.
func decodeRequest(r *http.Request, schema *jsonschema.Schema, dst any) error {
	defer r.Body.Close()
	err := validation.DecodeAndValidate(r.Body, schema, dst)
	if err == nil {
		return nil
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		return webutil.ErrBadRequest("Invalid request payload: " + verr.Message)
	}
	return err
}

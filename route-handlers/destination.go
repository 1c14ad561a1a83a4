package routehandlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coreybb/datapusher/datastore"
	"github.com/coreybb/datapusher/models"
	"github.com/coreybb/datapusher/validation"
	"github.com/coreybb/datapusher/webutil"
)

type DestinationHandler struct {
	Repo     *datastore.DestinationRepository
	Accounts *datastore.AccountRepository
}

func NewDestinationHandler(repo *datastore.DestinationRepository, accounts *datastore.AccountRepository) *DestinationHandler {
	return &DestinationHandler{Repo: repo, Accounts: accounts}
}

type createDestinationRequest struct {
	URL        string            `json:"url"`
	HTTPMethod *string           `json:"http_method"`
	Headers    map[string]string `json:"headers"`
}

// Omitted fields are left unchanged; headers, when given, replace the whole map.
type updateDestinationRequest struct {
	URL        *string           `json:"url"`
	HTTPMethod *string           `json:"http_method"`
	Headers    map[string]string `json:"headers"`
}

// normalizeMethod maps method validation failures to 400 responses.
func normalizeMethod(method *string) (string, error) {
	var raw string
	if method != nil {
		raw = *method
	}
	normalized, err := models.NormalizeHTTPMethod(raw)
	switch {
	case errors.Is(err, models.ErrHTTPMethodRequired):
		return "", webutil.ErrBadRequest(msgHTTPMethodRequired)
	case errors.Is(err, models.ErrInvalidHTTPMethod):
		return "", webutil.ErrBadRequest(msgInvalidHTTPMethod)
	case err != nil:
		return "", err
	}
	return normalized, nil
}

func (h *DestinationHandler) HandleCreateDestination(w http.ResponseWriter, r *http.Request) error {
	accountID, err := parseIDParam(r, ParamAccountID, "account")
	if err != nil {
		return err
	}

	var req createDestinationRequest
	if err := decodeRequest(r, validation.DestinationCreate, &req); err != nil {
		return err
	}
	method, err := normalizeMethod(req.HTTPMethod)
	if err != nil {
		return err
	}

	dest := models.Destination{
		AccountID:  accountID,
		URL:        req.URL,
		HTTPMethod: method,
		Headers:    req.Headers,
	}
	if dest.Headers == nil {
		dest.Headers = map[string]string{}
	}

	if err := h.Repo.CreateDestination(r.Context(), &dest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound(msgAccountNotFound)
		}
		return fmt.Errorf("failed to create destination for account %d: %w", accountID, err)
	}

	slog.Info("Destination created", "destination_id", dest.ID, "account_id", accountID, "method", dest.HTTPMethod)
	webutil.RespondWithJSON(w, http.StatusCreated, dest)
	return nil
}

func (h *DestinationHandler) HandleGetAccountDestinations(w http.ResponseWriter, r *http.Request) error {
	accountID, err := parseIDParam(r, ParamAccountID, "account")
	if err != nil {
		return err
	}

	if _, err := h.Accounts.GetAccountByID(r.Context(), accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound(msgAccountNotFound)
		}
		return fmt.Errorf("failed to retrieve account %d: %w", accountID, err)
	}

	destinations, err := h.Repo.GetDestinationsByAccountID(r.Context(), accountID)
	if err != nil {
		return webutil.ErrInternalServerWrap("Failed to retrieve destinations", err)
	}
	webutil.RespondWithJSON(w, http.StatusOK, destinations)
	return nil
}

func (h *DestinationHandler) HandleGetDestination(w http.ResponseWriter, r *http.Request) error {
	destID, err := parseIDParam(r, ParamDestinationID, "destination")
	if err != nil {
		return err
	}

	dest, err := h.loadDestination(r.Context(), destID)
	if err != nil {
		return err
	}
	webutil.RespondWithJSON(w, http.StatusOK, dest)
	return nil
}

func (h *DestinationHandler) HandleUpdateDestination(w http.ResponseWriter, r *http.Request) error {
	destID, err := parseIDParam(r, ParamDestinationID, "destination")
	if err != nil {
		return err
	}

	var req updateDestinationRequest
	if err := decodeRequest(r, validation.DestinationUpdate, &req); err != nil {
		return err
	}

	dest, err := h.loadDestination(r.Context(), destID)
	if err != nil {
		return err
	}
	if req.URL != nil {
		dest.URL = *req.URL
	}
	if req.HTTPMethod != nil {
		method, err := normalizeMethod(req.HTTPMethod)
		if err != nil {
			return err
		}
		dest.HTTPMethod = method
	}
	if req.Headers != nil {
		dest.Headers = req.Headers
	}

	if err := h.Repo.UpdateDestination(r.Context(), dest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound(msgDestinationNotFound)
		}
		return fmt.Errorf("failed to update destination %d: %w", destID, err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, dest)
	return nil
}

func (h *DestinationHandler) HandleDeleteDestination(w http.ResponseWriter, r *http.Request) error {
	destID, err := parseIDParam(r, ParamDestinationID, "destination")
	if err != nil {
		return err
	}

	if err := h.Repo.DeleteDestination(r.Context(), destID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound(msgDestinationNotFound)
		}
		return fmt.Errorf("failed to delete destination %d: %w", destID, err)
	}

	slog.Info("Destination deleted", "destination_id", destID)
	webutil.RespondWithMessage(w, http.StatusOK, msgDestinationDeleted)
	return nil
}

func (h *DestinationHandler) loadDestination(ctx context.Context, destID int64) (*models.Destination, error) {
	dest, err := h.Repo.GetDestinationByID(ctx, destID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, webutil.ErrNotFound(msgDestinationNotFound)
		}
		return nil, fmt.Errorf("failed to retrieve destination %d: %w", destID, err)
	}
	return dest, nil
}

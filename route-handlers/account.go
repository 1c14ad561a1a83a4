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

// TokenInvalidator drops cached token resolutions for a deleted account.
type TokenInvalidator interface {
	Invalidate(ctx context.Context, token string) error
}

type AccountHandler struct {
	Repo  *datastore.AccountRepository
	Cache TokenInvalidator // optional
}

func NewAccountHandler(repo *datastore.AccountRepository, cache TokenInvalidator) *AccountHandler {
	return &AccountHandler{Repo: repo, Cache: cache}
}

type createAccountRequest struct {
	Email       string  `json:"email"`
	AccountName string  `json:"account_name"`
	Website     *string `json:"website"`
}

// Omitted fields are left unchanged.
type updateAccountRequest struct {
	AccountName *string `json:"account_name"`
	Website     *string `json:"website"`
}

func (h *AccountHandler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) error {
	var req createAccountRequest
	if err := decodeRequest(r, validation.AccountCreate, &req); err != nil {
		return err
	}

	token, err := webutil.GenerateAppSecretToken()
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	account := models.Account{
		Email:          req.Email,
		Name:           req.AccountName,
		AppSecretToken: token,
		Website:        req.Website,
	}
	if err := h.Repo.CreateAccount(r.Context(), &account); err != nil {
		if errors.Is(err, datastore.ErrDuplicateEmail) {
			return webutil.ErrConflict(msgEmailAlreadyRegistered)
		}
		return fmt.Errorf("failed to create account %s: %w", req.Email, err)
	}

	slog.Info("Account created", "account_id", account.ID)
	webutil.RespondWithJSON(w, http.StatusCreated, account)
	return nil
}

func (h *AccountHandler) HandleGetAccounts(w http.ResponseWriter, r *http.Request) error {
	accounts, err := h.Repo.GetAccounts(r.Context())
	if err != nil {
		return fmt.Errorf("failed to retrieve accounts: %w", err)
	}
	webutil.RespondWithJSON(w, http.StatusOK, accounts)
	return nil
}

func (h *AccountHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) error {
	accountID, err := parseIDParam(r, ParamAccountID, "account")
	if err != nil {
		return err
	}

	account, err := h.loadAccount(r.Context(), accountID)
	if err != nil {
		return err
	}
	webutil.RespondWithJSON(w, http.StatusOK, account)
	return nil
}

func (h *AccountHandler) HandleUpdateAccount(w http.ResponseWriter, r *http.Request) error {
	accountID, err := parseIDParam(r, ParamAccountID, "account")
	if err != nil {
		return err
	}

	var req updateAccountRequest
	if err := decodeRequest(r, validation.AccountUpdate, &req); err != nil {
		return err
	}

	account, err := h.loadAccount(r.Context(), accountID)
	if err != nil {
		return err
	}
	if req.AccountName != nil {
		account.Name = *req.AccountName
	}
	if req.Website != nil {
		account.Website = req.Website
	}

	if err := h.Repo.UpdateAccount(r.Context(), account); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound(msgAccountNotFound)
		}
		return fmt.Errorf("failed to update account %d: %w", accountID, err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, account)
	return nil
}

func (h *AccountHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) error {
	accountID, err := parseIDParam(r, ParamAccountID, "account")
	if err != nil {
		return err
	}

	account, err := h.loadAccount(r.Context(), accountID)
	if err != nil {
		return err
	}
	if err := h.Repo.DeleteAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound(msgAccountNotFound)
		}
		return fmt.Errorf("failed to delete account %d: %w", accountID, err)
	}

	if h.Cache != nil {
		if err := h.Cache.Invalidate(r.Context(), account.AppSecretToken); err != nil {
			slog.Warn("Failed to invalidate cached token", "account_id", accountID, "error", err)
		}
	}

	slog.Info("Account deleted", "account_id", accountID)
	webutil.RespondWithMessage(w, http.StatusOK, msgAccountDeleted)
	return nil
}

func (h *AccountHandler) loadAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	account, err := h.Repo.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, webutil.ErrNotFound(msgAccountNotFound)
		}
		return nil, fmt.Errorf("failed to retrieve account %d: %w", accountID, err)
	}
	return account, nil
}

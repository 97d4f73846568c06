package handlers

import (
	"context"
	"net/http"

	"github.com/dvloznov/walletsync/internal/api/middleware"
	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/dvloznov/walletsync/internal/logger"
	"github.com/dvloznov/walletsync/internal/store"
	"github.com/dvloznov/walletsync/internal/syncer"
	"github.com/gin-gonic/gin"
)

// EntityReader is the read side of the entity store.
type EntityReader interface {
	Accounts() []domain.Account
	Account(id string) (domain.Account, bool)
	Transactions() []domain.Transaction
	TransactionsForAccount(accountID string) []domain.Transaction
	Subscribe() (<-chan store.Event, func())
}

// SyncController is the part of the coordinator exposed over HTTP.
type SyncController interface {
	Status() syncer.Status
	RequestAuthorization(ctx context.Context) (feed.AuthorizationState, error)
}

// AccountsHandler handles account endpoints.
type AccountsHandler struct {
	entities EntityReader
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(entities EntityReader) *AccountsHandler {
	return &AccountsHandler{entities: entities}
}

// ListAccounts handles GET /api/accounts
func (h *AccountsHandler) ListAccounts(c *gin.Context) {
	accounts := h.entities.Accounts()
	middleware.WriteJSON(c, http.StatusOK, gin.H{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// GetAccount handles GET /api/accounts/:id
func (h *AccountsHandler) GetAccount(c *gin.Context) {
	id := c.Param("id")
	account, ok := h.entities.Account(id)
	if !ok {
		middleware.WriteError(c, http.StatusNotFound, "Account not found")
		return
	}
	middleware.WriteJSON(c, http.StatusOK, account)
}

// TransactionsHandler handles transaction endpoints.
type TransactionsHandler struct {
	entities EntityReader
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(entities EntityReader) *TransactionsHandler {
	return &TransactionsHandler{entities: entities}
}

// ListTransactions handles GET /api/transactions?account_id=
func (h *TransactionsHandler) ListTransactions(c *gin.Context) {
	var txns []domain.Transaction
	if accountID := c.Query("account_id"); accountID != "" {
		txns = h.entities.TransactionsForAccount(accountID)
	} else {
		txns = h.entities.Transactions()
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}

	middleware.WriteJSON(c, http.StatusOK, gin.H{
		"transactions": txns,
		"count":        len(txns),
	})
}

// SyncHandler handles sync status and authorization endpoints.
type SyncHandler struct {
	sync SyncController
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(sync SyncController) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// GetStatus handles GET /api/status
func (h *SyncHandler) GetStatus(c *gin.Context) {
	middleware.WriteJSON(c, http.StatusOK, h.sync.Status())
}

// RequestAuthorization handles POST /api/authorization
func (h *SyncHandler) RequestAuthorization(c *gin.Context) {
	state, err := h.sync.RequestAuthorization(c.Request.Context())
	if err != nil {
		log := logger.FromContext(c.Request.Context())
		log.Error().Err(err).Msg("Failed to request authorization")
		middleware.WriteError(c, http.StatusBadGateway, "Failed to request authorization")
		return
	}

	status := http.StatusOK
	if state == feed.Denied {
		status = http.StatusForbidden
	}
	middleware.WriteJSON(c, status, gin.H{"authorization": state})
}

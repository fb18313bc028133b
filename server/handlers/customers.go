package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/assettelematics/finbot/server/customer"
	"github.com/assettelematics/finbot/server/middleware"
)

// CustomerLister enumerates the known accounts. Satisfied by
// customer.Directory.
type CustomerLister interface {
	List() []customer.Record
}

// CustomersResponse is the body returned by the account listing.
type CustomersResponse struct {
	Customers []customer.Record `json:"customers"`
}

// CustomersHandler serves the account selection list for the chat widget.
type CustomersHandler struct {
	directory CustomerLister
	logger    *zap.Logger
}

// NewCustomersHandler creates a new account listing handler.
func NewCustomersHandler(directory CustomerLister, logger *zap.Logger) *CustomersHandler {
	return &CustomersHandler{
		directory: directory,
		logger:    logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *CustomersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(CustomersResponse{Customers: h.directory.List()}); err != nil {
		h.logger.Error("Failed to encode customer list",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

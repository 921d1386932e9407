package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/gorilla/mux"
)

var (
	cafeIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)
	phonePattern  = regexp.MustCompile(`^\+?[0-9 ()\-]{7,20}$`)
)

type checkoutRequest struct {
	CafeID           string      `json:"cafe_id"`
	CustomerName     string      `json:"customer_name"`
	CustomerPhone    string      `json:"customer_phone"`
	Items            []OrderItem `json:"items"`
	CurbsideFeeCents int64       `json:"curbside_fee_cents"`
}

// validateCheckout returns an empty string when the request is well-formed,
// or a field-level message otherwise. All bounds are enforced before any
// processor call.
func validateCheckout(req *checkoutRequest) string {
	if !cafeIDPattern.MatchString(req.CafeID) {
		return "cafe_id must match ^[a-z0-9][a-z0-9_-]{1,63}$"
	}
	if len(req.CustomerName) < 1 || len(req.CustomerName) > 120 {
		return "customer_name must be 1-120 characters"
	}
	if !phonePattern.MatchString(req.CustomerPhone) {
		return "customer_phone must be a plausible phone number"
	}
	if len(req.Items) < 1 || len(req.Items) > 50 {
		return "items must contain 1-50 entries"
	}
	for _, it := range req.Items {
		if len(it.Name) < 1 || len(it.Name) > 200 {
			return "item name must be 1-200 characters"
		}
		if it.Quantity < 1 || it.Quantity > 50 {
			return "item quantity must be 1-50"
		}
		if it.PriceCents < 1 || it.PriceCents > 1000000 {
			return "item price_cents must be 1-1000000"
		}
	}
	if req.CurbsideFeeCents < 0 || req.CurbsideFeeCents > 100000 {
		return "curbside_fee_cents must be 0-100000"
	}
	return ""
}

// HandleCheckout creates a pending order with an authorized hold.
// POST /api/v1/checkout
func (a *App) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}
	if msg := validateCheckout(&req); msg != "" {
		writeError(w, http.StatusBadRequest, CodeValidation, msg)
		return
	}

	cafe, err := a.DB.GetCafe(req.CafeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "Something went wrong")
		return
	}
	if cafe == nil || !cafe.Active {
		writeError(w, http.StatusBadRequest, CodeValidation, "cafe_id does not name an active cafe")
		return
	}

	// Total is computed server side; the client never supplies it.
	total := req.CurbsideFeeCents
	for _, it := range req.Items {
		total += int64(it.Quantity) * it.PriceCents
	}

	order := &Order{
		ID:               newOrderID(),
		CafeID:           req.CafeID,
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		Items:            req.Items,
		TotalCents:       total,
		CurbsideFeeCents: req.CurbsideFeeCents,
	}

	created, err := a.orders.Checkout(r.Context(), order)
	if err != nil {
		var pe *ProcessorError
		if errors.As(err, &pe) {
			writeError(w, http.StatusBadGateway, CodeProcessorFailure, "Payment authorization failed")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleGetOrder returns one order.
// GET /api/v1/orders/{id}
func (a *App) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.DB.GetOrder(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "Something went wrong")
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "Order not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// orderAction builds a handler that moves the café's own order to the given
// status. Rejection reads an optional reason from the body.
func (a *App) orderAction(to OrderStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cafe := cafeFrom(r.Context())
		if cafe == nil {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized")
			return
		}

		id := mux.Vars(r)["id"]
		o, err := a.DB.GetOrder(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternal, "Something went wrong")
			return
		}
		// A café can only see its own orders; anything else is a plain 404.
		if o == nil || o.CafeID != cafe.ID {
			writeError(w, http.StatusNotFound, CodeNotFound, "Order not found")
			return
		}

		var reason string
		if to == StatusRejected {
			var body struct {
				Reason string `json:"reason"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				reason = body.Reason
			}
			if len(reason) > 500 {
				writeError(w, http.StatusBadRequest, CodeValidation, "reason must be at most 500 characters")
				return
			}
		}

		updated, err := a.orders.Transition(r.Context(), id, to, reason)
		if err != nil {
			var te *TransitionError
			var pe *ProcessorError
			switch {
			case errors.As(err, &te):
				writeError(w, http.StatusConflict, CodeConflict, te.Error())
			case errors.Is(err, ErrStatusConflict):
				writeError(w, http.StatusConflict, CodeConflict, "Order changed concurrently, retry")
			case errors.As(err, &pe):
				writeError(w, http.StatusBadGateway, CodeProcessorFailure, "Payment processor call failed")
			default:
				writeError(w, http.StatusInternalServerError, CodeInternal, "Something went wrong")
			}
			return
		}
		if updated == nil {
			writeError(w, http.StatusNotFound, CodeNotFound, "Order not found")
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

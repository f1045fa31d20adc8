package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aurelia-jewels/api/internal/platform/auth"
	"github.com/aurelia-jewels/api/internal/platform/httpx"
	"github.com/aurelia-jewels/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers serves the authenticated user's shopping cart.
type CartHandlers struct {
	authn *auth.Authenticator
	cart  services.CartService
}

// NewCartHandlers constructs a new CartHandlers instance.
func NewCartHandlers(authn *auth.Authenticator, cart services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		cart:  cart,
	}
}

// Routes registers the /cart endpoints. All of them require authentication.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.getCart)
	r.Post("/add", h.addItem)
	r.Put("/update/{itemId}", h.updateItem)
	r.Delete("/remove/{itemId}", h.removeItem)
	r.Delete("/clear", h.clearCart)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cart == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	view, err := h.cart.Get(ctx, identity.UserID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartView(w, http.StatusOK, view)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cart == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cartAddRequest
	if err := decodeBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.cart.AddItem(ctx, services.CartAddCommand{
		UserID:    identity.UserID,
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartView(w, http.StatusOK, view)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cart == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cartUpdateRequest
	if err := decodeBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.cart.UpdateItem(ctx, services.CartUpdateCommand{
		UserID:   identity.UserID,
		ItemID:   strings.TrimSpace(chi.URLParam(r, "itemId")),
		Quantity: req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartView(w, http.StatusOK, view)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cart == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	view, err := h.cart.RemoveItem(ctx, identity.UserID, strings.TrimSpace(chi.URLParam(r, "itemId")))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartView(w, http.StatusOK, view)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cart == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.cart.Clear(ctx, identity.UserID); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "cart cleared")
}

type cartAddRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type cartUpdateRequest struct {
	Quantity int `json:"quantity"`
}

type cartLinePayload struct {
	ItemID        string `json:"item_id"`
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	Image         string `json:"image,omitempty"`
	Price         int64  `json:"price"`
	PriceSnapshot int64  `json:"price_snapshot"`
	Quantity      int    `json:"quantity"`
	InStock       bool   `json:"in_stock"`
	AddedAt       string `json:"added_at"`
}

func buildCartPayload(view services.CartView) map[string]any {
	lines := make([]cartLinePayload, 0, len(view.Lines))
	for _, line := range view.Lines {
		lines = append(lines, cartLinePayload{
			ItemID:        line.Item.ID,
			ProductID:     line.Item.ProductID,
			Name:          line.Name,
			Image:         line.Image,
			Price:         line.Price,
			PriceSnapshot: line.Item.PriceSnapshot,
			Quantity:      line.Item.Quantity,
			InStock:       line.InStock,
			AddedAt:       formatTime(line.Item.AddedAt),
		})
	}
	return map[string]any{
		"items":      lines,
		"subtotal":   view.Subtotal,
		"updated_at": formatTime(view.Cart.UpdatedAt),
	}
}

func writeCartView(w http.ResponseWriter, status int, view services.CartView) {
	httpx.WriteJSON(w, status, map[string]any{"cart": buildCartPayload(view)})
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", "product is unavailable", http.StatusNotFound))
	case errors.Is(err, services.ErrCartInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock for requested quantity", http.StatusBadRequest))
	default:
		writeServiceError(ctx, w, err, "cart_error")
	}
}

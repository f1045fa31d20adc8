package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aurelia-jewels/api/internal/platform/auth"
	"github.com/aurelia-jewels/api/internal/platform/httpx"
	"github.com/aurelia-jewels/api/internal/services"
)

// WishlistHandlers serves the authenticated user's wishlist.
type WishlistHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewWishlistHandlers constructs a new WishlistHandlers instance.
func NewWishlistHandlers(authn *auth.Authenticator, users services.UserService) *WishlistHandlers {
	return &WishlistHandlers{
		authn: authn,
		users: users,
	}
}

// Routes registers the /wishlist endpoints. All of them require
// authentication.
func (h *WishlistHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.getWishlist)
	r.Post("/{productId}", h.addToWishlist)
	r.Delete("/{productId}", h.removeFromWishlist)
}

func (h *WishlistHandlers) getWishlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	products, err := h.users.Wishlist(ctx, identity.UserID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"wishlist": buildProductList(products)})
}

func (h *WishlistHandlers) addToWishlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	if err := h.users.AddToWishlist(ctx, identity.UserID, productID); err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "product added to wishlist")
}

func (h *WishlistHandlers) removeFromWishlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	if err := h.users.RemoveFromWishlist(ctx, identity.UserID, productID); err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "product removed from wishlist")
}

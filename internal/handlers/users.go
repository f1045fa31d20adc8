package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/platform/auth"
	"github.com/aurelia-jewels/api/internal/platform/httpx"
	"github.com/aurelia-jewels/api/internal/services"
)

const maxUserBodySize = 32 * 1024

// UserHandlers serves profile management, the address book and wallet
// linking, plus the admin user listing.
type UserHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewUserHandlers constructs a new UserHandlers instance.
func NewUserHandlers(authn *auth.Authenticator, users services.UserService) *UserHandlers {
	return &UserHandlers{
		authn: authn,
		users: users,
	}
}

// Routes registers the authenticated /users endpoints.
func (h *UserHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Put("/profile", h.updateProfile)
	r.Put("/link-wallet", h.linkWallet)
	r.Put("/unlink-wallet", h.unlinkWallet)
	r.Get("/addresses", h.listAddresses)
	r.Post("/addresses", h.addAddress)
	r.Put("/addresses/{addressId}", h.updateAddress)
	r.Delete("/addresses/{addressId}", h.removeAddress)
}

// AdminRoutes registers the admin user listing.
func (h *UserHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listUsers)
}

func (h *UserHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req profileUpdateRequest
	if err := decodeBody(r, maxUserBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	user, err := h.users.UpdateProfile(ctx, services.ProfileUpdateCommand{
		UserID: identity.UserID,
		Name:   req.Name,
		Phone:  req.Phone,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"user": buildUserPayload(user)})
}

func (h *UserHandlers) linkWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req linkWalletRequest
	if err := decodeBody(r, maxUserBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	user, err := h.users.LinkWallet(ctx, identity.UserID, strings.TrimSpace(req.WalletAddress))
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"user": buildUserPayload(user)})
}

func (h *UserHandlers) unlinkWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	user, err := h.users.UnlinkWallet(ctx, identity.UserID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"user": buildUserPayload(user)})
}

func (h *UserHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	addresses, err := h.users.ListAddresses(ctx, identity.UserID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"addresses": buildUserAddressList(addresses)})
}

func (h *UserHandlers) addAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req userAddressRequest
	if err := decodeBody(r, maxUserBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	user, err := h.users.AddAddress(ctx, req.toCommand(identity.UserID, ""))
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"addresses": buildUserAddressList(user.Addresses)})
}

func (h *UserHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req userAddressRequest
	if err := decodeBody(r, maxUserBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	addressID := strings.TrimSpace(chi.URLParam(r, "addressId"))
	user, err := h.users.UpdateAddress(ctx, req.toCommand(identity.UserID, addressID))
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"addresses": buildUserAddressList(user.Addresses)})
}

func (h *UserHandlers) removeAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	addressID := strings.TrimSpace(chi.URLParam(r, "addressId"))
	user, err := h.users.RemoveAddress(ctx, identity.UserID, addressID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"addresses": buildUserAddressList(user.Addresses)})
}

func (h *UserHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := services.UserAdminQuery{Pagination: paginationFrom(r)}
	if raw := strings.TrimSpace(r.URL.Query().Get("role")); raw != "" {
		role := domain.Role(raw)
		query.Role = &role
	}

	page, err := h.users.ListUsers(ctx, query)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	users := make([]userPayload, 0, len(page.Items))
	for _, user := range page.Items {
		users = append(users, buildUserPayload(user))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"users":      users,
		"pagination": pageInfoPayload(page.Info),
	})
}

type profileUpdateRequest struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
}

type linkWalletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type userAddressRequest struct {
	Label     string         `json:"label"`
	Address   addressRequest `json:"address"`
	IsDefault bool           `json:"is_default"`
}

func (req userAddressRequest) toCommand(userID, addressID string) services.AddressCommand {
	return services.AddressCommand{
		UserID:    userID,
		AddressID: addressID,
		Label:     strings.TrimSpace(req.Label),
		Address:   req.Address.toDomain(),
		IsDefault: req.IsDefault,
	}
}

type userAddressPayload struct {
	ID        string         `json:"id"`
	Label     string         `json:"label,omitempty"`
	Address   addressPayload `json:"address"`
	IsDefault bool           `json:"is_default"`
}

func buildUserAddressList(addresses []domain.UserAddress) []userAddressPayload {
	payloads := make([]userAddressPayload, 0, len(addresses))
	for _, address := range addresses {
		payloads = append(payloads, userAddressPayload{
			ID:        address.ID,
			Label:     address.Label,
			Address:   buildAddressPayload(address.Address),
			IsDefault: address.IsDefault,
		})
	}
	return payloads
}

type userPayload struct {
	ID            string               `json:"id"`
	Email         string               `json:"email"`
	Name          string               `json:"name"`
	Role          string               `json:"role"`
	Phone         string               `json:"phone,omitempty"`
	WalletAddress string               `json:"wallet_address,omitempty"`
	Addresses     []userAddressPayload `json:"addresses"`
	Wishlist      []string             `json:"wishlist"`
	IsActive      bool                 `json:"is_active"`
	CreatedAt     string               `json:"created_at"`
	UpdatedAt     string               `json:"updated_at"`
}

func buildUserPayload(user domain.User) userPayload {
	wishlist := user.Wishlist
	if wishlist == nil {
		wishlist = []string{}
	}
	return userPayload{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		Role:          string(user.Role),
		Phone:         user.Phone,
		WalletAddress: user.WalletAddress,
		Addresses:     buildUserAddressList(user.Addresses),
		Wishlist:      wishlist,
		IsActive:      user.IsActive,
		CreatedAt:     formatTime(user.CreatedAt),
		UpdatedAt:     formatTime(user.UpdatedAt),
	}
}

package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/repositories"
)

const (
	userIDPrefix    = "usr_"
	addressIDPrefix = "addr_"

	defaultResetTokenTTL = time.Hour
	defaultSessionTTL    = 7 * 24 * time.Hour
	minPasswordLength    = 8
)

var (
	// ErrUserInvalidInput indicates validation failures for account operations.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates an account could not be located.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserEmailInUse signals a registration against an existing email.
	ErrUserEmailInUse = errors.New("user: email already registered")
	// ErrUserWalletInUse signals the wallet address is linked to another account.
	ErrUserWalletInUse = errors.New("user: wallet already linked")
	// ErrUserInvalidCredentials covers bad email/password pairs and disabled accounts.
	ErrUserInvalidCredentials = errors.New("user: invalid credentials")
	// ErrUserResetTokenInvalid covers unknown, expired, or consumed reset tokens.
	ErrUserResetTokenInvalid = errors.New("user: invalid or expired reset token")
)

var (
	emailPattern  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// TokenIssuer mints signed session tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID string, role domain.Role) (string, error)
}

// UserServiceDeps bundles collaborators required to construct a UserService.
type UserServiceDeps struct {
	Users       repositories.UserRepository
	Products    repositories.ProductRepository
	Tokens      TokenIssuer
	Clock       func() time.Time
	IDGenerator func(prefix string) string
	BcryptCost  int
	SessionTTL  time.Duration
	ResetTTL    time.Duration
}

type userService struct {
	users      repositories.UserRepository
	products   repositories.ProductRepository
	tokens     TokenIssuer
	clock      func() time.Time
	newID      func(prefix string) string
	bcryptCost int
	sessionTTL time.Duration
	resetTTL   time.Duration
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("user service: product repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("user service: token issuer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func(prefix string) string {
			return prefix + ulid.Make().String()
		}
	}
	cost := deps.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	sessionTTL := deps.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	resetTTL := deps.ResetTTL
	if resetTTL <= 0 {
		resetTTL = defaultResetTokenTTL
	}

	return &userService{
		users:    deps.Users,
		products: deps.Products,
		tokens:   deps.Tokens,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		bcryptCost: cost,
		sessionTTL: sessionTTL,
		resetTTL:   resetTTL,
	}, nil
}

func (s *userService) Register(ctx context.Context, cmd RegisterCommand) (AuthSession, error) {
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if !emailPattern.MatchString(email) {
		return AuthSession{}, fmt.Errorf("%w: malformed email", ErrUserInvalidInput)
	}
	if strings.TrimSpace(cmd.Name) == "" {
		return AuthSession{}, fmt.Errorf("%w: name is required", ErrUserInvalidInput)
	}
	if len(cmd.Password) < minPasswordLength {
		return AuthSession{}, fmt.Errorf("%w: password must be at least %d characters", ErrUserInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.bcryptCost)
	if err != nil {
		return AuthSession{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.clock()
	user := domain.User{
		ID:                s.newID(userIDPrefix),
		Email:             email,
		Name:              strings.TrimSpace(cmd.Name),
		PasswordHash:      string(hash),
		Role:              domain.RoleUser,
		Phone:             strings.TrimSpace(cmd.Phone),
		Wishlist:          []string{},
		PasswordChangedAt: now,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.users.Insert(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrEmailInUse) {
			return AuthSession{}, ErrUserEmailInUse
		}
		return AuthSession{}, s.mapUserError(err)
	}
	return s.issueSession(user)
}

func (s *userService) Login(ctx context.Context, cmd LoginCommand) (AuthSession, error) {
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if email == "" || cmd.Password == "" {
		return AuthSession{}, fmt.Errorf("%w: email and password are required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return AuthSession{}, ErrUserInvalidCredentials
		}
		return AuthSession{}, err
	}
	if !user.IsActive {
		return AuthSession{}, ErrUserInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(cmd.Password)) != nil {
		return AuthSession{}, ErrUserInvalidCredentials
	}
	return s.issueSession(user)
}

func (s *userService) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return "", fmt.Errorf("%w: malformed email", ErrUserInvalidInput)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			// Do not reveal whether the account exists.
			return "", nil
		}
		return "", err
	}

	token, err := randomToken()
	if err != nil {
		return "", err
	}

	now := s.clock()
	expires := now.Add(s.resetTTL)
	user.ResetTokenHash = hashResetToken(token)
	user.ResetTokenExpiresAt = &expires
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return "", s.mapUserError(err)
	}
	return token, nil
}

func (s *userService) ResetPassword(ctx context.Context, cmd ResetPasswordCommand) error {
	token := strings.TrimSpace(cmd.Token)
	if token == "" {
		return ErrUserResetTokenInvalid
	}
	if len(cmd.NewPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrUserInvalidInput, minPasswordLength)
	}

	user, err := s.findByResetToken(ctx, token)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.NewPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.clock()
	user.PasswordHash = string(hash)
	// Bumping the change timestamp invalidates every outstanding session token.
	user.PasswordChangedAt = now
	user.ResetTokenHash = ""
	user.ResetTokenExpiresAt = nil
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return s.mapUserError(err)
	}
	return nil
}

func (s *userService) Profile(ctx context.Context, userID string) (domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return domain.User{}, s.mapUserError(err)
	}
	return user, nil
}

func (s *userService) UpdateProfile(ctx context.Context, cmd ProfileUpdateCommand) (domain.User, error) {
	user, err := s.Profile(ctx, cmd.UserID)
	if err != nil {
		return domain.User{}, err
	}

	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" {
			return domain.User{}, fmt.Errorf("%w: name must not be empty", ErrUserInvalidInput)
		}
		user.Name = name
	}
	if cmd.Phone != nil {
		user.Phone = strings.TrimSpace(*cmd.Phone)
	}
	user.UpdatedAt = s.clock()

	if err := s.users.Update(ctx, user); err != nil {
		return domain.User{}, s.mapUserError(err)
	}
	return user, nil
}

func (s *userService) ListAddresses(ctx context.Context, userID string) ([]domain.UserAddress, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Addresses == nil {
		return []domain.UserAddress{}, nil
	}
	return user.Addresses, nil
}

func (s *userService) AddAddress(ctx context.Context, cmd AddressCommand) (domain.User, error) {
	if err := validateAddress(cmd.Address); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrUserInvalidInput, err)
	}

	user, err := s.Profile(ctx, cmd.UserID)
	if err != nil {
		return domain.User{}, err
	}

	entry := domain.UserAddress{
		ID:        s.newID(addressIDPrefix),
		Label:     strings.TrimSpace(cmd.Label),
		Address:   cmd.Address,
		IsDefault: cmd.IsDefault || len(user.Addresses) == 0,
	}
	if entry.IsDefault {
		clearDefaultAddress(user.Addresses)
	}
	user.Addresses = append(user.Addresses, entry)
	user.UpdatedAt = s.clock()

	if err := s.users.Update(ctx, user); err != nil {
		return domain.User{}, s.mapUserError(err)
	}
	return user, nil
}

func (s *userService) UpdateAddress(ctx context.Context, cmd AddressCommand) (domain.User, error) {
	if strings.TrimSpace(cmd.AddressID) == "" {
		return domain.User{}, fmt.Errorf("%w: address id is required", ErrUserInvalidInput)
	}
	if err := validateAddress(cmd.Address); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrUserInvalidInput, err)
	}

	user, err := s.Profile(ctx, cmd.UserID)
	if err != nil {
		return domain.User{}, err
	}

	index := -1
	for i := range user.Addresses {
		if user.Addresses[i].ID == cmd.AddressID {
			index = i
			break
		}
	}
	if index == -1 {
		return domain.User{}, fmt.Errorf("%w: address not found", ErrUserNotFound)
	}

	if cmd.IsDefault {
		clearDefaultAddress(user.Addresses)
	}
	user.Addresses[index].Label = strings.TrimSpace(cmd.Label)
	user.Addresses[index].Address = cmd.Address
	user.Addresses[index].IsDefault = cmd.IsDefault
	user.UpdatedAt = s.clock()

	if err := s.users.Update(ctx, user); err != nil {
		return domain.User{}, s.mapUserError(err)
	}
	return user, nil
}

func (s *userService) RemoveAddress(ctx context.Context, userID, addressID string) (domain.User, error) {
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return domain.User{}, fmt.Errorf("%w: address id is required", ErrUserInvalidInput)
	}

	user, err := s.Profile(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}

	filtered := user.Addresses[:0]
	removed := false
	for _, addr := range user.Addresses {
		if addr.ID == addressID {
			removed = true
			continue
		}
		filtered = append(filtered, addr)
	}
	if !removed {
		return domain.User{}, fmt.Errorf("%w: address not found", ErrUserNotFound)
	}
	user.Addresses = filtered
	user.UpdatedAt = s.clock()

	if err := s.users.Update(ctx, user); err != nil {
		return domain.User{}, s.mapUserError(err)
	}
	return user, nil
}

func (s *userService) LinkWallet(ctx context.Context, userID, walletAddress string) (domain.User, error) {
	wallet := strings.ToLower(strings.TrimSpace(walletAddress))
	if !walletPattern.MatchString(wallet) {
		return domain.User{}, fmt.Errorf("%w: malformed wallet address", ErrUserInvalidInput)
	}

	user, err := s.Profile(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}

	if existing, err := s.users.FindByWallet(ctx, wallet); err == nil && existing.ID != user.ID {
		return domain.User{}, ErrUserWalletInUse
	} else if err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return domain.User{}, err
		}
	}

	user.WalletAddress = wallet
	user.UpdatedAt = s.clock()
	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrWalletInUse) {
			return domain.User{}, ErrUserWalletInUse
		}
		return domain.User{}, s.mapUserError(err)
	}
	return user, nil
}

func (s *userService) UnlinkWallet(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}

	user.WalletAddress = ""
	user.UpdatedAt = s.clock()
	if err := s.users.Update(ctx, user); err != nil {
		return domain.User{}, s.mapUserError(err)
	}
	return user, nil
}

func (s *userService) Wishlist(ctx context.Context, userID string) ([]domain.Product, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(user.Wishlist))
	for _, productID := range user.Wishlist {
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		if !product.IsActive {
			continue
		}
		products = append(products, product)
	}
	return products, nil
}

func (s *userService) AddToWishlist(ctx context.Context, userID, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrUserInvalidInput)
	}

	if _, err := s.products.FindByID(ctx, productID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return fmt.Errorf("%w: product not found", ErrUserInvalidInput)
		}
		return err
	}

	if err := s.users.AddWishlistItem(ctx, userID, productID); err != nil {
		return s.mapUserError(err)
	}
	return nil
}

func (s *userService) RemoveFromWishlist(ctx context.Context, userID, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrUserInvalidInput)
	}
	if err := s.users.RemoveWishlistItem(ctx, userID, productID); err != nil {
		return s.mapUserError(err)
	}
	return nil
}

func (s *userService) ListUsers(ctx context.Context, query UserAdminQuery) (domain.Page[domain.User], error) {
	if query.Role != nil && !query.Role.Valid() {
		return domain.Page[domain.User]{}, fmt.Errorf("%w: unknown role %s", ErrUserInvalidInput, *query.Role)
	}
	page, err := s.users.List(ctx, repositories.UserListFilter{
		Role:       query.Role,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.Page[domain.User]{}, s.mapUserError(err)
	}
	return page, nil
}

func (s *userService) issueSession(user domain.User) (AuthSession, error) {
	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return AuthSession{}, fmt.Errorf("issue token: %w", err)
	}
	return AuthSession{
		User:      user,
		Token:     token,
		ExpiresAt: s.clock().Add(s.sessionTTL),
	}, nil
}

// findByResetToken scans for the account holding the hashed token. Reset
// volume is tiny, so a bounded page walk suffices.
func (s *userService) findByResetToken(ctx context.Context, token string) (domain.User, error) {
	hashed := hashResetToken(token)
	now := s.clock()
	page := 1
	for {
		result, err := s.users.List(ctx, repositories.UserListFilter{
			Pagination: domain.Pagination{Page: page, Limit: 100},
		})
		if err != nil {
			return domain.User{}, s.mapUserError(err)
		}
		for _, user := range result.Items {
			if user.ResetTokenHash == "" {
				continue
			}
			if subtle.ConstantTimeCompare([]byte(user.ResetTokenHash), []byte(hashed)) != 1 {
				continue
			}
			if user.ResetTokenExpiresAt == nil || now.After(*user.ResetTokenExpiresAt) {
				return domain.User{}, ErrUserResetTokenInvalid
			}
			return user, nil
		}
		if page >= result.Info.Pages || len(result.Items) == 0 {
			return domain.User{}, ErrUserResetTokenInvalid
		}
		page++
	}
}

func clearDefaultAddress(addresses []domain.UserAddress) {
	for i := range addresses {
		addresses[i].IsDefault = false
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *userService) mapUserError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrUserNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: conflicting write", ErrUserInvalidInput)
		}
	}
	return err
}

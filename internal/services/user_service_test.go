package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	domain "github.com/aurelia-jewels/api/internal/domain"
)

type stubTokenIssuer struct {
	token string
	err   error
	calls int
}

func (s *stubTokenIssuer) Issue(userID string, role domain.Role) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func newUserForTest(t *testing.T, users *fakeUserRepository, products *fakeProductRepository) (UserService, *stubTokenIssuer) {
	t.Helper()
	issuer := &stubTokenIssuer{token: "jwt-token"}
	svc, err := NewUserService(UserServiceDeps{
		Users:       users,
		Products:    products,
		Tokens:      issuer,
		Clock:       fixedClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)),
		IDGenerator: sequentialIDs(""),
		BcryptCost:  bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewUserService: %v", err)
	}
	return svc, issuer
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func TestUserRegister(t *testing.T) {
	users := newFakeUserRepository()
	svc, issuer := newUserForTest(t, users, newFakeProductRepository())

	session, err := svc.Register(context.Background(), RegisterCommand{
		Email:    " Asha@Example.COM ",
		Name:     "Asha Verma",
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if session.User.Email != "asha@example.com" {
		t.Fatalf("expected lowercased email, got %s", session.User.Email)
	}
	if session.User.Role != domain.RoleUser || !session.User.IsActive {
		t.Fatalf("expected active customer account, got %+v", session.User)
	}
	if session.User.Wishlist == nil {
		t.Fatalf("wishlist must be initialised")
	}
	if session.Token != "jwt-token" || issuer.calls != 1 {
		t.Fatalf("expected a minted session token")
	}
	if !session.ExpiresAt.After(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expiry must be in the future: %v", session.ExpiresAt)
	}
}

func TestUserRegisterDuplicateEmail(t *testing.T) {
	users := newFakeUserRepository(domain.User{ID: "usr_1", Email: "asha@example.com"})
	svc, _ := newUserForTest(t, users, newFakeProductRepository())

	_, err := svc.Register(context.Background(), RegisterCommand{
		Email:    "asha@example.com",
		Name:     "Asha",
		Password: "correct horse",
	})
	if !errors.Is(err, ErrUserEmailInUse) {
		t.Fatalf("expected email in use, got %v", err)
	}
}

func TestUserRegisterValidation(t *testing.T) {
	svc, _ := newUserForTest(t, newFakeUserRepository(), newFakeProductRepository())
	ctx := context.Background()

	cases := []RegisterCommand{
		{Email: "not-an-email", Name: "A", Password: "long enough"},
		{Email: "a@b.example", Name: "", Password: "long enough"},
		{Email: "a@b.example", Name: "A", Password: "short"},
	}
	for i, cmd := range cases {
		if _, err := svc.Register(ctx, cmd); !errors.Is(err, ErrUserInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestUserLogin(t *testing.T) {
	users := newFakeUserRepository(domain.User{
		ID: "usr_1", Email: "asha@example.com",
		PasswordHash: hashPassword(t, "correct horse"),
		Role:         domain.RoleUser, IsActive: true,
	})
	svc, _ := newUserForTest(t, users, newFakeProductRepository())
	ctx := context.Background()

	session, err := svc.Login(ctx, LoginCommand{Email: "ASHA@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.User.ID != "usr_1" || session.Token == "" {
		t.Fatalf("unexpected session: %+v", session)
	}

	if _, err := svc.Login(ctx, LoginCommand{Email: "asha@example.com", Password: "wrong"}); !errors.Is(err, ErrUserInvalidCredentials) {
		t.Fatalf("wrong password: expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginCommand{Email: "nobody@example.com", Password: "whatever"}); !errors.Is(err, ErrUserInvalidCredentials) {
		t.Fatalf("unknown email: expected invalid credentials, got %v", err)
	}
}

func TestUserLoginDisabledAccount(t *testing.T) {
	users := newFakeUserRepository(domain.User{
		ID: "usr_1", Email: "asha@example.com",
		PasswordHash: hashPassword(t, "correct horse"),
		IsActive:     false,
	})
	svc, _ := newUserForTest(t, users, newFakeProductRepository())

	_, err := svc.Login(context.Background(), LoginCommand{Email: "asha@example.com", Password: "correct horse"})
	if !errors.Is(err, ErrUserInvalidCredentials) {
		t.Fatalf("expected invalid credentials for disabled account, got %v", err)
	}
}

func TestUserPasswordResetFlow(t *testing.T) {
	registeredAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	users := newFakeUserRepository(domain.User{
		ID: "usr_1", Email: "asha@example.com",
		PasswordHash:      hashPassword(t, "old password"),
		PasswordChangedAt: registeredAt,
		IsActive:          true,
	})
	svc, _ := newUserForTest(t, users, newFakeProductRepository())
	ctx := context.Background()

	token, err := svc.ForgotPassword(ctx, "asha@example.com")
	if err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a reset token for a known account")
	}

	stored, _ := users.FindByID(ctx, "usr_1")
	if stored.ResetTokenHash == "" || stored.ResetTokenHash == token {
		t.Fatalf("only the token hash may be persisted")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordCommand{Token: token, NewPassword: "new password"}); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	stored, _ = users.FindByID(ctx, "usr_1")
	if stored.ResetTokenHash != "" || stored.ResetTokenExpiresAt != nil {
		t.Fatalf("token must be consumed")
	}
	if !stored.PasswordChangedAt.After(registeredAt) {
		t.Fatalf("password change timestamp must advance to invalidate sessions")
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("new password")) != nil {
		t.Fatalf("new password must verify")
	}

	// The token is single use.
	if err := svc.ResetPassword(ctx, ResetPasswordCommand{Token: token, NewPassword: "another password"}); !errors.Is(err, ErrUserResetTokenInvalid) {
		t.Fatalf("expected consumed token to be rejected, got %v", err)
	}
}

func TestUserForgotPasswordUnknownEmail(t *testing.T) {
	svc, _ := newUserForTest(t, newFakeUserRepository(), newFakeProductRepository())

	token, err := svc.ForgotPassword(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("unknown email must not error: %v", err)
	}
	if token != "" {
		t.Fatalf("unknown email must not produce a token")
	}
}

func TestUserResetPasswordExpiredToken(t *testing.T) {
	expired := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	users := newFakeUserRepository(domain.User{
		ID: "usr_1", Email: "asha@example.com",
		ResetTokenHash:      hashResetToken("stale-token"),
		ResetTokenExpiresAt: &expired,
		IsActive:            true,
	})
	svc, _ := newUserForTest(t, users, newFakeProductRepository())

	err := svc.ResetPassword(context.Background(), ResetPasswordCommand{Token: "stale-token", NewPassword: "new password"})
	if !errors.Is(err, ErrUserResetTokenInvalid) {
		t.Fatalf("expected expired token rejection, got %v", err)
	}
}

func TestUserAddressDefaults(t *testing.T) {
	users := newFakeUserRepository(domain.User{ID: "usr_1", Email: "asha@example.com", IsActive: true})
	svc, _ := newUserForTest(t, users, newFakeProductRepository())
	ctx := context.Background()

	user, err := svc.AddAddress(ctx, AddressCommand{
		UserID:  "usr_1",
		Label:   "Home",
		Address: testShippingAddress(),
	})
	if err != nil {
		t.Fatalf("AddAddress: %v", err)
	}
	if len(user.Addresses) != 1 || !user.Addresses[0].IsDefault {
		t.Fatalf("first address must become the default: %+v", user.Addresses)
	}

	second := testShippingAddress()
	second.City = "Pune"
	user, err = svc.AddAddress(ctx, AddressCommand{
		UserID:    "usr_1",
		Label:     "Office",
		Address:   second,
		IsDefault: true,
	})
	if err != nil {
		t.Fatalf("AddAddress: %v", err)
	}

	defaults := 0
	for _, addr := range user.Addresses {
		if addr.IsDefault {
			defaults++
			if addr.Label != "Office" {
				t.Fatalf("expected the new address to hold the default, got %+v", addr)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("exactly one default address is allowed, found %d", defaults)
	}
}

func TestUserRemoveAddress(t *testing.T) {
	users := newFakeUserRepository(domain.User{
		ID: "usr_1", Email: "asha@example.com", IsActive: true,
		Addresses: []domain.UserAddress{
			{ID: "addr_1", Label: "Home", Address: testShippingAddress(), IsDefault: true},
		},
	})
	svc, _ := newUserForTest(t, users, newFakeProductRepository())
	ctx := context.Background()

	user, err := svc.RemoveAddress(ctx, "usr_1", "addr_1")
	if err != nil {
		t.Fatalf("RemoveAddress: %v", err)
	}
	if len(user.Addresses) != 0 {
		t.Fatalf("expected empty address book, got %+v", user.Addresses)
	}

	if _, err := svc.RemoveAddress(ctx, "usr_1", "addr_1"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found for missing address, got %v", err)
	}
}

func TestUserLinkWallet(t *testing.T) {
	users := newFakeUserRepository(
		domain.User{ID: "usr_1", Email: "asha@example.com", IsActive: true},
		domain.User{ID: "usr_2", Email: "ravi@example.com", IsActive: true, WalletAddress: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
	)
	svc, _ := newUserForTest(t, users, newFakeProductRepository())
	ctx := context.Background()

	user, err := svc.LinkWallet(ctx, "usr_1", "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
	if err != nil {
		t.Fatalf("LinkWallet: %v", err)
	}
	if user.WalletAddress != "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" {
		t.Fatalf("expected lowercased wallet, got %s", user.WalletAddress)
	}

	if _, err := svc.LinkWallet(ctx, "usr_1", "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"); !errors.Is(err, ErrUserWalletInUse) {
		t.Fatalf("expected wallet conflict, got %v", err)
	}
	if _, err := svc.LinkWallet(ctx, "usr_1", "not-a-wallet"); !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected malformed wallet rejection, got %v", err)
	}

	user, err = svc.UnlinkWallet(ctx, "usr_1")
	if err != nil {
		t.Fatalf("UnlinkWallet: %v", err)
	}
	if user.WalletAddress != "" {
		t.Fatalf("expected wallet cleared, got %s", user.WalletAddress)
	}
}

func TestUserWishlist(t *testing.T) {
	products := newFakeProductRepository(
		domain.Product{ID: "prod_1", Name: "Ring", IsActive: true},
		domain.Product{ID: "prod_2", Name: "Retired", IsActive: false},
	)
	users := newFakeUserRepository(domain.User{ID: "usr_1", Email: "asha@example.com", IsActive: true})
	svc, _ := newUserForTest(t, users, products)
	ctx := context.Background()

	if err := svc.AddToWishlist(ctx, "usr_1", "prod_1"); err != nil {
		t.Fatalf("AddToWishlist: %v", err)
	}
	// Adding the same product twice is a no-op.
	if err := svc.AddToWishlist(ctx, "usr_1", "prod_1"); err != nil {
		t.Fatalf("repeat AddToWishlist: %v", err)
	}
	if err := svc.AddToWishlist(ctx, "usr_1", "prod_missing"); !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected unknown product rejection, got %v", err)
	}
	if err := svc.AddToWishlist(ctx, "usr_1", "prod_2"); err != nil {
		t.Fatalf("AddToWishlist inactive: %v", err)
	}

	wishlist, err := svc.Wishlist(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Wishlist: %v", err)
	}
	// Inactive products are hidden from the populated view.
	if len(wishlist) != 1 || wishlist[0].ID != "prod_1" {
		t.Fatalf("unexpected wishlist: %+v", wishlist)
	}

	if err := svc.RemoveFromWishlist(ctx, "usr_1", "prod_1"); err != nil {
		t.Fatalf("RemoveFromWishlist: %v", err)
	}
	wishlist, _ = svc.Wishlist(ctx, "usr_1")
	if len(wishlist) != 0 {
		t.Fatalf("expected empty wishlist, got %+v", wishlist)
	}
}

func TestUserUpdateProfile(t *testing.T) {
	users := newFakeUserRepository(domain.User{ID: "usr_1", Email: "asha@example.com", Name: "Asha", IsActive: true})
	svc, _ := newUserForTest(t, users, newFakeProductRepository())
	ctx := context.Background()

	name := "Asha Verma"
	phone := "+91 9999999999"
	user, err := svc.UpdateProfile(ctx, ProfileUpdateCommand{UserID: "usr_1", Name: &name, Phone: &phone})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Name != "Asha Verma" || user.Phone != "+91 9999999999" {
		t.Fatalf("unexpected profile: %+v", user)
	}

	empty := "  "
	if _, err := svc.UpdateProfile(ctx, ProfileUpdateCommand{UserID: "usr_1", Name: &empty}); !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected blank name rejection, got %v", err)
	}
}

package repositories

import "errors"

var (
	// ErrEmailInUse indicates another account already owns the email address.
	ErrEmailInUse = errors.New("user repository: email already in use")
	// ErrWalletInUse indicates another account already linked the wallet address.
	ErrWalletInUse = errors.New("user repository: wallet address already linked")
	// ErrDuplicateReview indicates the user already reviewed the product.
	ErrDuplicateReview = errors.New("review repository: user already reviewed product")
)

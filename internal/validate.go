package internal

import (
	"strconv"

	"github.com/stellar/go/strkey"
)

const (
	// MinLimit and MaxLimit bound the page size of every paginated operation.
	MinLimit = 1
	MaxLimit = 200
)

// ValidateLimit rejects page sizes outside [MinLimit, MaxLimit].
func ValidateLimit(limit int) error {
	if limit < MinLimit || limit > MaxLimit {
		return &InvalidRequestError{
			Field:  "limit",
			Reason: "must be between " + strconv.Itoa(MinLimit) + " and " + strconv.Itoa(MaxLimit),
		}
	}
	return nil
}

// ValidateAccount rejects anything that is not a G... account ID.
func ValidateAccount(account string) error {
	if !strkey.IsValidEd25519PublicKey(account) {
		return &InvalidRequestError{Field: "account", Reason: "not a valid account ID"}
	}
	return nil
}

// ValidateLedgersRequest checks the page size and that start and cursor are not both set.
func ValidateLedgersRequest(request LedgersRequest) error {
	if err := ValidateLimit(request.Limit); err != nil {
		return err
	}
	if request.StartSequence != nil && request.Cursor != "" {
		return &InvalidRequestError{Field: "cursor", Reason: "cannot be combined with start_sequence"}
	}
	if request.StartSequence != nil && *request.StartSequence == 0 {
		return &InvalidRequestError{Field: "start_sequence", Reason: "must be greater than 0"}
	}
	return nil
}

// ValidateOrderBookPair checks both assets and that they differ.
func ValidateOrderBookPair(selling, buying Asset) error {
	if err := selling.Validate(); err != nil {
		return &InvalidRequestError{Field: "selling", Reason: err.Error()}
	}
	if err := buying.Validate(); err != nil {
		return &InvalidRequestError{Field: "buying", Reason: err.Error()}
	}
	if selling == buying {
		return &InvalidRequestError{Field: "buying", Reason: "must differ from selling"}
	}
	return nil
}

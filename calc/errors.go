package calc

import (
	"errors"
	"fmt"
)

// ErrorCode identifies why a calculation could not produce a price.
type ErrorCode string

const (
	CodeInvalidInput           ErrorCode = "INVALID_INPUT"
	CodeAuctionMatrixNotFound  ErrorCode = "AUCTION_MATRIX_NOT_FOUND"
	CodeAuctionBracketNotFound ErrorCode = "AUCTION_BRACKET_NOT_FOUND"
	CodeTowingRuleNotFound     ErrorCode = "TOWING_RULE_NOT_FOUND"
	CodeTowingPriceNotFound    ErrorCode = "TOWING_PRICE_NOT_FOUND"
	CodeTowingPortNotServed    ErrorCode = "TOWING_PORT_NOT_SERVED"
	CodeTowingRuleTypeUnknown  ErrorCode = "TOWING_RULE_TYPE_UNKNOWN"
	CodeShippingRuleNotFound   ErrorCode = "SHIPPING_RULE_NOT_FOUND"
	CodeShippingPriceNotFound  ErrorCode = "SHIPPING_PRICE_NOT_FOUND"
	CodeAdditionalFeeNotFound  ErrorCode = "ADDITIONAL_FEE_NOT_FOUND"
	CodeCustomsRuleNotFound    ErrorCode = "CUSTOMS_RULE_NOT_FOUND"
	CodeCustomsNeedsShipping   ErrorCode = "CUSTOMS_NEEDS_SHIPPING"
)

var messages = map[ErrorCode]string{
	CodeInvalidInput:           "The request is missing required fields or contains invalid values.",
	CodeAuctionMatrixNotFound:  "No auction fee schedule exists for this auction, account, title and payment combination.",
	CodeAuctionBracketNotFound: "The winning bid is outside every price bracket of the auction fee schedule.",
	CodeTowingRuleNotFound:     "Towing is not available from this location with the selected shipper.",
	CodeTowingPriceNotFound:    "The selected shipper has no towing price for this vehicle type.",
	CodeTowingPortNotServed:    "The selected shipper does not tow from this location to the chosen port.",
	CodeTowingRuleTypeUnknown:  "The towing rule for this location is misconfigured.",
	CodeShippingRuleNotFound:   "Ocean shipping is not available on this route with the selected shipper.",
	CodeShippingPriceNotFound:  "The selected shipper has no shipping price for this vehicle type on this route.",
	CodeAdditionalFeeNotFound:  "One of the requested additional services is not offered.",
	CodeCustomsRuleNotFound:    "Customs clearance is not configured for the destination country.",
	CodeCustomsNeedsShipping:   "Customs cannot be estimated without an ocean shipping price.",
}

const unknownMessage = "The price could not be calculated."

// Message returns the user-facing text for code.
func Message(code ErrorCode) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return unknownMessage
}

// Messages returns a copy of the full error dictionary.
func Messages() map[ErrorCode]string {
	out := make(map[ErrorCode]string, len(messages))
	for k, v := range messages {
		out[k] = v
	}
	return out
}

// Error is returned by the calculators that fail with an error instead of a
// coded result.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ErrCode exposes the code to generic error handlers.
func (e *Error) ErrCode() string { return string(e.Code) }

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ErrorCode of err, or "" when err is not a calc error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

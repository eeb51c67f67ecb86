package calc

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type AuctionInput struct {
	Auction     Auction         `json:"auction" validate:"required,oneof=copart iaai"`
	AccountType AccountType     `json:"accountType" validate:"required,oneof=public dealer"`
	Title       TitleType       `json:"title" validate:"required,oneof=clean salvage"`
	Payment     PaymentType     `json:"payment" validate:"required,oneof=secured unsecured"`
	Price       decimal.Decimal `json:"price"`
}

type AuctionFees struct {
	Breakdown []FeeLine       `json:"breakdown"`
	Total     decimal.Decimal `json:"total"`
}

const (
	LineBuyerFee         = "buyer_fee"
	LineDocumentationFee = "documentation_fee"
	LineGateFee          = "gate_fee"
	LineInternetBidFee   = "internet_bid_fee"
	LineNonCleanTitleFee = "non_clean_title_fee"
	LineUnsecuredPayment = "unsecured_payment_fee"
)

// CalculateAuctionFees prices the buyer-side fees for a winning bid. It fails
// with an *Error when no schedule or bracket matches.
func CalculateAuctionFees(m Matrices, in AuctionInput) (*AuctionFees, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if !in.Price.IsPositive() {
		return nil, newError(CodeInvalidInput, "price must be positive")
	}
	if !in.Price.Equal(in.Price.Round(2)) {
		return nil, newError(CodeInvalidInput, "price must be in whole cents")
	}

	schedule, ok := lo.Find(m.AuctionFees, func(fm FeeMatrix) bool {
		return fm.Auction == in.Auction &&
			fm.AccountType == in.AccountType &&
			fm.Title == in.Title &&
			fm.Payment == in.Payment
	})
	if !ok {
		return nil, newError(CodeAuctionMatrixNotFound, "%s/%s/%s/%s", in.Auction, in.AccountType, in.Title, in.Payment)
	}

	bracket, ok := lo.Find(schedule.Brackets, func(b Bracket) bool { return b.contains(in.Price) })
	if !ok {
		return nil, newError(CodeAuctionBracketNotFound, "price %s", in.Price)
	}

	lines := []FeeLine{{
		Code:   LineBuyerFee,
		Label:  "Buyer fee",
		Amount: round2(bracket.Fee.Add(percentOf(in.Price, bracket.Pct))),
	}}
	lines = appendNonZero(lines, LineDocumentationFee, "Documentation fee", schedule.DocumentationFee)
	lines = appendNonZero(lines, LineGateFee, "Gate fee", schedule.GateFee)
	lines = appendNonZero(lines, LineInternetBidFee, "Internet bid fee", internetBidFee(schedule, in.Price))
	if in.Title != TitleClean {
		lines = appendNonZero(lines, LineNonCleanTitleFee, "Non-clean title fee", schedule.NonCleanTitleFee)
	}
	if in.Payment == PaymentUnsecured {
		lines = appendNonZero(lines, LineUnsecuredPayment, "Unsecured payment fee", schedule.UnsecuredPaymentFee)
	}

	return &AuctionFees{Breakdown: lines, Total: sumLines(lines)}, nil
}

func internetBidFee(fm FeeMatrix, price decimal.Decimal) decimal.Decimal {
	if fm.InternetBidPct.IsZero() {
		return decimal.Zero
	}
	fee := percentOf(price, fm.InternetBidPct)
	if fee.LessThan(fm.InternetBidMin) {
		fee = fm.InternetBidMin
	}
	if fm.InternetBidMax.IsPositive() && fee.GreaterThan(fm.InternetBidMax) {
		fee = fm.InternetBidMax
	}
	return fee
}

func appendNonZero(lines []FeeLine, code, label string, amount decimal.Decimal) []FeeLine {
	if amount.IsZero() {
		return lines
	}
	return append(lines, FeeLine{Code: code, Label: label, Amount: round2(amount)})
}

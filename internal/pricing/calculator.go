package pricing

import (
	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/shopspring/decimal"
)

// Leg identifies one flight-tariff pair being quoted.
type Leg struct {
	FlightTariffID int64
	FlightID       int64
	TariffID       int64
	Class          domain.SeatClass
	Price          decimal.Decimal
	Currency       string
}

// CategoryLine is the per-direction breakdown for one passenger
// category with a non-zero count.
type CategoryLine struct {
	Category      domain.PassengerCategory `json:"category"`
	Count         int                      `json:"count"`
	FarePerSeat   decimal.Decimal          `json:"fare_per_seat"`
	FareSubtotal  decimal.Decimal          `json:"fare_subtotal"`
	DiscountNames []string                 `json:"discount_names,omitempty"`
	Discount      decimal.Decimal          `json:"discount_amount"`
	NetSubtotal   decimal.Decimal          `json:"net_subtotal"`
}

type FeeLine struct {
	Name       string          `json:"name"`
	UnitAmount decimal.Decimal `json:"unit_amount"`
	Quantity   int             `json:"quantity"`
	Total      decimal.Decimal `json:"total"`
}

type Direction struct {
	FlightTariffID int64           `json:"flight_tariff_id"`
	Lines          []CategoryLine  `json:"lines"`
	FareSubtotal   decimal.Decimal `json:"fare_subtotal"`
	NetSubtotal    decimal.Decimal `json:"net_subtotal"`
}

// Quote is the deterministic price composition. It is persisted
// verbatim as the booking snapshot and must be reproducible from the
// same catalogue inputs.
type Quote struct {
	Currency      string          `json:"currency"`
	Directions    []Direction     `json:"directions"`
	FareTotal     decimal.Decimal `json:"fare_total"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	Fees          []FeeLine       `json:"fees"`
	FeeTotal      decimal.Decimal `json:"fee_total"`
	FinalTotal    decimal.Decimal `json:"final_total"`
}

type Calculator struct {
	discounts []domain.Discount
	fees      []domain.Fee
}

// NewCalculator captures the catalogue slice the quote is computed
// against; fees must already be filtered to application=booking.
func NewCalculator(discounts []domain.Discount, bookingFees []domain.Fee) *Calculator {
	return &Calculator{discounts: discounts, fees: bookingFees}
}

// Quote composes fare, discounts and fees for one or two legs. All
// intermediate math stays unrounded; rounding to cents happens once per
// published figure so totals never drift from their parts.
func (c *Calculator) Quote(outbound Leg, ret *Leg, counts domain.PassengerCounts) (*Quote, error) {
	if counts.Adults < 1 {
		return nil, domain.E(domain.KindValidation, "at least one adult is required")
	}
	if counts.Infants > counts.Adults {
		return nil, domain.E(domain.KindValidation, "each lap infant needs an accompanying adult")
	}
	if ret != nil && ret.Currency != outbound.Currency {
		return nil, domain.E(domain.KindValidation, "legs are priced in different currencies")
	}

	roundTrip := ret != nil
	legs := []Leg{outbound}
	if ret != nil {
		legs = append(legs, *ret)
	}

	q := &Quote{Currency: outbound.Currency}
	fareTotal := decimal.Zero
	netTotal := decimal.Zero

	for _, leg := range legs {
		dir := Direction{FlightTariffID: leg.FlightTariffID}
		dirFare := decimal.Zero
		dirNet := decimal.Zero

		for _, cat := range categoryOrder {
			count := counts.ByCategory(cat)
			if count == 0 {
				continue
			}
			line := c.categoryLine(leg, cat, count, roundTrip)
			dir.Lines = append(dir.Lines, line)
			dirFare = dirFare.Add(line.FareSubtotal)
			dirNet = dirNet.Add(line.NetSubtotal)
		}

		dir.FareSubtotal = dirFare
		dir.NetSubtotal = dirNet
		q.Directions = append(q.Directions, dir)
		fareTotal = fareTotal.Add(dirFare)
		netTotal = netTotal.Add(dirNet)
	}

	q.FareTotal = fareTotal.Round(2)
	q.DiscountTotal = fareTotal.Sub(netTotal).Round(2)

	feeTotal := decimal.Zero
	for _, fee := range c.fees {
		if fee.Application != domain.FeeApplicationBooking {
			continue
		}
		qty := counts.Total()
		line := FeeLine{
			Name:       fee.Name,
			UnitAmount: fee.Amount,
			Quantity:   qty,
			Total:      fee.Amount.Mul(decimal.NewFromInt(int64(qty))).Round(2),
		}
		q.Fees = append(q.Fees, line)
		feeTotal = feeTotal.Add(line.Total)
	}
	q.FeeTotal = feeTotal.Round(2)

	q.FinalTotal = q.FareTotal.Sub(q.DiscountTotal).Add(q.FeeTotal).Round(2)
	return q, nil
}

func (c *Calculator) categoryLine(leg Leg, cat domain.PassengerCategory, count int, roundTrip bool) CategoryLine {
	fareSubtotal := leg.Price.Mul(decimal.NewFromInt(int64(count)))

	// Discounts compose as a product of complements: two 10% discounts
	// yield a 0.81 multiplier, not 0.80.
	multiplier := decimal.NewFromInt(1)
	var names []string
	for _, d := range c.discounts {
		if !discountApplies(d.Type, cat, leg.Class, roundTrip) {
			continue
		}
		pct := d.Percent.Div(decimal.NewFromInt(100))
		multiplier = multiplier.Mul(decimal.NewFromInt(1).Sub(pct))
		names = append(names, d.Name)
	}

	net := fareSubtotal.Mul(multiplier).Round(2)
	return CategoryLine{
		Category:      cat,
		Count:         count,
		FarePerSeat:   leg.Price,
		FareSubtotal:  fareSubtotal,
		DiscountNames: names,
		Discount:      fareSubtotal.Sub(net),
		NetSubtotal:   net,
	}
}

func discountApplies(d domain.DiscountType, cat domain.PassengerCategory, class domain.SeatClass, roundTrip bool) bool {
	switch d {
	case domain.DiscountInfant:
		// Infant discount ignores seat class.
		return cat == domain.CategoryInfant
	case domain.DiscountChild:
		return class == domain.SeatClassEconomy &&
			(cat == domain.CategoryChild || cat == domain.CategoryInfantSeat)
	case domain.DiscountRoundTrip:
		return roundTrip && class == domain.SeatClassEconomy && cat != domain.CategoryInfant
	}
	return false
}

var categoryOrder = []domain.PassengerCategory{
	domain.CategoryAdult,
	domain.CategoryChild,
	domain.CategoryInfantSeat,
	domain.CategoryInfant,
}

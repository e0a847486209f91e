// Package settlement holds the money arithmetic of a booking: the fare quote,
// the fixed platform commission, the driver payout and the cancellation
// refund tiers. Amounts are minor currency units.
//
// The platform commission is a fixed amount per booking added on top of the
// seat fare. The passenger pays fare + commission and the driver earns the
// seat fare.
package settlement

import (
	"time"

	"github.com/example/rideshare/internal/models"
)

type Policy struct {
	Commission int64
	Currency   string
}

// Quote prices a booking of seats at pricePerSeat.
func (p Policy) Quote(pricePerSeat int64, seats int, method models.PaymentMethod) models.PaymentRecord {
	fare := pricePerSeat * int64(seats)
	return models.PaymentRecord{
		Fare:       fare,
		Commission: p.Commission,
		Total:      fare + p.Commission,
		Currency:   p.Currency,
		Method:     method,
		Status:     models.PaymentPending,
	}
}

// Payout is the driver's share of a confirmed payment.
func Payout(pr models.PaymentRecord) int64 {
	out := pr.Total - pr.Commission
	if out < 0 {
		return 0
	}
	return out
}

// RefundPercent is the share of a paid booking returned to a passenger who
// cancels with the given time left before departure.
func RefundPercent(untilDeparture time.Duration) int {
	h := untilDeparture.Hours()
	switch {
	case h > 24:
		return 100
	case h > 12:
		return 75
	case h > 6:
		return 50
	case h > 2:
		return 25
	default:
		return 0
	}
}

func RefundAmount(total int64, percent int) int64 {
	return total * int64(percent) / 100
}

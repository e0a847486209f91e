package verification

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"time"

	"github.com/example/rideshare/internal/models"
)

type Reason string

const (
	OK              Reason = "OK"
	Mismatch        Reason = "MISMATCH"
	AlreadyVerified Reason = "ALREADY_VERIFIED"
	NoCodeIssued    Reason = "NO_CODE_ISSUED"
	// Expired is only produced when a TTL is configured.
	Expired Reason = "EXPIRED"
)

type Result struct {
	Valid  bool
	Reason Reason
}

// Generator issues fixed-length numeric codes. A zero TTL issues codes that
// never expire.
type Generator struct {
	Length int
	TTL    time.Duration
}

func (g Generator) Generate(now time.Time) (models.VerificationCode, error) {
	n := g.Length
	if n <= 0 {
		n = 4
	}
	digits := make([]byte, n)
	for i := range digits {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return models.VerificationCode{}, err
		}
		digits[i] = byte('0' + d.Int64())
	}
	vc := models.VerificationCode{Code: string(digits), IssuedAt: now}
	if g.TTL > 0 {
		exp := now.Add(g.TTL)
		vc.ExpiresAt = &exp
	}
	return vc, nil
}

// Verify checks submitted against the stored code. It does not mutate the code
// or count attempts.
func Verify(submitted string, stored *models.VerificationCode, now time.Time) Result {
	switch {
	case stored == nil:
		return Result{Reason: NoCodeIssued}
	case stored.Verified:
		return Result{Reason: AlreadyVerified}
	case stored.ExpiresAt != nil && now.After(*stored.ExpiresAt):
		return Result{Reason: Expired}
	}
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(stored.Code)) != 1 {
		return Result{Reason: Mismatch}
	}
	return Result{Valid: true, Reason: OK}
}

package verification

import (
	"testing"
	"time"

	"github.com/example/rideshare/internal/models"
)

func TestGenerateFixedLengthDigits(t *testing.T) {
	g := Generator{Length: 6}
	now := time.Now()
	for i := 0; i < 50; i++ {
		vc, err := g.Generate(now)
		if err != nil {
			t.Fatal(err)
		}
		if len(vc.Code) != 6 {
			t.Fatalf("expected 6 digits, got %q", vc.Code)
		}
		for _, c := range vc.Code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit in %q", vc.Code)
			}
		}
		if vc.ExpiresAt != nil || vc.Verified || !vc.IssuedAt.Equal(now) {
			t.Fatalf("unexpected code state %+v", vc)
		}
	}
}

func TestGenerateWithTTL(t *testing.T) {
	now := time.Now()
	vc, _ := Generator{TTL: time.Minute}.Generate(now)
	if len(vc.Code) != 4 {
		t.Fatalf("default length should be 4, got %q", vc.Code)
	}
	if vc.ExpiresAt == nil || !vc.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected expiry, got %+v", vc.ExpiresAt)
	}
}

func TestVerify(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	verifiedAt := now.Add(-time.Minute)
	cases := []struct {
		name   string
		code   string
		stored *models.VerificationCode
		want   Result
	}{
		{"no code", "1234", nil, Result{Reason: NoCodeIssued}},
		{"match", "1234", &models.VerificationCode{Code: "1234"}, Result{Valid: true, Reason: OK}},
		{"mismatch", "1235", &models.VerificationCode{Code: "1234"}, Result{Reason: Mismatch}},
		{"already verified", "1234", &models.VerificationCode{Code: "1234", Verified: true, VerifiedAt: &verifiedAt}, Result{Reason: AlreadyVerified}},
		{"expired", "1234", &models.VerificationCode{Code: "1234", ExpiresAt: &past}, Result{Reason: Expired}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Verify(tc.code, tc.stored, now); got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

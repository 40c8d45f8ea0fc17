package storage

import (
	"testing"
	"time"
)

func TestRedeemFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		tok   ActionToken
		found bool
		want  error
	}{
		{name: "missing", want: ErrTokenMissing},
		{name: "consumed", tok: ActionToken{Status: TokenConsumed, ExpiresAt: now.Add(time.Hour)}, found: true, want: ErrTokenConsumed},
		{name: "swept", tok: ActionToken{Status: TokenExpired, ExpiresAt: now.Add(-time.Hour)}, found: true, want: ErrTokenExpired},
		{name: "stale unused", tok: ActionToken{Status: TokenUnused, ExpiresAt: now.Add(-time.Second)}, found: true, want: ErrTokenExpired},
	}
	for _, tc := range cases {
		if got := RedeemFailure(tc.tok, tc.found, now); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

package keyinfo

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, c Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("not-the-real-secret"))
	require.NoError(t, err)
	return s
}

func TestInspect(t *testing.T) {
	iat := time.Date(2025, 6, 25, 0, 0, 0, 0, time.UTC)
	key := sign(t, Claims{
		Role: ServiceRole,
		Ref:  "abcdefgh",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "supabase",
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.AddDate(10, 0, 0)),
		},
	})

	c, err := Inspect(" " + key + "\n")
	require.NoError(t, err)
	require.Equal(t, ServiceRole, c.Role)
	require.Equal(t, "abcdefgh", c.Ref)
	require.Equal(t, "supabase", c.Issuer)
	require.True(t, c.IssuedAt.Equal(iat))
}

func TestInspect_Garbage(t *testing.T) {
	_, err := Inspect("not-a-jwt")
	require.Error(t, err)
}

func TestCheck(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := jwt.NewNumericDate(now.Add(time.Hour))
	past := jwt.NewNumericDate(now.Add(-time.Hour))

	tests := []struct {
		name   string
		claims Claims
		url    string
		want   int
	}{
		{"good", Claims{Role: ServiceRole, Ref: "abc", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}, "https://abc.supabase.co", 0},
		{"anon key", Claims{Role: "anon", Ref: "abc"}, "https://abc.supabase.co", 1},
		{"expired", Claims{Role: ServiceRole, RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: past}}, "", 1},
		{"wrong project", Claims{Role: ServiceRole, Ref: "abc"}, "https://xyz.supabase.co/", 1},
		{"everything wrong", Claims{Role: "authenticated", Ref: "abc", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: past}}, "https://xyz.supabase.co", 3},
		{"no ref", Claims{Role: ServiceRole}, "https://xyz.supabase.co", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Len(t, Check(tt.claims, tt.url, now), tt.want)
		})
	}
}

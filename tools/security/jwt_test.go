package security

import (
	"testing"
	"time"

	errs "IMCore/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = Options{Secret: []byte("unit-test-secret"), Alg: "HS256", TTL: time.Hour}

func TestRoundTrip(t *testing.T) {
	tok, exp, err := Generate(testOpts, "u1")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	sub, err := Verify(testOpts, tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)
}

func TestVerifyFailsClosed(t *testing.T) {
	tok, _, err := Generate(testOpts, "u1")
	require.NoError(t, err)

	cases := map[string]string{
		"empty":    "",
		"garbage":  "not-a-token",
		"tampered": tok[:len(tok)-4] + "AAAA",
	}
	for name, bad := range cases {
		_, err := Verify(testOpts, bad)
		require.Errorf(t, err, "case %s", name)
		assert.Truef(t, errors.Is(err, errs.ErrAuthentication), "case %s should carry the auth code", name)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, _, err := Generate(Options{Secret: []byte("other"), Alg: "HS256", TTL: time.Hour}, "u1")
	require.NoError(t, err)

	_, err = Verify(testOpts, tok)
	assert.True(t, errors.Is(err, errs.ErrAuthentication))
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Now().Add(-2 * time.Hour)
	claims := jwtlib.MapClaims{
		"sub": "u1",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	}
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testOpts.Secret)
	require.NoError(t, err)

	_, err = Verify(testOpts, tok)
	assert.True(t, errors.Is(err, errs.ErrAuthentication))
}

func TestVerifyRejectsMissingSub(t *testing.T) {
	claims := jwtlib.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testOpts.Secret)
	require.NoError(t, err)

	_, err = Verify(testOpts, tok)
	assert.True(t, errors.Is(err, errs.ErrAuthentication))
}

func TestVerifyRejectsNonHMAC(t *testing.T) {
	// alg:none style token
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.MapClaims{"sub": "u1"})
	signed, err := tok.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = Verify(testOpts, signed)
	assert.True(t, errors.Is(err, errs.ErrAuthentication))
}

func TestAlgVariants(t *testing.T) {
	for _, alg := range []string{"HS256", "HS384", "HS512"} {
		opts := Options{Secret: []byte("k"), Alg: alg, TTL: time.Hour}
		tok, _, err := Generate(opts, "u1")
		require.NoErrorf(t, err, "alg %s", alg)
		sub, err := Verify(opts, tok)
		require.NoErrorf(t, err, "alg %s", alg)
		assert.Equal(t, "u1", sub)
	}

	_, _, err := Generate(Options{Secret: []byte("k"), Alg: "RS256"}, "u1")
	assert.Error(t, err)
}

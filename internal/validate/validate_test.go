package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeString(t *testing.T) {
	got := SanitizeString("<script>alert('x')</script>")
	assert.NotContains(t, got, "<")
	assert.NotContains(t, got, ">")
	assert.NotContains(t, got, "'")
	assert.Equal(t, "scriptalert(x)/script", got)

	assert.Equal(t, "Jo Silva", SanitizeString(`  {Jo} "Silva"  `))

	long := strings.Repeat("á", 1500)
	assert.Equal(t, 1000, len([]rune(SanitizeString(long))))
}

func TestSanitizeValue(t *testing.T) {
	assert.Equal(t, "", SanitizeValue(42))
	assert.Equal(t, "", SanitizeValue(nil))
	assert.Equal(t, "ok", SanitizeValue(" <ok> "))
}

func TestIsValidEmail(t *testing.T) {
	cases := map[string]bool{
		"a@b.com":                true,
		"ana.souza@salao.com.br": true,
		"no-at-sign.com":         false,
		"a@b":                    false,
		"a b@c.com":              false,
		"":                       false,
	}
	cases[strings.Repeat("a", 250)+"@b.com"] = false
	for input, want := range cases {
		assert.Equal(t, want, IsValidEmail(input), input)
	}
}

func TestTaxIDsAreLengthOnly(t *testing.T) {
	assert.True(t, IsValidCPF("123.456.789-01"))
	assert.True(t, IsValidCPF("00000000000"))
	assert.False(t, IsValidCPF("1234567890"))
	assert.True(t, IsValidCNPJ("12.345.678/0001-34"))
	assert.False(t, IsValidCNPJ("123456780001"))
}

func TestIsValidPhone(t *testing.T) {
	assert.True(t, IsValidPhone("(11) 99999-9999"))
	assert.True(t, IsValidPhone("+55 11 99999 9999"))
	assert.False(t, IsValidPhone("99999-999"))
	assert.False(t, IsValidPhone("1234567890123456"))
}

func TestIsValidRoleAndUID(t *testing.T) {
	for _, role := range []string{"client", "professional", "owner"} {
		assert.True(t, IsValidRole(role))
	}
	assert.False(t, IsValidRole("admin"))
	assert.False(t, IsValidRole("Owner"))

	assert.True(t, IsValidUID("abcdefghijklmnopqrstuvwxyz12"))
	assert.False(t, IsValidUID("abcdefghijklmnopqrstuvwxyz1"))
	assert.False(t, IsValidUID("abcdefghijklmnopqrstuvwxyz1!"))
}

func TestIsValidStringLength(t *testing.T) {
	assert.True(t, IsValidStringLength("Jo", 2, 100))
	assert.False(t, IsValidStringLength("J", 2, 100))
	assert.True(t, IsValidStringLength("ção", 3, 3))
}

type samplePayload struct {
	UID   string         `json:"uid" validate:"required" format:"uid"`
	Email string         `json:"email" validate:"required" format:"account_email"`
	Role  string         `json:"role" validate:"required" format:"role"`
	Name  string         `json:"displayName" format:"omitempty,min=2,max=100"`
	Data  map[string]any `json:"data" validate:"required"`
}

func TestRequiredAndFormat(t *testing.T) {
	ok := samplePayload{
		UID:   "abcdefghijklmnopqrstuvwxyz12",
		Email: "a@b.com",
		Role:  "client",
		Data:  map[string]any{},
	}
	require.NoError(t, Required(ok))
	require.NoError(t, Format(ok))

	missing := ok
	missing.Email = ""
	err := Required(missing)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "email")

	noData := ok
	noData.Data = nil
	require.ErrorIs(t, Required(noData), ErrInvalid)

	badRole := ok
	badRole.Role = "admin"
	require.NoError(t, Required(badRole))
	err = Format(badRole)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "role")

	shortName := ok
	shortName.Name = "J"
	require.ErrorIs(t, Format(shortName), ErrInvalid)
}

package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		phone   string
		want    string
		wantErr bool
	}{
		{"Digits", "01012345678", "01012345678", false},
		{"Dashed", "010-1234-5678", "01012345678", false},
		{"Old Prefix Three Digit Middle", "011-123-4567", "0111234567", false},
		{"Surrounding Spaces", " 010-9876-5432 ", "01098765432", false},
		{"Landline", "02-123-4567", "", true},
		{"Bad Prefix", "012-1234-5678", "", true},
		{"Too Short", "010-12-5678", "", true},
		{"Letters", "010-abcd-5678", "", true},
		{"Empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.phone)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateBirthDate(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, seoul)
	tests := []struct {
		name    string
		birth   string
		wantErr bool
	}{
		{"Adult", "19900101", false},
		{"Exactly Fourteen Today", "20121019", false},
		{"Fourteen Tomorrow", "20121020", true},
		{"Leap Day", "20000229", false},
		{"Invalid Leap Day", "20010229", true},
		{"Month Thirteen", "19901301", true},
		{"Future", "20301010", true},
		{"Dashed", "1990-01-01", true},
		{"Too Short", "199011", true},
		{"Ancient", "18991231", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBirthDate(tt.birth, now)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAge(t *testing.T) {
	t.Parallel()
	birth := time.Date(2000, 5, 20, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 25, Age(birth, time.Date(2026, 5, 19, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 26, Age(birth, time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)))
}

func TestValidateUsername(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"Valid", "trader_01", false},
		{"Min Length", "abcd", false},
		{"Max Length", strings.Repeat("a", 20), false},
		{"Too Short", "abc", true},
		{"Too Long", strings.Repeat("a", 21), true},
		{"Upper Case", "Trader01", true},
		{"Illegal Chars", "user@123", true},
		{"Hangul", "트레이더", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNickname(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		nickname string
		wantErr  bool
	}{
		{"Hangul", "코인왕", false},
		{"Mixed", "비트_King7", false},
		{"Two Runes", "고수", false},
		{"Twelve Runes", strings.Repeat("가", 12), false},
		{"One Rune", "가", true},
		{"Thirteen Runes", strings.Repeat("가", 13), true},
		{"Space", "코인 왕", true},
		{"Emoji", "코인🚀", true},
		{"Jamo Only", "ㅋㅋㅋ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNickname(tt.nickname)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateEmail("user@example.co.kr"))
	assert.Error(t, ValidateEmail("user@example"))
	assert.Error(t, ValidateEmail("no-at-sign.com"))
	assert.Error(t, ValidateEmail(strings.Repeat("a", 250)+"@x.com"))
}

func TestValidatePassword(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"Valid", "secure12!", false},
		{"Exactly Min Length", "abcde1!x", false},
		{"Too Short", "ab1!", true},
		{"Too Long", strings.Repeat("a", 70) + "1!x", true},
		{"No Letter", "12345678!", true},
		{"No Digit", "password!", true},
		{"No Special", "password1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCode(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateCode("012345"))
	assert.Error(t, ValidateCode("12345"))
	assert.Error(t, ValidateCode("12345a"))
}

func TestNormalizeSymbol(t *testing.T) {
	t.Parallel()
	got, err := NormalizeSymbol(" btcusdt ")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", got)

	_, err = NormalizeSymbol("BTC-USDT")
	assert.Error(t, err)
	_, err = NormalizeSymbol("BTC")
	assert.Error(t, err)
}

func TestValidateLength(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateLength("제목", "안녕하세요", 1, 5))
	assert.Error(t, ValidateLength("제목", "   ", 1, 5))
	assert.Error(t, ValidateLength("제목", "안녕하세요!", 1, 5))
}

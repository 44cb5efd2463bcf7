// Package validation provides input validation utilities
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	phoneRegex    = regexp.MustCompile(`^01[016789]-?\d{3,4}-?\d{4}$`)
	birthRegex    = regexp.MustCompile(`^\d{8}$`)
	usernameRegex = regexp.MustCompile(`^[a-z0-9_]{4,20}$`)
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	codeRegex     = regexp.MustCompile(`^\d{6}$`)
	symbolRegex   = regexp.MustCompile(`^[A-Z0-9]{5,20}$`)
	letterRegex   = regexp.MustCompile(`[A-Za-z]`)
	digitRegex    = regexp.MustCompile(`[0-9]`)
	specialRegex  = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>\/?~` + "`" + `]`)
)

// MinSignupAge is the youngest age allowed to register.
const MinSignupAge = 14

var seoul = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}()

// NormalizePhone validates a Korean mobile number and returns it as digits
// only (01012345678).
func NormalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if !phoneRegex.MatchString(phone) {
		return "", fmt.Errorf("휴대폰 번호 형식이 올바르지 않습니다")
	}
	return strings.ReplaceAll(phone, "-", ""), nil
}

// ValidateBirthDate checks a YYYYMMDD birth date: a real calendar date, not
// in the future, and at least MinSignupAge years before now.
func ValidateBirthDate(birth string, now time.Time) error {
	if !birthRegex.MatchString(birth) {
		return fmt.Errorf("생년월일은 YYYYMMDD 형식이어야 합니다")
	}
	d, err := time.ParseInLocation("20060102", birth, seoul)
	if err != nil {
		return fmt.Errorf("존재하지 않는 날짜입니다")
	}
	now = now.In(seoul)
	if d.After(now) {
		return fmt.Errorf("생년월일이 미래일 수 없습니다")
	}
	if d.Year() < 1900 {
		return fmt.Errorf("생년월일이 올바르지 않습니다")
	}
	if Age(d, now) < MinSignupAge {
		return fmt.Errorf("만 %d세 이상만 가입할 수 있습니다", MinSignupAge)
	}
	return nil
}

// Age returns the completed years between birth and now.
func Age(birth, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age
}

// ValidateUsername checks a login id: 4-20 lowercase letters, digits or
// underscores.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("아이디는 영문 소문자, 숫자, 밑줄로 4~20자여야 합니다")
	}
	return nil
}

// ValidateNickname allows 2-12 Hangul syllables, letters, digits or
// underscores.
func ValidateNickname(nickname string) error {
	n := utf8.RuneCountInString(nickname)
	if n < 2 || n > 12 {
		return fmt.Errorf("닉네임은 2~12자여야 합니다")
	}
	for _, r := range nickname {
		switch {
		case r >= '가' && r <= '힣':
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
		default:
			return fmt.Errorf("닉네임에는 한글, 영문, 숫자, 밑줄만 사용할 수 있습니다")
		}
	}
	return nil
}

// ValidateEmail checks basic email format
func ValidateEmail(email string) error {
	if len(email) > 254 {
		return fmt.Errorf("이메일은 254자를 넘을 수 없습니다")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("이메일 형식이 올바르지 않습니다")
	}
	return nil
}

// ValidatePassword requires 8-72 bytes with at least one letter, one digit
// and one special character. 72 is the bcrypt input limit.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("비밀번호는 8자 이상이어야 합니다")
	}
	if len(password) > 72 {
		return fmt.Errorf("비밀번호는 72자를 넘을 수 없습니다")
	}
	if !letterRegex.MatchString(password) {
		return fmt.Errorf("비밀번호에 영문자를 포함해야 합니다")
	}
	if !digitRegex.MatchString(password) {
		return fmt.Errorf("비밀번호에 숫자를 포함해야 합니다")
	}
	if !specialRegex.MatchString(password) {
		return fmt.Errorf("비밀번호에 특수문자를 포함해야 합니다")
	}
	return nil
}

// ValidateCode checks a 6-digit verification code.
func ValidateCode(code string) error {
	if !codeRegex.MatchString(code) {
		return fmt.Errorf("인증번호는 6자리 숫자입니다")
	}
	return nil
}

// NormalizeSymbol upper-cases a futures symbol and checks its shape.
func NormalizeSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRegex.MatchString(symbol) {
		return "", fmt.Errorf("invalid symbol %q", symbol)
	}
	return symbol, nil
}

// ValidateLength checks a rune length range for free text fields.
func ValidateLength(field, value string, min, max int) error {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	if n < min {
		return fmt.Errorf("%s은(는) %d자 이상이어야 합니다", field, min)
	}
	if n > max {
		return fmt.Errorf("%s은(는) %d자를 넘을 수 없습니다", field, max)
	}
	return nil
}

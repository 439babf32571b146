package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"shelfmaster/pos/internal/domain"
)

func HashPIN(pin string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func VerifyPIN(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !IsPINHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func IsPINHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

// Authenticate finds username among users and checks pin against its hash.
// Unknown users and wrong PINs are indistinguishable to the caller.
func Authenticate(users []domain.User, username string, pin string) (*domain.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	for _, u := range users {
		if strings.ToLower(u.Username) != username {
			continue
		}
		if !VerifyPIN(u.PINHash, pin) {
			return nil, domain.ErrAuthFailure
		}
		if u.IsSuspended {
			return nil, domain.ErrAccountSuspended
		}
		found := u
		return &found, nil
	}
	return nil, domain.ErrAuthFailure
}

// ValidatePINStrength rejects PINs that are not 4 to 8 digits, all the same
// digit, sequential (ascending or descending), or from a known-weak list.
func ValidatePINStrength(pin string) error {
	if len(pin) < 4 || len(pin) > 8 {
		return fmt.Errorf("PIN must be 4 to 8 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must contain digits only")
		}
	}

	known := map[string]bool{
		"1212": true, "1122": true, "2580": true, "6969": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}

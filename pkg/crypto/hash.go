package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования
var (
	ErrEmptyKey    = errors.New("api key cannot be empty")
	ErrKeyMismatch = errors.New("api key does not match hash")
	ErrInvalidHash = errors.New("invalid hash format")
	ErrKeyTooLong  = errors.New("api key exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость хеширования по умолчанию
const DefaultCost = 12

// MaxKeyLength - максимальная длина входа для bcrypt (72 байта)
const MaxKeyLength = 72

// HashAPIKey хеширует API ключ дашборда с использованием bcrypt.
// Хеш кладётся в API_KEY_HASH; сам ключ нигде не хранится.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	if len(key) > MaxKeyLength {
		return "", ErrKeyTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// VerifyAPIKey проверяет соответствие ключа хешу.
// bcrypt внутри использует constant-time сравнение
func VerifyAPIKey(key, hash string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrKeyMismatch
		}
		return ErrInvalidHash
	}

	return nil
}

// CheckAPIKey проверяет соответствие ключа хешу и возвращает bool
func CheckAPIKey(key, hash string) bool {
	return VerifyAPIKey(key, hash) == nil
}

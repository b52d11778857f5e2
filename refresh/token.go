package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	idSize     = 16
	secretSize = 32
	tokenSize  = idSize + secretSize
)

// ErrMalformedToken is returned for input that is not a refresh token.
var ErrMalformedToken = errors.New("malformed refresh token")

type secret [secretSize]byte

func newRecordID() (string, error) {
	var id [idSize]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(id[:]), nil
}

func newSecret() (secret, error) {
	var s secret
	_, err := rand.Read(s[:])
	return s, err
}

func (s secret) hash() [32]byte {
	return sha256.Sum256(s[:])
}

func (s secret) hashHex() string {
	h := s.hash()
	return hex.EncodeToString(h[:])
}

func encodeToken(id string, s secret) (string, error) {
	rawID, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil || len(rawID) != idSize {
		return "", ErrMalformedToken
	}

	var raw [tokenSize]byte
	copy(raw[:idSize], rawID)
	copy(raw[idSize:], s[:])
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// decodeToken splits a presented token into its record id and secret.
func decodeToken(token string) (string, secret, error) {
	var s secret
	if base64.RawURLEncoding.DecodedLen(len(token)) != tokenSize {
		return "", s, ErrMalformedToken
	}
	raw, err := base64.RawURLEncoding.Strict().DecodeString(token)
	if err != nil || len(raw) != tokenSize {
		return "", s, ErrMalformedToken
	}

	copy(s[:], raw[idSize:])
	return base64.RawURLEncoding.EncodeToString(raw[:idSize]), s, nil
}

// RecordID returns the record id embedded in token without contacting a store.
func RecordID(token string) (string, error) {
	id, _, err := decodeToken(token)
	return id, err
}

func hashMatches(storedHex string, s secret) bool {
	stored, err := hex.DecodeString(storedHex)
	if err != nil {
		return false
	}
	h := s.hash()
	return subtle.ConstantTimeCompare(stored, h[:]) == 1
}

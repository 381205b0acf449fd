package walletconnect

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var errBadHMAC = errors.New("inconsistent session message hmac")

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate random bytes: %w", err)
	}
	return b, nil
}

func hmacSHA256(data, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// encrypt seals plain with AES-256-CBC and signs cipher||iv.
func encrypt(plain, key []byte) (*encryptedPayload, error) {
	iv, err := randomBytes(aes.BlockSize)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes256 cipher: %w", err)
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	data := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(data, padded)

	unsigned := append(append([]byte(nil), data...), iv...)
	return &encryptedPayload{
		Data: hex.EncodeToString(data),
		IV:   hex.EncodeToString(iv),
		HMAC: hex.EncodeToString(hmacSHA256(unsigned, key)),
	}, nil
}

// decrypt checks the hmac before opening the payload.
func decrypt(p *encryptedPayload, key []byte) ([]byte, error) {
	iv, err := hex.DecodeString(p.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv hex: %w", err)
	}
	data, err := hex.DecodeString(p.Data)
	if err != nil {
		return nil, fmt.Errorf("decode cipher hex: %w", err)
	}
	mac, err := hex.DecodeString(p.HMAC)
	if err != nil {
		return nil, fmt.Errorf("decode hmac hex: %w", err)
	}
	unsigned := append(append([]byte(nil), data...), iv...)
	if !hmac.Equal(mac, hmacSHA256(unsigned, key)) {
		return nil, errBadHMAC
	}
	if len(iv) != aes.BlockSize || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errors.New("malformed cipher text")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes256 cipher: %w", err)
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)
	return pkcs7Unpad(plain, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("invalid padding")
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}

package license

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// IssuedKey is a key to be wrapped into a license.
type IssuedKey struct {
	ID    []byte
	Key   []byte
	Type  KeyType
	Level uint32
}

// Issue builds an authenticated license response for request. The caller
// sets SessionKey on the returned message before encoding it.
func Issue(rand io.Reader, sessionKey, request []byte, keys []IssuedKey) (*SignedMessage, error) {
	derived, err := DeriveKeys(sessionKey, request)
	if err != nil {
		return nil, err
	}
	defer derived.Wipe()

	block, err := aes.NewCipher(derived.Enc[:])
	if err != nil {
		return nil, err
	}
	lic := &License{ID: make([]byte, 16)}
	if _, err := io.ReadFull(rand, lic.ID); err != nil {
		return nil, fmt.Errorf("license id: %w", err)
	}
	for _, k := range keys {
		iv := make([]byte, aes.BlockSize)
		if _, err := io.ReadFull(rand, iv); err != nil {
			return nil, fmt.Errorf("key iv: %w", err)
		}
		padded := Pkcs7Padding(k.Key, aes.BlockSize)
		wrapped := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(wrapped, padded)
		clear(padded)

		lic.Keys = append(lic.Keys, KeyContainer{ID: k.ID, IV: iv, Key: wrapped, Type: k.Type, Level: k.Level})
	}

	body := lic.Marshal()
	return &SignedMessage{
		Type:      MessageLicense,
		Msg:       body,
		Signature: derived.SignResponse(body),
	}, nil
}

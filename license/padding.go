package license

import (
	"bytes"
	"errors"
)

var errPadding = errors.New("invalid padding")

func Pkcs7Padding(data []byte, blockSize int) []byte {
	padding := blockSize - (len(data) % blockSize)
	padText := bytes.Repeat([]byte{byte(padding)}, padding)
	return append(data[:len(data):len(data)], padText...)
}

// Pkcs7Unpadding strips PKCS#7 padding, checking every pad byte.
func Pkcs7Unpadding(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errPadding
	}
	paddingLength := int(data[len(data)-1])
	if paddingLength < 1 || paddingLength > blockSize {
		return nil, errPadding
	}
	for _, b := range data[len(data)-paddingLength:] {
		if int(b) != paddingLength {
			return nil, errPadding
		}
	}
	return data[:len(data)-paddingLength], nil
}

package license

import (
	"io"

	"github.com/devatadev/godrmcore/ecc"
)

// SessionKeySize is the length of the AES-128 session key.
const SessionKeySize = 16

// NewSessionKey picks a random curve point, encrypts it to the client's
// encryption key and returns the session key it encodes together with the
// ciphertext for SignedMessage.SessionKey.
func NewSessionKey(rand io.Reader, encryptionKey [ecc.PublicKeySize]byte) ([SessionKeySize]byte, [ecc.CiphertextSize]byte, error) {
	var key [SessionKeySize]byte
	point, err := ecc.RandomPoint(rand)
	if err != nil {
		return key, [ecc.CiphertextSize]byte{}, err
	}
	ct, err := ecc.EncryptWithRand(rand, encryptionKey, point)
	if err != nil {
		return key, ct, err
	}
	copy(key[:], point[16:32])
	return key, ct, nil
}

// RecoverSessionKey decrypts SignedMessage.SessionKey with the device
// encryption key. The session key is the low half of the point's X
// coordinate.
func RecoverSessionKey(priv [ecc.PrivateKeySize]byte, ciphertext []byte) ([SessionKeySize]byte, error) {
	var key [SessionKeySize]byte
	x, err := ecc.Decrypt(priv, ciphertext)
	if err != nil {
		return key, err
	}
	copy(key[:], x[16:])
	clear(x[:])
	return key, nil
}

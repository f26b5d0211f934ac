package license

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/chmike/cmac-go"

	"github.com/devatadev/godrmcore/drmerr"
)

const (
	encContextLabel = "ENCRYPTION\x00"
	macContextLabel = "AUTHENTICATION\x00"
)

// DerivedKeys are the per-transaction keys derived from a session key.
type DerivedKeys struct {
	Enc       [16]byte
	MacServer [32]byte
	MacClient [32]byte
}

// DeriveKeys runs the AES-CMAC KDF over the license request the client
// sent. sessionKey must be an AES-128 key.
func DeriveKeys(sessionKey, request []byte) (*DerivedKeys, error) {
	if len(sessionKey) != SessionKeySize {
		return nil, fmt.Errorf("%w: session key is %d bytes", drmerr.ErrMalformed, len(sessionKey))
	}
	encContext := kdfContext(encContextLabel, request, 128)
	macContext := kdfContext(macContextLabel, request, 512)

	k := &DerivedKeys{}
	steps := []struct {
		dst     []byte
		counter byte
		context []byte
	}{
		{k.Enc[:], 1, encContext},
		{k.MacServer[:16], 1, macContext},
		{k.MacServer[16:], 2, macContext},
		{k.MacClient[:16], 3, macContext},
		{k.MacClient[16:], 4, macContext},
	}
	for _, s := range steps {
		if err := cmacAES(s.dst, sessionKey, s.counter, s.context); err != nil {
			k.Wipe()
			return nil, err
		}
	}
	return k, nil
}

func kdfContext(label string, request []byte, bits uint32) []byte {
	b := make([]byte, 0, len(label)+len(request)+4)
	b = append(b, label...)
	b = append(b, request...)
	return binary.BigEndian.AppendUint32(b, bits)
}

func cmacAES(dst, key []byte, counter byte, context []byte) error {
	h, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return fmt.Errorf("cmac: %w", err)
	}
	h.Write([]byte{counter})
	h.Write(context)
	copy(dst, h.Sum(nil))
	return nil
}

// Authenticate checks the server's HMAC-SHA256 over msg.
func (k *DerivedKeys) Authenticate(msg, signature []byte) error {
	mac := hmac.New(sha256.New, k.MacServer[:])
	mac.Write(msg)
	if !hmac.Equal(mac.Sum(nil), signature) {
		return drmerr.ErrResponseAuthentication
	}
	return nil
}

// SignResponse computes the server-side HMAC over msg.
func (k *DerivedKeys) SignResponse(msg []byte) []byte {
	mac := hmac.New(sha256.New, k.MacServer[:])
	mac.Write(msg)
	return mac.Sum(nil)
}

// SignRenewal computes the client-side HMAC used on renewal requests.
func (k *DerivedKeys) SignRenewal(msg []byte) []byte {
	mac := hmac.New(sha256.New, k.MacClient[:])
	mac.Write(msg)
	return mac.Sum(nil)
}

// Wipe zeroes all key material.
func (k *DerivedKeys) Wipe() {
	clear(k.Enc[:])
	clear(k.MacServer[:])
	clear(k.MacClient[:])
}

// Package license derives session keys, authenticates license responses
// and unwraps the content keys they carry.
package license

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/google/uuid"

	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/kid"
)

// KeyError reports a key container that could not be unwrapped. It matches
// drmerr.ErrKeyUnwrap.
type KeyError struct {
	KID   uuid.UUID
	Index int
	Err   error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("key %d (%s): %v", e.Index, e.KID, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

func (e *KeyError) Is(target error) bool { return target == drmerr.ErrKeyUnwrap }

// Result holds every key that unwrapped and every one that did not.
type Result struct {
	Keys     []ContentKey
	Failures []*KeyError
}

// ContentKeys returns the keys of type Content.
func (r *Result) ContentKeys() []ContentKey {
	return r.ByType(KeyTypeContent)
}

func (r *Result) ByType(t KeyType) []ContentKey {
	var out []ContentKey
	for _, k := range r.Keys {
		if k.Type == t {
			out = append(out, k)
		}
	}
	return out
}

type unwrapOptions struct {
	guidKeyIDs bool
}

type Option func(*unwrapOptions)

// WithGUIDKeyIDs treats key IDs as mixed-endian GUIDs and swaps them into
// UUID order.
func WithGUIDKeyIDs() Option {
	return func(o *unwrapOptions) {
		o.guidKeyIDs = true
	}
}

// DeriveAndUnwrap authenticates an encoded license response and unwraps
// its keys. request is the license request message the session sent.
// An authentication failure is returned as an error; per-key failures are
// collected in Result.Failures.
func DeriveAndUnwrap(sessionKey, request, response []byte, opts ...Option) (*Result, error) {
	msg, err := UnmarshalSignedMessage(response)
	if err != nil {
		return nil, err
	}
	return Unwrap(sessionKey, request, msg, opts...)
}

// Unwrap is DeriveAndUnwrap for an already decoded response.
func Unwrap(sessionKey, request []byte, msg *SignedMessage, opts ...Option) (*Result, error) {
	o := &unwrapOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if msg.Type != MessageLicense {
		return nil, fmt.Errorf("%w: message type %d is not a license", drmerr.ErrMalformed, msg.Type)
	}

	keys, err := DeriveKeys(sessionKey, request)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe()

	if err := keys.Authenticate(msg.Msg, msg.Signature); err != nil {
		return nil, err
	}
	lic, err := UnmarshalLicense(msg.Msg)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for i, kc := range lic.Keys {
		id, err := keyID(kc.ID, o.guidKeyIDs)
		if err != nil {
			res.Failures = append(res.Failures, &KeyError{Index: i, Err: err})
			continue
		}
		key, err := decryptKey(keys.Enc[:], kc.IV, kc.Key)
		if err != nil {
			res.Failures = append(res.Failures, &KeyError{KID: id, Index: i, Err: err})
			continue
		}
		res.Keys = append(res.Keys, ContentKey{KID: id, Key: key, Type: kc.Type})
	}
	return res, nil
}

func keyID(raw []byte, guid bool) (uuid.UUID, error) {
	id, err := kid.Normalize(raw)
	if err != nil {
		return uuid.Nil, err
	}
	if guid {
		id = uuid.UUID(kid.SwapGUID(id))
	}
	return id, nil
}

func decryptKey(encKey, iv, wrapped []byte) ([]byte, error) {
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv is %d bytes", len(iv))
	}
	if len(wrapped) == 0 || len(wrapped)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("wrapped key is %d bytes", len(wrapped))
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(wrapped))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, wrapped)
	return Pkcs7Unpadding(plain, aes.BlockSize)
}

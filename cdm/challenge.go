package cdm

import (
	"fmt"

	"github.com/devatadev/godrmcore/bcert"
	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/ecc"
	"github.com/devatadev/godrmcore/license"
)

// Challenge is a license request whose client chain and signature have
// been verified.
type Challenge struct {
	Request *license.Request
	// Raw is the encoded request, the KDF context of the response.
	Raw    []byte
	Client *bcert.VerifiedKeys
}

// VerifyChallenge checks a challenge built by GetLicenseChallenge against
// the trusted root. This is the license server half of the exchange.
func VerifyChallenge(challenge []byte, root []byte) (*Challenge, error) {
	msg, err := license.UnmarshalSignedMessage(challenge)
	if err != nil {
		return nil, err
	}
	if msg.Type != license.MessageLicenseRequest {
		return nil, fmt.Errorf("%w: message type %d is not a license request", drmerr.ErrMalformed, msg.Type)
	}
	req, err := license.UnmarshalRequest(msg.Msg)
	if err != nil {
		return nil, err
	}
	chain, err := bcert.ParseChain(req.ClientChain)
	if err != nil {
		return nil, fmt.Errorf("client chain: %w", err)
	}
	client, err := bcert.VerifyChain(chain, root)
	if err != nil {
		return nil, err
	}
	var pub [ecc.PublicKeySize]byte
	copy(pub[:], client.SigningKey)
	if err := ecc.Verify(pub, msg.Msg, msg.Signature); err != nil {
		return nil, fmt.Errorf("challenge signature: %w", err)
	}
	return &Challenge{Request: req, Raw: msg.Msg, Client: client}, nil
}

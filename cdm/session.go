package cdm

import (
	"encoding/hex"

	"github.com/devatadev/godrmcore/bcert"
	"github.com/devatadev/godrmcore/license"
)

type Session struct {
	Number int
	ID     []byte
	// ServiceKeys are the verified keys of the license server, set by
	// SetServiceCertificate.
	ServiceKeys *bcert.VerifiedKeys
	// Request is the last license request sent, needed to derive the
	// response keys.
	Request  []byte
	Keys     []license.ContentKey
	Failures []*license.KeyError
}

func (s *Session) HexID() string {
	return hex.EncodeToString(s.ID)
}

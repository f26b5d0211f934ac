// Package cdm drives a device through license sessions: it builds signed
// license challenges and unwraps the keys of the responses.
package cdm

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/devatadev/godrmcore/bcert"
	"github.com/devatadev/godrmcore/device"
	"github.com/devatadev/godrmcore/ecc"
	"github.com/devatadev/godrmcore/license"
	"github.com/devatadev/godrmcore/pssh"
)

const (
	defaultMaxSessions = 16
	sessionIDLength    = 16
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many CDM sessions")
	ErrNoChallenge     = errors.New("no license challenge has been made")
	ErrNoTrustedRoot   = errors.New("no trusted root configured")
)

// CDM holds one device and its open sessions. It is safe for concurrent
// use.
type CDM struct {
	device      *device.Device
	rand        io.Reader
	now         func() time.Time
	verifier    *bcert.Verifier
	maxSessions int
	opts        []license.Option

	mu       sync.Mutex
	sessions map[string]*Session
	opened   int
}

type CDMOption func(*CDM)

func defaultCDMOptions() []CDMOption {
	return []CDMOption{
		WithRandom(rand.Reader),
		WithNow(time.Now),
		WithMaxSessions(defaultMaxSessions),
	}
}

// WithRandom sets the random source of the CDM. It must be
// cryptographically secure.
func WithRandom(r io.Reader) CDMOption {
	return func(c *CDM) {
		c.rand = r
	}
}

// WithNow sets the time now source of the CDM.
func WithNow(now func() time.Time) CDMOption {
	return func(c *CDM) {
		c.now = now
	}
}

// WithTrustedRoot pins the root key service certificates must chain to.
func WithTrustedRoot(root []byte) CDMOption {
	return WithRootSource(func() ([]byte, error) { return root, nil })
}

// WithRootSource fetches the trusted root on every verification.
func WithRootSource(root func() ([]byte, error)) CDMOption {
	return func(c *CDM) {
		c.verifier = bcert.NewVerifier(root)
	}
}

// WithMaxSessions caps the number of concurrently open sessions.
func WithMaxSessions(n int) CDMOption {
	return func(c *CDM) {
		c.maxSessions = n
	}
}

// WithLicenseOptions passes options to every license unwrap.
func WithLicenseOptions(opts ...license.Option) CDMOption {
	return func(c *CDM) {
		c.opts = append(c.opts, opts...)
	}
}

// NewCDM creates a new CDM for d.
func NewCDM(d *device.Device, opts ...CDMOption) *CDM {
	if d == nil {
		panic("device cannot be nil")
	}
	c := &CDM{
		device:   d,
		sessions: map[string]*Session{},
	}
	for _, opt := range defaultCDMOptions() {
		opt(c)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CDM) Device() *device.Device {
	return c.device
}

// OpenSession opens a new session.
func (c *CDM) OpenSession() (*Session, error) {
	id := make([]byte, sessionIDLength)
	if _, err := io.ReadFull(c.rand, id); err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sessions) >= c.maxSessions {
		return nil, ErrTooManySessions
	}
	c.opened++
	s := &Session{Number: c.opened, ID: id}
	c.sessions[string(id)] = s
	glog.V(1).Infof("cdm: opened session %d (%s)", s.Number, s.HexID())
	return s.clone(), nil
}

// CloseSession closes a session.
func (c *CDM) CloseSession(sessionID []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[string(sessionID)]
	if !ok {
		return ErrSessionNotFound
	}
	delete(c.sessions, string(sessionID))
	glog.V(1).Infof("cdm: closed session %d (%s)", s.Number, s.HexID())
	return nil
}

// GetSession returns a snapshot of a session.
func (c *CDM) GetSession(sessionID []byte) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[string(sessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

// SetServiceCertificate verifies a license server certificate chain and
// stores its keys on the session.
func (c *CDM) SetServiceCertificate(sessionID []byte, chain []byte) (*bcert.VerifiedKeys, error) {
	if c.verifier == nil {
		return nil, ErrNoTrustedRoot
	}
	parsed, err := bcert.ParseChain(chain)
	if err != nil {
		return nil, fmt.Errorf("parse service certificate: %w", err)
	}
	keys, err := c.verifier.Verify(parsed)
	if err != nil {
		return nil, fmt.Errorf("verify service certificate: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[string(sessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.ServiceKeys = keys
	return keys, nil
}

// GetLicenseChallenge returns a signed license request for the content
// described by p.
func (c *CDM) GetLicenseChallenge(sessionID []byte, p *pssh.PSSH, typ license.LicenseType) ([]byte, error) {
	var nonce [12]byte
	if _, err := io.ReadFull(c.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("request nonce: %w", err)
	}
	req := &license.Request{
		ClientChain: c.device.CertificateChain,
		PSSHData:    [][]byte{p.Data()},
		LicenseType: typ,
		RequestID: []byte(fmt.Sprintf("%08X%08X0100000000000000",
			binary.BigEndian.Uint32(nonce[0:4]),
			binary.BigEndian.Uint32(nonce[4:8]))),
		RequestTime: c.now().Unix(),
		Nonce:       binary.BigEndian.Uint32(nonce[8:12]),
	}
	reqData := req.Marshal()

	sig, err := ecc.Sign(c.device.SigningKey.Private, reqData)
	if err != nil {
		return nil, fmt.Errorf("sign license request: %w", err)
	}
	msg := &license.SignedMessage{
		Type:      license.MessageLicenseRequest,
		Msg:       reqData,
		Signature: sig[:],
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[string(sessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.Request = reqData
	return msg.Marshal(), nil
}

// ParseLicense authenticates a license response and stores its keys on the
// session. Keys that fail to unwrap are kept in Session.Failures.
func (c *CDM) ParseLicense(sessionID []byte, response []byte) error {
	c.mu.Lock()
	s, ok := c.sessions[string(sessionID)]
	var request []byte
	if ok {
		request = s.Request
	}
	c.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if request == nil {
		return ErrNoChallenge
	}

	msg, err := license.UnmarshalSignedMessage(response)
	if err != nil {
		return fmt.Errorf("parse license: %w", err)
	}
	sessionKey, err := license.RecoverSessionKey(c.device.EncryptionKey.Private, msg.SessionKey)
	if err != nil {
		return fmt.Errorf("decrypt session key: %w", err)
	}
	res, err := license.Unwrap(sessionKey[:], request, msg, c.opts...)
	clear(sessionKey[:])
	if err != nil {
		return fmt.Errorf("parse license: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.sessions[string(sessionID)]; !ok {
		return ErrSessionNotFound
	}
	s.Keys = res.Keys
	s.Failures = res.Failures
	glog.V(1).Infof("cdm: session %d license parsed, %d keys, %d failed", s.Number, len(res.Keys), len(res.Failures))
	return nil
}

// GetKeys returns every key of the session.
func (c *CDM) GetKeys(sessionID []byte) ([]license.ContentKey, error) {
	s, err := c.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.Keys, nil
}

// GetKeysByType returns the session keys of type t.
func (c *CDM) GetKeysByType(sessionID []byte, t license.KeyType) ([]license.ContentKey, error) {
	s, err := c.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	res := license.Result{Keys: s.Keys}
	return res.ByType(t), nil
}

// clone returns a copy that shares no mutable state with s.
func (s *Session) clone() *Session {
	cp := *s
	cp.ID = bytes.Clone(s.ID)
	cp.Request = bytes.Clone(s.Request)
	if s.ServiceKeys != nil {
		keys := *s.ServiceKeys
		keys.SigningKey = bytes.Clone(keys.SigningKey)
		keys.EncryptionKey = bytes.Clone(keys.EncryptionKey)
		cp.ServiceKeys = &keys
	}
	if s.Keys != nil {
		cp.Keys = make([]license.ContentKey, len(s.Keys))
		for i, k := range s.Keys {
			k.Key = bytes.Clone(k.Key)
			cp.Keys[i] = k
		}
	}
	cp.Failures = slices.Clone(s.Failures)
	return &cp
}

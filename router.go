package main

import (
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"github.com/devatadev/godrmcore/cdm"
	"github.com/devatadev/godrmcore/device"
	"github.com/devatadev/godrmcore/license"
	"github.com/devatadev/godrmcore/pssh"
)

const secretKeyHeader = "X-Secret-Key"

type server struct {
	config  *Config
	devices map[string]*device.Device
	cdmOpts []cdm.CDMOption

	mu     sync.Mutex
	opened map[string]*cdm.CDM
}

type KeyResponseItem struct {
	KeyId string `json:"key_id"`
	Key   string `json:"key"`
	Type  string `json:"type"`
}

type sessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

type certificateRequest struct {
	SessionID   string `json:"session_id" binding:"required"`
	Certificate string `json:"certificate" binding:"required"`
}

type challengeRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	InitData  string `json:"init_data" binding:"required"`
}

type licenseRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	License   string `json:"license" binding:"required"`
}

func newServer(config *Config, devices map[string]*device.Device, root []byte, opts ...cdm.CDMOption) *server {
	if root != nil {
		opts = append([]cdm.CDMOption{cdm.WithTrustedRoot(root)}, opts...)
	}
	return &server{
		config:  config,
		devices: devices,
		cdmOpts: opts,
		opened:  map[string]*cdm.CDM{},
	}
}

func respond(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"status":  status,
		"message": message,
	})
}

func respondData(c *gin.Context, data gin.H) {
	c.JSON(http.StatusOK, gin.H{
		"status":  http.StatusOK,
		"message": "Success",
		"data":    data,
	})
}

func (s *server) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if gin.Mode() == gin.DebugMode {
		router.Use(gin.Logger())
	}
	// set response headers
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, "+secretKeyHeader)
		c.Header("X-Request-Via", "GoDRMCore")
		c.Next()
	})

	router.GET("/", func(c *gin.Context) {
		respond(c, http.StatusOK, "GoDRMCore is running!")
	})
	router.HEAD("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/ping", func(c *gin.Context) {
		respond(c, http.StatusOK, "pong")
	})

	dev := router.Group("/:device", s.authorize)
	dev.GET("/open", s.open)
	dev.GET("/close/:session_id", s.close)
	dev.POST("/set_service_certificate", s.setServiceCertificate)
	dev.POST("/get_license_challenge/:license_type", s.getLicenseChallenge)
	dev.POST("/parse_license", s.parseLicense)
	dev.POST("/get_keys/:key_type", s.getKeys)
	return router
}

// authorize checks the secret key header and that its user may use the
// requested device.
func (s *server) authorize(c *gin.Context) {
	secretKey := c.GetHeader(secretKeyHeader)
	user, ok := s.config.Users[secretKey]
	if secretKey == "" || !ok || user.Name == "" {
		respond(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if !slices.Contains(user.Devices, c.Param("device")) {
		respond(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	c.Set("secret_key", secretKey)
	c.Next()
}

// cdmKey scopes CDM instances to one user and one device.
func cdmKey(c *gin.Context) string {
	return c.GetString("secret_key") + "/" + c.Param("device")
}

func (s *server) openedCDM(c *gin.Context) *cdm.CDM {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened[cdmKey(c)]
}

// sessionCDM resolves the CDM and session ID of a request, answering the
// request itself on failure.
func (s *server) sessionCDM(c *gin.Context, sessionID string) (*cdm.CDM, []byte, bool) {
	client := s.openedCDM(c)
	if client == nil {
		respond(c, http.StatusBadRequest, "Opened session not found")
		return nil, nil, false
	}
	id, err := hex.DecodeString(sessionID)
	if err != nil {
		respond(c, http.StatusBadRequest, "Failed to decode session id")
		return nil, nil, false
	}
	return client, id, true
}

func (s *server) open(c *gin.Context) {
	d, ok := s.devices[c.Param("device")]
	if !ok {
		respond(c, http.StatusNotFound, "Device not found")
		return
	}

	s.mu.Lock()
	key := cdmKey(c)
	client := s.opened[key]
	if client == nil {
		client = cdm.NewCDM(d, s.cdmOpts...)
		s.opened[key] = client
	}
	s.mu.Unlock()

	session, err := client.OpenSession()
	if err != nil {
		respond(c, http.StatusBadRequest, "Failed to open session : "+err.Error())
		return
	}
	respondData(c, gin.H{
		"session_id":     session.HexID(),
		"security_level": d.SecurityLevel,
	})
}

func (s *server) close(c *gin.Context) {
	client, id, ok := s.sessionCDM(c, c.Param("session_id"))
	if !ok {
		return
	}
	if err := client.CloseSession(id); err != nil {
		respond(c, http.StatusBadRequest, "Failed to close session")
		return
	}
	respond(c, http.StatusOK, "Session closed")
}

func (s *server) setServiceCertificate(c *gin.Context) {
	var body certificateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, "Session id or certificate not found")
		return
	}
	client, id, ok := s.sessionCDM(c, body.SessionID)
	if !ok {
		return
	}
	certificate, err := base64.StdEncoding.DecodeString(body.Certificate)
	if err != nil {
		respond(c, http.StatusBadRequest, "Failed to decode certificate")
		return
	}
	keys, err := client.SetServiceCertificate(id, certificate)
	if err != nil {
		glog.Warningf("set_service_certificate on %s: %v", c.Param("device"), err)
		respond(c, http.StatusBadRequest, "Failed to set service certificate : "+err.Error())
		return
	}
	respondData(c, gin.H{
		"security_level": keys.SecurityLevel,
	})
}

func (s *server) getLicenseChallenge(c *gin.Context) {
	var body challengeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, "Session id or init_data not found")
		return
	}
	licenseType, err := license.ParseLicenseType(strings.ToUpper(c.Param("license_type")))
	if err != nil {
		respond(c, http.StatusBadRequest, "Failed to map license type")
		return
	}
	client, id, ok := s.sessionCDM(c, body.SessionID)
	if !ok {
		return
	}
	initData, err := base64.StdEncoding.DecodeString(body.InitData)
	if err != nil {
		respond(c, http.StatusBadRequest, "Failed to decode pssh")
		return
	}
	box, err := pssh.Parse(initData)
	if err != nil {
		respond(c, http.StatusBadRequest, "Failed to parse pssh : "+err.Error())
		return
	}
	challenge, err := client.GetLicenseChallenge(id, box, licenseType)
	if err != nil {
		respond(c, http.StatusBadRequest, "Failed to get license challenge : "+err.Error())
		return
	}
	respondData(c, gin.H{
		"challenge_b64": base64.StdEncoding.EncodeToString(challenge),
	})
}

func (s *server) parseLicense(c *gin.Context) {
	var body licenseRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, "Session id or license not found")
		return
	}
	client, id, ok := s.sessionCDM(c, body.SessionID)
	if !ok {
		return
	}
	response, err := base64.StdEncoding.DecodeString(body.License)
	if err != nil {
		respond(c, http.StatusBadRequest, "Failed to decode license")
		return
	}
	if err := client.ParseLicense(id, response); err != nil {
		glog.Warningf("parse_license on %s: %v", c.Param("device"), err)
		respond(c, http.StatusBadRequest, "Failed to parse license : "+err.Error())
		return
	}
	respond(c, http.StatusOK, "Success")
}

func (s *server) getKeys(c *gin.Context) {
	var body sessionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, "Session id not found")
		return
	}
	client, id, ok := s.sessionCDM(c, body.SessionID)
	if !ok {
		return
	}

	var keys []license.ContentKey
	var err error
	if keyType := c.Param("key_type"); strings.EqualFold(keyType, "all") {
		keys, err = client.GetKeys(id)
	} else {
		var t license.KeyType
		if t, err = license.ParseKeyType(keyType); err != nil {
			respond(c, http.StatusBadRequest, "Failed to map key type")
			return
		}
		keys, err = client.GetKeysByType(id, t)
	}
	if err != nil {
		respond(c, http.StatusBadRequest, "Failed to get keys : "+err.Error())
		return
	}

	items := make([]*KeyResponseItem, 0, len(keys))
	for _, key := range keys {
		items = append(items, &KeyResponseItem{
			KeyId: hex.EncodeToString(key.KID[:]),
			Key:   hex.EncodeToString(key.Key),
			Type:  key.Type.String(),
		})
	}
	respondData(c, gin.H{
		"keys": items,
	})
}

// Package signer computes the HMAC Authorization header attached to every
// API request.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// DefaultService is the service name prefixed to every signature header.
const DefaultService = "CWS"

// ErrMissingCredentials is returned when the token or secret is empty.
var ErrMissingCredentials = errors.New("signer: token and secret are required")

// Signer produces an Authorization header value for a request.
// body must be the exact bytes sent on the wire; nil means no body.
type Signer interface {
	Sign(method, resource, contentType string, body []byte) string
}

// HMACSigner signs requests with HMAC-SHA256 over a canonical request string.
type HMACSigner struct {
	service string
	token   string
	secret  []byte
}

// NewHMACSigner creates a signer for the given credential pair.
func NewHMACSigner(service, token, secret string) (*HMACSigner, error) {
	if token == "" || secret == "" {
		return nil, ErrMissingCredentials
	}
	if service == "" {
		service = DefaultService
	}

	return &HMACSigner{
		service: service,
		token:   token,
		secret:  []byte(secret),
	}, nil
}

// Sign implements Signer.
//
// Format: "<service> <token>:<base64(HMAC-SHA256(secret, canonical))>"
// where canonical is METHOD, resource, content type and the hex SHA-256 of
// the body joined by newlines.
func (s *HMACSigner) Sign(method, resource, contentType string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(CanonicalString(method, resource, contentType, body)))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return s.service + " " + s.token + ":" + sig
}

// Token returns the credential id the signer was built with.
func (s *HMACSigner) Token() string {
	return s.token
}

// CanonicalString builds the string that gets signed.
func CanonicalString(method, resource, contentType string, body []byte) string {
	digest := sha256.Sum256(body)

	return strings.Join([]string{
		strings.ToUpper(method),
		resource,
		contentType,
		hex.EncodeToString(digest[:]),
	}, "\n")
}

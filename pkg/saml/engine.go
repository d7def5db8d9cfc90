// Package saml implements the SAML 2.0 service-provider side of the login
// flow: AuthnRequest construction for the HTTP-Redirect binding, response
// validation against the identity provider's certificate, and attribute
// extraction.
package saml

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	saml2 "github.com/russellhaering/gosaml2"
	"github.com/russellhaering/gosaml2/types"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/platinummonkey/dashborion/pkg/observability"
)

var (
	// ErrInvalidAssertion is the single outcome for every structural,
	// signature, temporal, or audience failure. Callers must not branch
	// user-visible behavior on which check failed; the precise reason goes
	// to server logs only.
	ErrInvalidAssertion = errors.New("invalid SAML assertion")

	// ErrMissingEmail is returned for a structurally valid assertion that
	// carries no email attribute. Distinct because permission derivation
	// cannot proceed without one.
	ErrMissingEmail = errors.New("SAML assertion is missing an email attribute")
)

const redirectBinding = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"

// Attributes is the identity extracted from a validated assertion.
type Attributes struct {
	Email       string
	NameID      string
	DisplayName string
	Groups      []string
	MFAVerified bool
}

// AttributeNames maps assertion attribute names onto the identity model.
type AttributeNames struct {
	Email       string
	DisplayName string
	Groups      string
	MFA         string
}

// Options configures the engine.
type Options struct {
	// EntityID is this service provider's issuer and audience URI.
	EntityID string
	// ACSURL is the externally visible assertion consumer endpoint.
	ACSURL string
	// MetadataXML is the identity provider's metadata document.
	MetadataXML []byte
	// SignRequests enables AuthnRequest signing; requires SPCertPEM/SPKeyPEM.
	SignRequests bool
	SPCertPEM    []byte
	SPKeyPEM     []byte
	// ClockSkew is the allowance applied when the IdP and this service
	// disagree slightly on time.
	ClockSkew time.Duration

	Attributes AttributeNames
}

// Engine validates SAML responses and builds login redirects. The underlying
// service provider is rebuilt atomically on metadata reload.
type Engine struct {
	opts   Options
	logger *observability.Logger

	mu sync.RWMutex
	sp *saml2.SAMLServiceProvider
}

// NewEngine builds an engine from identity-provider metadata.
func NewEngine(opts Options, logger *observability.Logger) (*Engine, error) {
	if opts.EntityID == "" {
		return nil, fmt.Errorf("entity ID is required")
	}
	if opts.ACSURL == "" {
		return nil, fmt.Errorf("ACS URL is required")
	}

	e := &Engine{opts: opts, logger: logger}
	if err := e.Reload(opts.MetadataXML); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload rebuilds the service provider from new identity-provider metadata.
// In-flight validations finish against the old provider.
func (e *Engine) Reload(metadataXML []byte) error {
	sp, err := e.buildServiceProvider(metadataXML)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.sp = sp
	e.mu.Unlock()
	return nil
}

func (e *Engine) serviceProvider() *saml2.SAMLServiceProvider {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sp
}

func (e *Engine) buildServiceProvider(metadataXML []byte) (*saml2.SAMLServiceProvider, error) {
	metadata := &types.EntityDescriptor{}
	if err := xml.Unmarshal(metadataXML, metadata); err != nil {
		return nil, fmt.Errorf("failed to parse IdP metadata: %w", err)
	}
	if metadata.IDPSSODescriptor == nil {
		return nil, fmt.Errorf("IdP metadata has no IDPSSODescriptor")
	}

	certStore := &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{}}
	for _, kd := range metadata.IDPSSODescriptor.KeyDescriptors {
		for _, xcert := range kd.KeyInfo.X509Data.X509Certificates {
			if xcert.Data == "" {
				continue
			}
			certData, err := base64.StdEncoding.DecodeString(strings.TrimSpace(xcert.Data))
			if err != nil {
				return nil, fmt.Errorf("failed to decode IdP certificate: %w", err)
			}
			cert, err := x509.ParseCertificate(certData)
			if err != nil {
				return nil, fmt.Errorf("failed to parse IdP certificate: %w", err)
			}
			certStore.Roots = append(certStore.Roots, cert)
		}
	}
	if len(certStore.Roots) == 0 {
		return nil, fmt.Errorf("IdP metadata contains no signing certificates")
	}

	var ssoURL string
	for _, svc := range metadata.IDPSSODescriptor.SingleSignOnServices {
		if svc.Binding == redirectBinding {
			ssoURL = svc.Location
			break
		}
	}
	if ssoURL == "" {
		return nil, fmt.Errorf("IdP metadata has no HTTP-Redirect SSO endpoint")
	}

	var keyStore dsig.X509KeyStore
	if e.opts.SignRequests {
		ks, err := parseKeyStore(e.opts.SPCertPEM, e.opts.SPKeyPEM)
		if err != nil {
			return nil, err
		}
		keyStore = ks
	}

	return &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      ssoURL,
		IdentityProviderIssuer:      metadata.EntityID,
		ServiceProviderIssuer:       e.opts.EntityID,
		AssertionConsumerServiceURL: e.opts.ACSURL,
		SignAuthnRequests:           e.opts.SignRequests,
		AudienceURI:                 e.opts.EntityID,
		IDPCertificateStore:         certStore,
		SPKeyStore:                  keyStore,
	}, nil
}

func parseKeyStore(certPEM, keyPEM []byte) (dsig.X509KeyStore, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("failed to decode SP certificate PEM")
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode SP private key PEM")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SP private key: %w", err)
		}
		var ok bool
		privateKey, ok = pkcs8Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("SP private key is not RSA")
		}
	}

	return &dsig.TLSCertKeyStore{
		PrivateKey:  privateKey,
		Certificate: [][]byte{certBlock.Bytes},
	}, nil
}

// BuildLoginRedirect constructs the IdP redirect URL for the HTTP-Redirect
// binding, carrying relayState so the original destination survives the
// round trip through the IdP.
func (e *Engine) BuildLoginRedirect(relayState string) (string, error) {
	authURL, err := e.serviceProvider().BuildAuthURL(relayState)
	if err != nil {
		return "", fmt.Errorf("failed to build auth URL: %w", err)
	}
	return authURL, nil
}

// failure reasons are logged with precision; the returned error never
// distinguishes them.
const (
	reasonNoResponse = "no_response"
	reasonValidation = "validation"
	reasonTime       = "time"
	reasonAudience   = "audience"
)

// ValidateResponse verifies a base64-encoded SAMLResponse and extracts the
// identity attributes. Every verification failure returns ErrInvalidAssertion;
// a valid assertion with no email attribute returns ErrMissingEmail.
func (e *Engine) ValidateResponse(encodedResponse string) (*Attributes, error) {
	if encodedResponse == "" {
		return nil, e.fail(reasonNoResponse, nil)
	}

	info, err := e.serviceProvider().RetrieveAssertionInfo(encodedResponse)
	if err != nil {
		return nil, e.fail(reasonValidation, err)
	}

	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime && !e.withinSkew(info) {
			return nil, e.fail(reasonTime, nil)
		}
		if info.WarningInfo.NotInAudience {
			return nil, e.fail(reasonAudience, nil)
		}
	}

	return e.extractAttributes(info)
}

func (e *Engine) fail(reason string, err error) error {
	log := e.logger.WithField("reason", reason)
	if err != nil {
		log = log.WithError(err)
	}
	log.Warn("SAML assertion rejected")
	return ErrInvalidAssertion
}

// withinSkew re-checks assertion conditions with the configured clock-skew
// allowance. The library validates strictly; a small disagreement between
// the IdP clock and ours must not fail logins.
func (e *Engine) withinSkew(info *saml2.AssertionInfo) bool {
	now := time.Now()
	for _, assertion := range info.Assertions {
		if assertion.Conditions == nil {
			continue
		}
		if nb, err := time.Parse(time.RFC3339, assertion.Conditions.NotBefore); err == nil {
			if now.Add(e.opts.ClockSkew).Before(nb) {
				return false
			}
		}
		if noa, err := time.Parse(time.RFC3339, assertion.Conditions.NotOnOrAfter); err == nil {
			if !now.Add(-e.opts.ClockSkew).Before(noa) {
				return false
			}
		}
	}
	return true
}

func (e *Engine) extractAttributes(info *saml2.AssertionInfo) (*Attributes, error) {
	attrs := &Attributes{NameID: info.NameID}

	for _, attr := range info.Values {
		if len(attr.Values) == 0 {
			continue
		}
		switch attr.Name {
		case e.opts.Attributes.Email:
			attrs.Email = attr.Values[0].Value
		case e.opts.Attributes.DisplayName:
			attrs.DisplayName = attr.Values[0].Value
		case e.opts.Attributes.Groups:
			for _, v := range attr.Values {
				if v.Value != "" {
					attrs.Groups = append(attrs.Groups, v.Value)
				}
			}
		case e.opts.Attributes.MFA:
			attrs.MFAVerified = attr.Values[0].Value == "true" || attr.Values[0].Value == "1"
		}
	}

	if attrs.Email == "" {
		e.logger.Warn("SAML assertion has no email attribute")
		return nil, ErrMissingEmail
	}
	if attrs.NameID == "" {
		attrs.NameID = attrs.Email
	}
	if attrs.DisplayName == "" {
		attrs.DisplayName = attrs.Email
	}

	return attrs, nil
}

// Metadata renders this service provider's metadata document for IdP
// registration.
func (e *Engine) Metadata() ([]byte, error) {
	sp := e.serviceProvider()
	metadataXML := fmt.Sprintf(`<?xml version="1.0"?>
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata"
                     entityID="%s">
  <md:SPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
                                 Location="%s"
                                 index="1"/>
  </md:SPSSODescriptor>
</md:EntityDescriptor>`,
		sp.ServiceProviderIssuer,
		sp.AssertionConsumerServiceURL)

	return []byte(metadataXML), nil
}

package devicecode

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/dashborion/pkg/observability"
	"github.com/platinummonkey/dashborion/pkg/token"
)

// Config holds the flow's timing and presentation parameters.
type Config struct {
	// CodeTTL is how long a code stays approvable. Ten minutes by default;
	// a user walking to a browser should make it, a forgotten terminal
	// should not.
	CodeTTL time.Duration
	// PollInterval is the minimum seconds between CLI polls, advertised in
	// the initiation response.
	PollInterval time.Duration
	// TokenTTL is the lifetime of issued access tokens.
	TokenTTL time.Duration
	// VerificationURL is where the user enters the user code.
	VerificationURL string
}

// Grant is the initiation response handed to the CLI.
type Grant struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// Tokens is the pair issued on a successful poll.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Service drives the device authorization flow.
type Service struct {
	store   Store
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService creates the device-flow service.
func NewService(store Store, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{store: store, cfg: cfg, logger: logger, metrics: metrics}
}

// Initiate creates a pending code pair for a CLI client. The device code in
// the response is the only copy; the store holds its hash.
func (s *Service) Initiate(ctx context.Context) (*Grant, error) {
	deviceCode, err := newDeviceCode()
	if err != nil {
		return nil, err
	}
	userCode, err := newUserCode()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	code := &Code{
		DeviceCodeHash: token.Hash(deviceCode),
		UserCode:       userCode,
		Status:         StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.CodeTTL),
	}
	if err := s.store.SaveCode(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to persist device code: %w", err)
	}

	s.metrics.DeviceCodesIssuedTotal.Inc()
	s.logger.WithField("user_code", userCode).Debug("device code issued")

	return &Grant{
		DeviceCode:      deviceCode,
		UserCode:        userCode,
		VerificationURL: s.cfg.VerificationURL,
		ExpiresIn:       int(s.cfg.CodeTTL.Seconds()),
		Interval:        int(s.cfg.PollInterval.Seconds()),
	}, nil
}

// Verify approves a pending user code on behalf of an authenticated user.
func (s *Service) Verify(ctx context.Context, userCode, approvedBy string) error {
	code, err := s.store.GetByUserCode(ctx, userCode)
	if err != nil {
		if err == ErrNotFound {
			s.metrics.DeviceCodeApprovalsTotal.WithLabelValues("unknown").Inc()
			return ErrUnknownCode
		}
		return fmt.Errorf("device code lookup failed: %w", err)
	}

	switch code.EffectiveStatus(time.Now()) {
	case StatusPending:
	case StatusExpired:
		s.metrics.DeviceCodeApprovalsTotal.WithLabelValues("expired").Inc()
		return ErrCodeExpired
	default:
		s.metrics.DeviceCodeApprovalsTotal.WithLabelValues("already_used").Inc()
		return ErrCodeConsumed
	}

	code.Status = StatusApproved
	code.ApprovedBy = approvedBy
	if err := s.store.SaveCode(ctx, code); err != nil {
		return fmt.Errorf("failed to approve device code: %w", err)
	}

	s.metrics.DeviceCodeApprovalsTotal.WithLabelValues("approved").Inc()
	s.logger.WithFields(map[string]interface{}{
		"user_code":   userCode,
		"approved_by": approvedBy,
	}).Info("device code approved")
	return nil
}

// Poll exchanges an approved device code for a token pair. Codes are
// one-time use: the record is deleted on success.
func (s *Service) Poll(ctx context.Context, deviceCode string) (*Tokens, error) {
	hash := token.Hash(deviceCode)
	code, err := s.store.GetByDeviceHash(ctx, hash)
	if err != nil {
		if err == ErrNotFound {
			s.metrics.DeviceCodePollsTotal.WithLabelValues("unknown").Inc()
			return nil, ErrUnknownCode
		}
		return nil, fmt.Errorf("device code lookup failed: %w", err)
	}

	switch code.EffectiveStatus(time.Now()) {
	case StatusPending:
		s.metrics.DeviceCodePollsTotal.WithLabelValues("pending").Inc()
		return nil, ErrAuthorizationPending
	case StatusExpired:
		s.metrics.DeviceCodePollsTotal.WithLabelValues("expired").Inc()
		return nil, ErrCodeExpired
	case StatusConsumed:
		s.metrics.DeviceCodePollsTotal.WithLabelValues("consumed").Inc()
		return nil, ErrCodeConsumed
	}

	tokens, err := s.issueTokens(ctx, code.ApprovedBy)
	if err != nil {
		return nil, err
	}

	// One-time use: drop the record so a replayed poll gets a terminal
	// answer instead of a second token pair.
	if err := s.store.DeleteCode(ctx, hash); err != nil {
		return nil, fmt.Errorf("failed to consume device code: %w", err)
	}

	s.metrics.DeviceCodePollsTotal.WithLabelValues("issued").Inc()
	s.logger.WithField("subject", code.ApprovedBy).Info("device tokens issued")
	return tokens, nil
}

func (s *Service) issueTokens(ctx context.Context, subject string) (*Tokens, error) {
	access, accessHash, _, err := token.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refresh, refreshHash, _, err := token.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := time.Now().UTC()
	records := []*TokenRecord{
		{TokenHash: accessHash, Kind: "access", Subject: subject, IssuedAt: now, ExpiresAt: now.Add(s.cfg.TokenTTL)},
		{TokenHash: refreshHash, Kind: "refresh", Subject: subject, IssuedAt: now, ExpiresAt: now.Add(30 * 24 * time.Hour)},
	}
	for _, rec := range records {
		if err := s.store.SaveToken(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to persist token: %w", err)
		}
	}

	return &Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.TokenTTL.Seconds()),
	}, nil
}

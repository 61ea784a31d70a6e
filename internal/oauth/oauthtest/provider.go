// Package oauthtest provides a scripted oauth.Provider for tests.
package oauthtest

import (
	"context"
	"sync"

	"github.com/fuomag9/creator-connect/internal/oauth"
)

// Provider returns canned responses and records calls.
type Provider struct {
	PlatformName string
	Unconfigured bool

	Token      *oauth.TokenResponse
	TokenErr   error
	Profile    *oauth.ExternalProfile
	ProfileErr error

	// ExchangePanic, when set, is panicked with from ExchangeCode.
	ExchangePanic any

	mu            sync.Mutex
	exchangeCalls int
	profileCalls  int
	lastCode      string
	lastVerifier  string
}

func (p *Provider) Name() string {
	if p.PlatformName == "" {
		return "tiktok"
	}
	return p.PlatformName
}

func (p *Provider) Configured() bool {
	return !p.Unconfigured
}

func (p *Provider) AuthorizationURL(state, codeChallenge string) (string, error) {
	if p.Unconfigured {
		return "", oauth.ErrNotConfigured
	}
	return "https://auth.example.com/authorize?state=" + state + "&code_challenge=" + codeChallenge, nil
}

func (p *Provider) ExchangeCode(_ context.Context, code, codeVerifier string) (*oauth.TokenResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchangeCalls++
	p.lastCode = code
	p.lastVerifier = codeVerifier
	if p.ExchangePanic != nil {
		panic(p.ExchangePanic)
	}
	if p.TokenErr != nil {
		return nil, p.TokenErr
	}
	token := *p.Token
	return &token, nil
}

func (p *Provider) FetchProfile(_ context.Context, _ string) (*oauth.ExternalProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profileCalls++
	if p.ProfileErr != nil {
		return nil, p.ProfileErr
	}
	profile := *p.Profile
	return &profile, nil
}

// Calls returns the number of exchange and profile calls made.
func (p *Provider) Calls() (exchange, profile int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeCalls, p.profileCalls
}

// LastExchange returns the code and verifier of the most recent exchange.
func (p *Provider) LastExchange() (code, verifier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCode, p.lastVerifier
}

var _ oauth.Provider = (*Provider)(nil)

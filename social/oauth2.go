package social

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuth2Provider adapts an oauth2.Config to Provider. It is the base for the
// enterprise and Google providers, whose token endpoints speak plain OAuth2.
type OAuth2Provider struct {
	name       string
	config     *oauth2.Config
	httpClient *http.Client
}

var _ Provider = (*OAuth2Provider)(nil)

// OAuth2Option customizes an OAuth2Provider.
type OAuth2Option func(*OAuth2Provider)

// WithHTTPClient sets the client used for token exchange.
func WithHTTPClient(client *http.Client) OAuth2Option {
	return func(p *OAuth2Provider) {
		p.httpClient = client
	}
}

// NewOAuth2Provider wraps config under name.
func NewOAuth2Provider(name string, config *oauth2.Config, opts ...OAuth2Option) *OAuth2Provider {
	p := &OAuth2Provider{name: name, config: config}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Name implements Provider.
func (p *OAuth2Provider) Name() string {
	return p.name
}

// Config returns the underlying oauth2 configuration.
func (p *OAuth2Provider) Config() *oauth2.Config {
	return p.config
}

// AuthCodeURL implements Provider.
func (p *OAuth2Provider) AuthCodeURL(state string, opts ...AuthCodeOption) string {
	cfg := ApplyAuthCodeOptions(p.config.Scopes, opts...)

	conf := *p.config
	conf.Scopes = cfg.Scopes

	params := []oauth2.AuthCodeOption{}
	if cfg.CodeChallenge != "" {
		params = append(params,
			oauth2.SetAuthURLParam("code_challenge", cfg.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", cfg.CodeChallengeMethod),
		)
	}
	if cfg.Nonce != "" {
		params = append(params, oauth2.SetAuthURLParam("nonce", cfg.Nonce))
	}
	if cfg.Prompt != "" {
		params = append(params, oauth2.SetAuthURLParam("prompt", cfg.Prompt))
	}

	return conf.AuthCodeURL(state, params...)
}

// Exchange implements Provider.
func (p *OAuth2Provider) Exchange(ctx context.Context, code string, opts ...ExchangeOption) (*Token, error) {
	cfg := ApplyExchangeOptions(opts...)
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	params := []oauth2.AuthCodeOption{}
	if cfg.CodeVerifier != "" {
		params = append(params, oauth2.VerifierOption(cfg.CodeVerifier))
	}

	tok, err := p.config.Exchange(ctx, code, params...)
	if err != nil {
		return nil, p.exchangeError(err)
	}

	out := &Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scopes:       p.config.Scopes,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = idToken
	}
	return out, nil
}

func (p *OAuth2Provider) exchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr != nil {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &ProviderError{
			Provider:    p.name,
			Operation:   "exchange",
			Status:      status,
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
			Err:         err,
		}
	}
	return &ProviderError{Provider: p.name, Operation: "exchange", Err: err}
}

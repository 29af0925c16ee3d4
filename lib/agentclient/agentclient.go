// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentclient is the agent-side access path: it holds an
// agent's private key loaded from its keyfile, signs access requests,
// and hands back cookies in forms automation code can use directly.
// Agent frameworks embed a Client; they never see the vault
// passphrase or any session but the ones their scopes grant.
package agentclient

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/agentvault/agentvault/lib/identity"
	"github.com/agentvault/agentvault/lib/proof"
	"github.com/agentvault/agentvault/lib/session"
	"github.com/agentvault/agentvault/lib/vault"
)

// Client retrieves sessions on behalf of one agent identity.
type Client struct {
	service    *vault.Service
	identityID string
	privateKey ed25519.PrivateKey
}

// New builds a client for the named identity, loading its private key
// from the keyfile directory. The identity must exist in the vault's
// registry and the vault must be unlocked.
func New(ctx context.Context, service *vault.Service, keyDir, name string) (*Client, error) {
	resolved, err := service.GetIdentity(ctx, name)
	if err != nil {
		return nil, err
	}
	privateKey, err := identity.LoadKeyfile(keyDir, name)
	if err != nil {
		return nil, err
	}
	return &Client{
		service:    service,
		identityID: resolved.ID,
		privateKey: privateKey,
	}, nil
}

// NewWithKey builds a client from an already-loaded private key.
func NewWithKey(service *vault.Service, identityID string, privateKey ed25519.PrivateKey) *Client {
	return &Client{service: service, identityID: identityID, privateKey: privateKey}
}

// IdentityID returns the client's identity ID.
func (c *Client) IdentityID() string {
	return c.identityID
}

// Session signs a fresh access request for the domain and retrieves
// the session view. Denials come back as *vault.DeniedError.
func (c *Client) Session(ctx context.Context, domain string) (*session.View, error) {
	proofBytes, err := proof.Sign(c.privateKey, c.identityID, domain)
	if err != nil {
		return nil, err
	}
	return c.service.GetSession(ctx, proofBytes)
}

// Cookies retrieves the session and returns its cookie mapping.
func (c *Client) Cookies(ctx context.Context, domain string) (map[string]string, error) {
	view, err := c.Session(ctx, domain)
	if err != nil {
		return nil, err
	}
	return view.Record.Cookies, nil
}

// HTTPCookies retrieves the session as net/http cookies scoped to the
// record's domain, ready for a cookie jar. Cookies are returned in
// name order so callers get a stable sequence.
func (c *Client) HTTPCookies(ctx context.Context, domain string) ([]*http.Cookie, error) {
	view, err := c.Session(ctx, domain)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(view.Record.Cookies))
	for name := range view.Record.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	cookies := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		cookie := &http.Cookie{
			Name:   name,
			Value:  view.Record.Cookies[name],
			Domain: view.Record.Domain,
			Path:   "/",
			Secure: true,
		}
		if !view.Record.ExpiresAt.IsZero() {
			cookie.Expires = view.Record.ExpiresAt
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

// CookieHeader retrieves the session formatted as a Cookie request
// header value ("name=value; name2=value2"), name-ordered.
func (c *Client) CookieHeader(ctx context.Context, domain string) (string, error) {
	view, err := c.Session(ctx, domain)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(view.Record.Cookies))
	for name := range view.Record.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, fmt.Sprintf("%s=%s", name, view.Record.Cookies[name]))
	}
	return strings.Join(pairs, "; "), nil
}

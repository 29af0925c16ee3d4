// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package cookieimport parses cookie exports into the name→value
// mapping a session record stores. Two shapes are accepted:
//
//   - a flat object: {"li_at": "AQEDAxxx", "JSESSIONID": "ajax:123"}
//   - a browser-extension export array: [{"name": ..., "value": ...,
//     "domain": ".linkedin.com", "expirationDate": 1773576000.5}, ...]
//
// Input is run through a JSONC pass first, so exports with comments or
// trailing commas (hand-edited files, tool output) parse without
// complaint.
package cookieimport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/agentvault/agentvault/lib/scope"
)

var (
	// ErrNoCookies is returned when parsing or filtering leaves an
	// empty cookie set.
	ErrNoCookies = errors.New("cookieimport: no cookies")

	// ErrMalformed is returned for input that is neither a flat
	// object nor an export array.
	ErrMalformed = errors.New("cookieimport: malformed cookie export")
)

// Cookie is one parsed entry. Domain and Expires are zero for the
// flat-object form.
type Cookie struct {
	Name    string
	Value   string
	Domain  string
	Expires time.Time
}

// exportEntry matches the browser-extension export shape. Extra
// fields (path, httpOnly, sameSite, ...) are ignored.
type exportEntry struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	ExpirationDate float64 `json:"expirationDate"`
	Session        bool    `json:"session"`
}

// Parse decodes a cookie export in either accepted shape.
func Parse(data []byte) ([]Cookie, error) {
	normalized := jsonc.ToJSON(data)

	trimmed := strings.TrimSpace(string(normalized))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		var flat map[string]string
		if err := json.Unmarshal(normalized, &flat); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		cookies := make([]Cookie, 0, len(flat))
		for name, value := range flat {
			cookies = append(cookies, Cookie{Name: name, Value: value})
		}
		if len(cookies) == 0 {
			return nil, ErrNoCookies
		}
		return cookies, nil

	case strings.HasPrefix(trimmed, "["):
		var entries []exportEntry
		if err := json.Unmarshal(normalized, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		cookies := make([]Cookie, 0, len(entries))
		for _, entry := range entries {
			if entry.Name == "" {
				continue
			}
			cookie := Cookie{
				Name:   entry.Name,
				Value:  entry.Value,
				Domain: strings.TrimPrefix(strings.ToLower(entry.Domain), "."),
			}
			// Session cookies carry no expiry even when the
			// exporter fills expirationDate with a placeholder.
			if !entry.Session && entry.ExpirationDate > 0 {
				seconds := int64(entry.ExpirationDate)
				cookie.Expires = time.Unix(seconds, 0).UTC()
			}
			cookies = append(cookies, cookie)
		}
		if len(cookies) == 0 {
			return nil, ErrNoCookies
		}
		return cookies, nil

	default:
		return nil, ErrMalformed
	}
}

// CookieMap filters parsed cookies to those applicable to the target
// domain and flattens them to the stored mapping. Cookies without a
// domain attribute (flat-object form) always apply. The returned
// expiry is the earliest expiry among the kept cookies, zero when
// none carry one: the session stops being fully usable when its first
// cookie dies.
func CookieMap(cookies []Cookie, domain string) (map[string]string, time.Time, error) {
	normalized := scope.Normalize(domain)

	result := make(map[string]string)
	var expires time.Time
	for _, cookie := range cookies {
		if cookie.Domain != "" && !scope.Matches(cookie.Domain, normalized) {
			continue
		}
		result[cookie.Name] = cookie.Value
		if !cookie.Expires.IsZero() && (expires.IsZero() || cookie.Expires.Before(expires)) {
			expires = cookie.Expires
		}
	}
	if len(result) == 0 {
		return nil, time.Time{}, fmt.Errorf("%w applicable to %s", ErrNoCookies, normalized)
	}
	return result, expires, nil
}

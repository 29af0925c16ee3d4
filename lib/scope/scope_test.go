// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package scope

import (
	"errors"
	"reflect"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		wantErr bool
	}{
		{name: "simple", domain: "github.com"},
		{name: "subdomain", domain: "api.github.com"},
		{name: "uppercase normalized", domain: "GitHub.COM"},
		{name: "leading dot from cookie export", domain: ".linkedin.com"},
		{name: "hyphenated label", domain: "my-site.example.org"},
		{name: "empty", domain: "", wantErr: true},
		{name: "whitespace only", domain: "   ", wantErr: true},
		{name: "single label", domain: "localhost", wantErr: true},
		{name: "scheme", domain: "https://github.com", wantErr: true},
		{name: "path", domain: "github.com/login", wantErr: true},
		{name: "port", domain: "github.com:443", wantErr: true},
		{name: "empty label", domain: "github..com", wantErr: true},
		{name: "leading hyphen", domain: "-bad.com", wantErr: true},
		{name: "trailing hyphen", domain: "bad-.com", wantErr: true},
		{name: "underscore", domain: "bad_host.com", wantErr: true},
		{name: "wildcard", domain: "*.github.com", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := Validate(test.domain)
			if test.wantErr && err == nil {
				t.Errorf("Validate(%q) = nil, want error", test.domain)
			}
			if !test.wantErr && err != nil {
				t.Errorf("Validate(%q) error: %v", test.domain, err)
			}
			if test.wantErr && err != nil && !errors.Is(err, ErrInvalidDomain) {
				t.Errorf("Validate(%q) error is not ErrInvalidDomain: %v", test.domain, err)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		scope  string
		domain string
		want   bool
	}{
		{name: "exact", scope: "github.com", domain: "github.com", want: true},
		{name: "subdomain", scope: "github.com", domain: "api.github.com", want: true},
		{name: "deep subdomain", scope: "github.com", domain: "a.b.github.com", want: true},
		{name: "label boundary", scope: "github.com", domain: "notgithub.com", want: false},
		{name: "scope narrower than request", scope: "api.github.com", domain: "github.com", want: false},
		{name: "unrelated", scope: "github.com", domain: "gitlab.com", want: false},
		{name: "case insensitive", scope: "GitHub.com", domain: "API.GITHUB.COM", want: true},
		{name: "cookie-style leading dot", scope: ".linkedin.com", domain: "www.linkedin.com", want: true},
		{name: "empty scope", scope: "", domain: "github.com", want: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Matches(test.scope, test.domain); got != test.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", test.scope, test.domain, got, test.want)
			}
		})
	}
}

func TestMatchesAny(t *testing.T) {
	scopes := []string{"linkedin.com", "github.com"}

	if !MatchesAny(scopes, "www.linkedin.com") {
		t.Error("MatchesAny denied www.linkedin.com")
	}
	if MatchesAny(scopes, "example.com") {
		t.Error("MatchesAny granted example.com")
	}
	if MatchesAny(nil, "github.com") {
		t.Error("MatchesAny granted against empty scope list")
	}
}

func TestValidateAll(t *testing.T) {
	got, err := ValidateAll([]string{"GitHub.com", ".linkedin.com", "github.com"})
	if err != nil {
		t.Fatalf("ValidateAll() error: %v", err)
	}
	want := []string{"github.com", "linkedin.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ValidateAll() = %v, want %v", got, want)
	}

	if _, err := ValidateAll([]string{"github.com", "not a domain"}); err == nil {
		t.Error("ValidateAll() accepted a malformed entry")
	}
}

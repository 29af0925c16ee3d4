// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package agenttool exposes vault retrieval as tool definitions an
// agent framework can hand to its model. The framework builds a
// Toolset around an agentclient.Client and wires Definitions into its
// tool catalog; tool calls route back through the client's signed
// request path, so model-initiated retrievals carry the same
// authorization and audit semantics as any other access.
package agenttool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentvault/agentvault/lib/agentclient"
	"github.com/agentvault/agentvault/lib/session"
	"github.com/agentvault/agentvault/lib/vault"
)

// ToolGetSession is the retrieval tool's name.
const ToolGetSession = "agentvault_get_session"

// Definition describes a tool for framework catalogs: name,
// human-readable description, and a JSON Schema for arguments.
type Definition struct {
	// Name is the tool name.
	Name string

	// Description is the human-readable tool description.
	Description string

	// InputSchema is the JSON Schema for the tool's parameters,
	// serialized as JSON.
	InputSchema json.RawMessage
}

// getSessionArgs is the argument shape for ToolGetSession.
type getSessionArgs struct {
	Domain string `json:"domain"`
}

// getSessionSchema is served verbatim to frameworks.
const getSessionSchema = `{
  "type": "object",
  "properties": {
    "domain": {
      "type": "string",
      "description": "Domain to retrieve the stored session for, e.g. linkedin.com"
    }
  },
  "required": ["domain"]
}`

// Toolset dispatches tool calls for one agent identity.
type Toolset struct {
	client *agentclient.Client
}

// NewToolset wraps a client.
func NewToolset(client *agentclient.Client) *Toolset {
	return &Toolset{client: client}
}

// Definitions returns the tool catalog.
func (t *Toolset) Definitions() []Definition {
	return []Definition{
		{
			Name: ToolGetSession,
			Description: "Retrieve the stored browser session cookies for a domain. " +
				"Access is limited to the domains this agent is scoped to; every call is audited.",
			InputSchema: json.RawMessage(getSessionSchema),
		},
	}
}

// Call executes a tool by name with JSON arguments. The output string
// is what the framework shows the model. isError reports a tool-level
// failure (denial, no session); a non-nil error means the call could
// not be dispatched at all.
func (t *Toolset) Call(ctx context.Context, name string, arguments json.RawMessage) (output string, isError bool, err error) {
	switch name {
	case ToolGetSession:
		var args getSessionArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return "", false, fmt.Errorf("agenttool: decoding arguments: %w", err)
		}
		if args.Domain == "" {
			return "domain argument is required", true, nil
		}
		return t.getSession(ctx, args.Domain)
	default:
		return "", false, fmt.Errorf("agenttool: unknown tool %q", name)
	}
}

func (t *Toolset) getSession(ctx context.Context, domain string) (string, bool, error) {
	view, err := t.client.Session(ctx, domain)
	if err != nil {
		// Denials and missing sessions are outcomes the model can
		// act on, not infrastructure failures.
		var denied *vault.DeniedError
		if errors.As(err, &denied) {
			return denied.Error(), true, nil
		}
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Sprintf("no session stored for %s", domain), true, nil
		}
		return "", false, err
	}

	result := map[string]any{
		"domain":      view.Record.Domain,
		"cookies":     view.Record.Cookies,
		"captured_at": view.Record.CapturedAt,
		"expired":     view.Expired,
	}
	if !view.Record.ExpiresAt.IsZero() {
		result["expires_at"] = view.Record.ExpiresAt
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return "", false, fmt.Errorf("agenttool: encoding result: %w", err)
	}
	return string(encoded), false, nil
}

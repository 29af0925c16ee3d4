// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for every record the
// vault persists or signs: identity records, session records, audit
// entries, signed access requests, and backup snapshots.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// The same logical value always produces identical bytes. That
// property is load-bearing twice over — Ed25519 signatures over
// request payloads verify against re-encoded bytes, and the audit
// log's hash chain hashes the canonical encoding of each entry.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// The vault never uses non-string map keys. When decoding into
		// an any-typed target (cookie maps inside session records),
		// produce map[string]any rather than the CBOR default
		// map[interface{}]interface{}, which encoding/json and most Go
		// code cannot consume.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored for
// forward compatibility with future record versions.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value. Used to delay decoding of a
// record body until its envelope has been authenticated.
type RawMessage = cbor.RawMessage

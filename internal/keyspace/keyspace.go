/**
 * Copyright 2025-present OpenOES Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package keyspace maps semantic entities (user, asset, stream topic) to
// store key strings and back. Key components never contain ':' so every
// well-formed key parses losslessly.
package keyspace

import (
	"errors"
	"fmt"
	"strings"
)

const (
	prefixInventory = "CI"
	prefixStream    = "STREAM"
)

var ErrInvalidKey = errors.New("invalid key")

// Well-known stream keys of the mirroring protocol.
var (
	CreditRequestStream  = mustStreamKey("credit", "requests")
	CreditDecisionStream = mustStreamKey("credit", "decisions")
	PledgeStream         = mustStreamKey("pledge", "events")
	SettlementStream     = mustStreamKey("settlement", "events")
)

// Kind discriminates the key families of the protocol.
type Kind string

const (
	KindInventory Kind = "inventory"
	KindStream    Kind = "stream"
)

// Key is a parsed store key.
type Key struct {
	Kind Kind

	// Inventory keys: CI:{user_id}:{asset}
	UserId string
	Asset  string

	// Stream keys: STREAM:{domain}:{topic}[:{user_id}]
	Domain string
	Topic  string
	Scope  string // optional per-user scope
}

// InventoryKey builds the CI key for one (user, asset) pair.
func InventoryKey(userId, asset string) (string, error) {
	if err := validateComponents(userId, asset); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%s", prefixInventory, userId, asset), nil
}

// StreamKey builds an event stream key, optionally scoped to one user.
func StreamKey(domain, topic string, scope ...string) (string, error) {
	if err := validateComponents(domain, topic); err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s:%s:%s", prefixStream, domain, topic)
	if len(scope) > 1 {
		return "", fmt.Errorf("%w: at most one scope component", ErrInvalidKey)
	}
	if len(scope) == 1 {
		if err := validateComponents(scope[0]); err != nil {
			return "", err
		}
		key += ":" + scope[0]
	}
	return key, nil
}

// Parse recovers the components of a well-formed key.
func Parse(raw string) (Key, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 3 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	for _, p := range parts {
		if p == "" {
			return Key{}, fmt.Errorf("%w: empty component in %q", ErrInvalidKey, raw)
		}
	}

	switch parts[0] {
	case prefixInventory:
		if len(parts) != 3 {
			return Key{}, fmt.Errorf("%w: inventory key %q must have 3 components", ErrInvalidKey, raw)
		}
		return Key{Kind: KindInventory, UserId: parts[1], Asset: parts[2]}, nil

	case prefixStream:
		if len(parts) > 4 {
			return Key{}, fmt.Errorf("%w: stream key %q has too many components", ErrInvalidKey, raw)
		}
		k := Key{Kind: KindStream, Domain: parts[1], Topic: parts[2]}
		if len(parts) == 4 {
			k.Scope = parts[3]
		}
		return k, nil

	default:
		return Key{}, fmt.Errorf("%w: unknown prefix in %q", ErrInvalidKey, raw)
	}
}

// String rebuilds the raw key from its components.
func (k Key) String() string {
	switch k.Kind {
	case KindInventory:
		return fmt.Sprintf("%s:%s:%s", prefixInventory, k.UserId, k.Asset)
	case KindStream:
		raw := fmt.Sprintf("%s:%s:%s", prefixStream, k.Domain, k.Topic)
		if k.Scope != "" {
			raw += ":" + k.Scope
		}
		return raw
	default:
		return ""
	}
}

func validateComponents(components ...string) error {
	for _, c := range components {
		if c == "" {
			return fmt.Errorf("%w: empty component", ErrInvalidKey)
		}
		if strings.Contains(c, ":") {
			return fmt.Errorf("%w: component %q contains ':'", ErrInvalidKey, c)
		}
	}
	return nil
}

func mustStreamKey(domain, topic string) string {
	key, err := StreamKey(domain, topic)
	if err != nil {
		panic(err)
	}
	return key
}

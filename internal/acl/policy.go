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

// Package acl models the access boundary between the WSP and Exchange
// principals as a declarative (principal, key-pattern, commands) policy.
// Enforcement lives in the store's ACL engine; this package only describes
// and validates the policy the protocol design assumes.
package acl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// Principal names used throughout the protocol.
const (
	PrincipalWSP      = "wsp"
	PrincipalExchange = "exchange"
)

// Rule allows a set of commands against keys matching a glob pattern.
type Rule struct {
	Pattern  string   `yaml:"pattern"`
	Commands []string `yaml:"commands"`
}

// Principal groups the rules granted to one ACL user.
type Principal struct {
	Name  string `yaml:"name"`
	Rules []Rule `yaml:"rules"`
}

// Policy is the full declarative access-boundary description.
type Policy struct {
	Principals []Principal `yaml:"principals"`
}

type policyFile struct {
	Principals []Principal `yaml:"principals"`
}

// Load reads a policy description from a YAML file.
func Load(policyFilePath string) (*Policy, error) {
	path := policyFilePath
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", policyFilePath, err)
	}

	var parsed policyFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", policyFilePath, err)
	}

	policy := &Policy{Principals: parsed.Principals}
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

func (p *Policy) validate() error {
	if len(p.Principals) == 0 {
		return fmt.Errorf("policy has no principals")
	}
	for i, principal := range p.Principals {
		if principal.Name == "" {
			return fmt.Errorf("principal at index %d missing name", i)
		}
		for j, rule := range principal.Rules {
			if rule.Pattern == "" {
				return fmt.Errorf("principal %s rule %d missing pattern", principal.Name, j)
			}
			if len(rule.Commands) == 0 {
				return fmt.Errorf("principal %s rule %d has no commands", principal.Name, j)
			}
		}
	}
	return nil
}

// Allows reports whether the named principal may run a command against a key.
func (p *Policy) Allows(principal, command, key string) bool {
	for _, pr := range p.Principals {
		if pr.Name != principal {
			continue
		}
		for _, rule := range pr.Rules {
			if !MatchPattern(rule.Pattern, key) {
				continue
			}
			for _, c := range rule.Commands {
				if c == "*" || strings.EqualFold(c, command) {
					return true
				}
			}
		}
	}
	return false
}

// Commands the boundary check treats as direct key writes. Stream appends
// (XADD) are deliberately not in this list: appending events is exactly how
// the Exchange is supposed to communicate.
var directWriteCommands = []string{"SET", "DEL", "INCRBY", "INCRBYFLOAT", "DECRBY", "MSET", "GETSET", "EXPIRE"}

// CheckExchangeBoundary validates the protocol's core access invariants:
// the Exchange may append to stream keys and read inventory keys, but must
// never be able to write inventory keys directly. A policy that grants the
// Exchange a direct CI write would let the mirror diverge from the
// authoritative ledger without an event trail.
func (p *Policy) CheckExchangeBoundary(streamKeys []string, inventoryKey string) error {
	for _, stream := range streamKeys {
		if !p.Allows(PrincipalExchange, "XADD", stream) {
			return fmt.Errorf("exchange principal cannot append to stream %s", stream)
		}
		if !p.Allows(PrincipalExchange, "XREADGROUP", stream) {
			return fmt.Errorf("exchange principal cannot read stream %s", stream)
		}
		if !p.Allows(PrincipalExchange, "XACK", stream) {
			return fmt.Errorf("exchange principal cannot acknowledge on stream %s", stream)
		}
	}

	if !p.Allows(PrincipalExchange, "GET", inventoryKey) {
		return fmt.Errorf("exchange principal cannot read inventory key %s", inventoryKey)
	}
	for _, cmd := range directWriteCommands {
		if p.Allows(PrincipalExchange, cmd, inventoryKey) {
			return fmt.Errorf("exchange principal must not be allowed %s on inventory key %s", cmd, inventoryKey)
		}
	}
	return nil
}

// MatchPattern matches a key against a Redis-style glob pattern supporting
// '*' (any run) and '?' (any single character).
func MatchPattern(pattern, key string) bool {
	return matchGlob(pattern, key)
}

func matchGlob(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Collapse consecutive stars.
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if matchGlob(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		default:
			if len(s) == 0 || pattern[0] != s[0] {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		}
	}
	return len(s) == 0
}

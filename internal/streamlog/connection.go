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

package streamlog

import (
	"context"
	"fmt"
	"strings"

	"openoes-go/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Manager owns the two Valkey/Redis connections of the architecture: the
// authoritative WSP instance and the stream-writeable replica the Exchange
// principal appends to. Both are released by Close on every exit path.
type Manager struct {
	wsp     *redis.Client
	replica *redis.Client
}

// NewManager dials both instances. If the replica config has no address the
// WSP config is reused, which matches single-instance development setups.
func NewManager(wspCfg, replicaCfg models.RedisConfig) *Manager {
	if replicaCfg.Addr == "" {
		replicaCfg = wspCfg
	}
	return &Manager{
		wsp:     newRedisClient(wspCfg),
		replica: newRedisClient(replicaCfg),
	}
}

func newRedisClient(cfg models.RedisConfig) *redis.Client {
	zap.L().Debug("Creating Valkey/Redis client", zap.String("addr", cfg.Addr))
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
	})
}

// WSP returns the client for the authoritative WSP instance.
func (m *Manager) WSP() *redis.Client { return m.wsp }

// Replica returns the client for the stream-writeable replica.
func (m *Manager) Replica() *redis.Client { return m.replica }

// Ping verifies both connections are alive.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.wsp.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping wsp instance: %v", ErrConnectivity, err)
	}
	if err := m.replica.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping replica instance: %v", ErrConnectivity, err)
	}
	return nil
}

// Close releases both connections.
func (m *Manager) Close() {
	if err := m.wsp.Close(); err != nil {
		zap.L().Warn("Failed to close WSP connection", zap.Error(err))
	}
	if err := m.replica.Close(); err != nil {
		zap.L().Warn("Failed to close replica connection", zap.Error(err))
	}
}

// ConnectionInfo summarizes one instance for operator diagnostics.
type ConnectionInfo struct {
	Version          string
	Role             string
	ConnectedClients string
	UsedMemoryHuman  string
}

// Info fetches server details from one of the managed connections.
func Info(ctx context.Context, rdb *redis.Client) (*ConnectionInfo, error) {
	raw, err := rdb.Info(ctx, "server", "clients", "memory", "replication").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: info: %v", ErrConnectivity, err)
	}

	fields := parseInfo(raw)
	info := &ConnectionInfo{
		Version:          fields["valkey_version"],
		Role:             fields["role"],
		ConnectedClients: fields["connected_clients"],
		UsedMemoryHuman:  fields["used_memory_human"],
	}
	if info.Version == "" {
		info.Version = fields["redis_version"]
	}
	return info, nil
}

func parseInfo(raw string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if key, value, ok := strings.Cut(line, ":"); ok {
			fields[key] = value
		}
	}
	return fields
}

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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"openoes-go/internal/models"
)

func Load() (*models.Config, error) {
	dialTimeout, err := getEnvDuration("REDIS_DIAL_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	readTimeout, err := getEnvDuration("REDIS_READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	blockTimeout, err := getEnvDuration("CONSUMER_BLOCK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	readRetryBackoff, err := getEnvDuration("CONSUMER_READ_RETRY_BACKOFF", 2*time.Second)
	if err != nil {
		return nil, err
	}
	reclaimIdle, err := getEnvDuration("CONSUMER_RECLAIM_IDLE", time.Minute)
	if err != nil {
		return nil, err
	}
	reclaimInterval, err := getEnvDuration("CONSUMER_RECLAIM_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	requestExpiry, err := getEnvDuration("REQUEST_EXPIRY", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	expiryScanInterval, err := getEnvDuration("EXPIRY_SCAN_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	reconcileInterval, err := getEnvDuration("RECONCILE_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}
	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	consumerName := getEnvString("CONSUMER_NAME", "")
	if consumerName == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "mirror"
		}
		consumerName = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	return &models.Config{
		WSP: models.RedisConfig{
			Addr:        getEnvString("WSP_REDIS_ADDR", "localhost:6379"),
			Password:    os.Getenv("WSP_REDIS_PASSWORD"),
			DB:          getEnvInt("WSP_REDIS_DB", 0),
			DialTimeout: dialTimeout,
			ReadTimeout: readTimeout,
		},
		Replica: models.RedisConfig{
			Addr:        getEnvString("REPLICA_REDIS_ADDR", ""),
			Password:    os.Getenv("REPLICA_REDIS_PASSWORD"),
			DB:          getEnvInt("REPLICA_REDIS_DB", 0),
			DialTimeout: dialTimeout,
			ReadTimeout: readTimeout,
		},
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "mirror.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Consumer: models.ConsumerConfig{
			Group:              getEnvString("CONSUMER_GROUP", "exchange-mirror"),
			Name:               consumerName,
			BatchSize:          int64(getEnvInt("CONSUMER_BATCH_SIZE", 32)),
			BlockTimeout:       blockTimeout,
			ReadRetries:        getEnvInt("CONSUMER_READ_RETRIES", 5),
			ReadRetryBackoff:   readRetryBackoff,
			ReclaimIdle:        reclaimIdle,
			ReclaimInterval:    reclaimInterval,
			RequestExpiry:      requestExpiry,
			ExpiryScanInterval: expiryScanInterval,
			PolicyFile:         getEnvString("ACL_POLICY_FILE", "policy.yaml"),
		},
		Reconciler: models.ReconcilerConfig{
			Interval: reconcileInterval,
		},
		Accounting: models.AccountingConfig{
			StackURL:     os.Getenv("FORMANCE_STACK_URL"),
			ClientID:     os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret: os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:   getEnvString("FORMANCE_LEDGER_NAME", "openoes-credit-inventory"),
		},
		Custodian: models.CustodianConfig{
			Enabled:    getEnvBool("CUSTODIAN_CHECK_ENABLED", false),
			WalletType: getEnvString("CUSTODIAN_WALLET_TYPE", "VAULT"),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueConfig holds the Redis intake queue settings.
type QueueConfig struct {
	Intake     string // intake list name
	Processing string // in-flight list name
	DeadLetter string // dead-letter list name

	// MaxReceives is the redelivery ceiling before a message is diverted
	// to the dead-letter queue.
	MaxReceives int

	// VisibilityTimeout bounds how long a message may sit in the
	// processing list before the reaper requeues it.
	VisibilityTimeout time.Duration
}

// ModelGatewayConfig holds settings for the model-gateway HTTP client.
type ModelGatewayConfig struct {
	BaseURL string
	Model   string
	APIKey  string

	// Optional OAuth2 client-credentials grant. When TokenURL is set it
	// takes precedence over APIKey.
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthScopes       []string

	Timeout time.Duration
}

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// RoutingConfig maps an original recipient address to the AP mailbox that
// routed copies are dispatched to. Injected into the routing handler's
// constructor; never read from ambient state after startup.
type RoutingConfig struct {
	Recipients map[string]string
}

// Config holds all configuration for the intake pipeline.
type Config struct {
	RedisURL    string
	PostgresURL string

	Queue QueueConfig

	ObjectStoreURL   string
	ObjectStoreToken string

	ModelGateway ModelGatewayConfig
	SMTP         SMTPConfig
	Routing      RoutingConfig

	SessionTTL time.Duration

	// Ops server (health + stats)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Intake     string `yaml:"intake"`
			Processing string `yaml:"processing"`
			DeadLetter string `yaml:"dead_letter"`
		} `yaml:"queues"`
		MaxReceives       int    `yaml:"max_receives"`
		VisibilityTimeout string `yaml:"visibility_timeout"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	ObjectStore struct {
		URL         string `yaml:"url"`
		AccessToken string `yaml:"access_token"`
	} `yaml:"object_store"`
	ModelGateway struct {
		URL     string `yaml:"url"`
		Model   string `yaml:"model"`
		APIKey  string `yaml:"api_key"`
		Timeout string `yaml:"timeout"`
		OAuth   struct {
			TokenURL     string   `yaml:"token_url"`
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			Scopes       []string `yaml:"scopes"`
		} `yaml:"oauth"`
	} `yaml:"model_gateway"`
	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"smtp"`
	Routing struct {
		Recipients map[string]string `yaml:"recipients"`
	} `yaml:"routing"`
	Session struct {
		TTL string `yaml:"ttl"`
	} `yaml:"session"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse builds a Config from raw YAML bytes, expanding ${VAR} references.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		PostgresURL: firstNonEmpty(raw.Postgres.URL, os.Getenv("DATABASE_URL")),
		Queue: QueueConfig{
			Intake:            firstNonEmpty(raw.Redis.Queues.Intake, "invoice-intake"),
			Processing:        firstNonEmpty(raw.Redis.Queues.Processing, "invoice-intake:processing"),
			DeadLetter:        firstNonEmpty(raw.Redis.Queues.DeadLetter, "invoice-intake:dead"),
			MaxReceives:       raw.Redis.MaxReceives,
			VisibilityTimeout: parseDurationOrDefault(raw.Redis.VisibilityTimeout, 10*time.Minute),
		},
		ObjectStoreURL:   raw.ObjectStore.URL,
		ObjectStoreToken: raw.ObjectStore.AccessToken,
		ModelGateway: ModelGatewayConfig{
			BaseURL:           raw.ModelGateway.URL,
			Model:             raw.ModelGateway.Model,
			APIKey:            raw.ModelGateway.APIKey,
			OAuthTokenURL:     raw.ModelGateway.OAuth.TokenURL,
			OAuthClientID:     raw.ModelGateway.OAuth.ClientID,
			OAuthClientSecret: raw.ModelGateway.OAuth.ClientSecret,
			OAuthScopes:       raw.ModelGateway.OAuth.Scopes,
			Timeout:           parseDurationOrDefault(raw.ModelGateway.Timeout, 120*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     raw.SMTP.Host,
			Port:     raw.SMTP.Port,
			Username: raw.SMTP.Username,
			Password: raw.SMTP.Password,
		},
		Routing:    RoutingConfig{Recipients: raw.Routing.Recipients},
		SessionTTL: parseDurationOrDefault(raw.Session.TTL, 24*time.Hour),
		Port:       envOrDefaultInt("PORT", 8080),
	}

	if cfg.Queue.MaxReceives <= 0 {
		cfg.Queue.MaxReceives = 3
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}

	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("postgres.url is required — the supplier directory needs a database")
	}
	if cfg.ObjectStoreURL == "" {
		return nil, fmt.Errorf("object_store.url is required")
	}
	if cfg.ModelGateway.BaseURL == "" {
		return nil, fmt.Errorf("model_gateway.url is required")
	}
	if len(cfg.Routing.Recipients) == 0 {
		return nil, fmt.Errorf("no routing recipients configured — check routing.recipients in config.yaml")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseDurationOrDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

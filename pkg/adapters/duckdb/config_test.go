package duckdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestParseParams(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want *Params
	}{
		{name: "nil", raw: nil, want: &Params{}},
		{name: "empty", raw: map[string]any{}, want: &Params{}},
		{
			name: "extensions and settings",
			raw: map[string]any{
				"extensions": []any{"httpfs", "json"},
				"settings":   map[string]any{"threads": 4, "memory_limit": "2GB"},
			},
			want: &Params{
				Extensions: []string{"httpfs", "json"},
				Settings:   map[string]string{"threads": "4", "memory_limit": "2GB"},
			},
		},
		{
			name: "warehouse secret from grainql.yaml",
			raw: map[string]any{
				"secrets": []any{
					map[string]any{
						"type":      "s3",
						"provider":  "credential_chain",
						"region":    "eu-west-1",
						"scope":     "s3://warehouse/orders",
						"url_style": "path",
						"use_ssl":   "false",
					},
				},
			},
			want: &Params{Secrets: []SecretConfig{{
				Type:     "s3",
				Provider: "credential_chain",
				Region:   "eu-west-1",
				Scope:    "s3://warehouse/orders",
				URLStyle: "path",
				UseSSL:   boolPtr(false),
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseParams(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseParams_Invalid(t *testing.T) {
	_, err := parseParams(map[string]any{"extensions": map[string]any{"bad": true}})
	assert.ErrorContains(t, err, "invalid duckdb params")
}

func TestBuildCreateSecretSQL(t *testing.T) {
	tests := []struct {
		name string
		cfg  SecretConfig
		want string
	}{
		{
			name: "type only",
			cfg:  SecretConfig{Type: "s3"},
			want: "CREATE SECRET (\n    TYPE s3\n)",
		},
		{
			name: "credential chain",
			cfg:  SecretConfig{Type: "s3", Provider: "credential_chain", Region: "us-west-2"},
			want: "CREATE SECRET (\n    TYPE s3,\n    PROVIDER credential_chain,\n    REGION 'us-west-2'\n)",
		},
		{
			name: "scope list",
			cfg:  SecretConfig{Type: "s3", Scope: []any{"s3://bucket1", "s3://bucket2"}},
			want: "CREATE SECRET (\n    TYPE s3,\n    SCOPE ('s3://bucket1', 's3://bucket2')\n)",
		},
		{
			name: "s3 compatible endpoint",
			cfg:  SecretConfig{Type: "s3", KeyID: "minio", Secret: "it's", Endpoint: "localhost:9000", URLStyle: "path", UseSSL: boolPtr(false)},
			want: "CREATE SECRET (\n    TYPE s3,\n    KEY_ID 'minio',\n    SECRET 'it''s',\n    ENDPOINT 'localhost:9000',\n    URL_STYLE 'path',\n    USE_SSL false\n)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildCreateSecretSQL(tt.cfg))
		})
	}
}

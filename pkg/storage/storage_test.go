package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		scheme  string
		path    string
		wantErr bool
	}{
		{"https://example.com/capture.jpg", "https", "example.com/capture.jpg", false},
		{"s3://bucket/key/strip.png", "s3", "bucket/key/strip.png", false},
		{"file:///tmp/frame.png", "file", "/tmp/frame.png", false},
		{"invalid-uri", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			scheme, path, err := ParseURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.scheme, scheme)
			assert.Equal(t, tt.path, path)
		})
	}
}

func TestIsAllowedScheme(t *testing.T) {
	tests := []struct {
		scheme  string
		allowed bool
	}{
		{"https", true},
		{"http", true},
		{"s3", true},
		{"file", true},
		{"gs", false},
		{"ftp", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.scheme, func(t *testing.T) {
			assert.Equal(t, tt.allowed, IsAllowedScheme(tt.scheme))
		})
	}
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		uri    string
		path   string
		isFile bool
	}{
		{"/captures/a.jpg", "/captures/a.jpg", true},
		{"captures/a.jpg", "captures/a.jpg", true},
		{"file:///captures/a.jpg", "/captures/a.jpg", true},
		{"s3://bucket/a.jpg", "", false},
		{"https://cdn.example.com/a.jpg", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		path, ok := LocalPath(tt.uri)
		assert.Equal(t, tt.isFile, ok, tt.uri)
		assert.Equal(t, tt.path, path, tt.uri)
	}
}

package s3

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		endpoint string
		ssl      bool
		want     string
	}{
		{"minio:9000", false, "http://minio:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"http://localhost:9000", true, "http://localhost:9000"},
		{"", true, ""},
	}
	for _, tt := range tests {
		if got := endpointURL(tt.endpoint, tt.ssl); got != tt.want {
			t.Errorf("endpointURL(%q, %v) = %q, want %q", tt.endpoint, tt.ssl, got, tt.want)
		}
	}
}

func TestNotFoundMapping(t *testing.T) {
	wrapped := fmt.Errorf("operation error: %w", &types.NoSuchKey{})
	if !errors.Is(notFound("k", wrapped), fs.ErrNotExist) {
		t.Error("NoSuchKey should map to fs.ErrNotExist")
	}
	if !errors.Is(notFound("k", &types.NotFound{}), fs.ErrNotExist) {
		t.Error("NotFound should map to fs.ErrNotExist")
	}
	other := errors.New("access denied")
	if notFound("k", other) != other {
		t.Error("other errors must pass through")
	}
}

func TestKeyPrefix(t *testing.T) {
	b := &Backend{prefix: "mirror"}
	if got := b.key("/Bonds/a.csv"); got != "mirror/Bonds/a.csv" {
		t.Errorf("key = %q", got)
	}
	b.prefix = ""
	if got := b.key("/Bonds/a.csv"); got != "Bonds/a.csv" {
		t.Errorf("key = %q", got)
	}
}

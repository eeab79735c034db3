package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxlab/huelink/internal/discovery"
)

func TestPairAddressKeepsNonDefaultPort(t *testing.T) {
	tests := []struct {
		name      string
		candidate discovery.Candidate
		want      string
	}{
		{"default port stays bare", discovery.Candidate{Address: "192.168.1.10", Port: 443}, "192.168.1.10"},
		{"unset port stays bare", discovery.Candidate{Address: "192.168.1.10"}, "192.168.1.10"},
		{"custom port is carried", discovery.Candidate{Address: "192.168.1.10", Port: 8443}, "192.168.1.10:8443"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, pairAddress(tt.candidate))
		})
	}
}

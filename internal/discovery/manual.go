package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ManualCandidate builds a candidate from a user-entered IPv4 address.
// The id is derived from the address so the same input always yields the
// same candidate.
func ManualCandidate(address string) (Candidate, error) {
	address = strings.TrimSpace(address)
	if err := validateIPv4(address); err != nil {
		return Candidate{}, err
	}

	sum := sha256.Sum256([]byte(address))
	return Candidate{
		ID:      "manual-" + hex.EncodeToString(sum[:8]),
		Address: address,
		Port:    443,
	}, nil
}

// validateIPv4 accepts only strict dotted-quad notation: four decimal
// octets in [0,255], no shorthand forms and no hostnames.
func validateIPv4(address string) error {
	parts := strings.Split(address, ".")
	if len(parts) != 4 {
		return fmt.Errorf("'%s' is not a valid IPv4 address", address)
	}
	for _, part := range parts {
		if part == "" || len(part) > 3 {
			return fmt.Errorf("'%s' is not a valid IPv4 address", address)
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return fmt.Errorf("'%s' is not a valid IPv4 address", address)
			}
		}
		octet, err := strconv.Atoi(part)
		if err != nil || octet > 255 {
			return fmt.Errorf("'%s' is not a valid IPv4 address", address)
		}
	}
	return nil
}

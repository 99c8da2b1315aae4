package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	RoleReader = "reader"
	RoleAdmin  = "admin"
)

type Identity struct {
	// KeyID is a short fingerprint of the API key, safe to log.
	KeyID string
	Roles []string
}

// HasRole reports whether the identity carries role. Admins hold every role.
func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role) || slices.Contains(i.Roles, RoleAdmin)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses ASKDB_AUTH_STATIC_KEYS, a comma separated
// list of key:role|role entries. An empty list yields a validator that
// accepts nothing.
func NewStaticAPIKeyValidator(list string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, roleList, ok := strings.Cut(entry, ":")
		key = strings.TrimSpace(key)
		switch {
		case !ok || strings.Contains(roleList, ":"):
			return nil, fmt.Errorf("static key entry %q: want key:role|role", entry)
		case key == "":
			return nil, fmt.Errorf("static key entry %q: empty key", entry)
		}
		roles, err := parseRoles(roleList)
		if err != nil {
			return nil, fmt.Errorf("static key entry %q: %w", entry, err)
		}
		validator.keys[key] = Identity{KeyID: fingerprint(key), Roles: roles}
	}
	return validator, nil
}

func parseRoles(list string) ([]string, error) {
	var roles []string
	for _, role := range strings.Split(list, "|") {
		role = strings.TrimSpace(role)
		switch role {
		case "":
		case RoleReader, RoleAdmin:
			if !slices.Contains(roles, role) {
				roles = append(roles, role)
			}
		default:
			return nil, fmt.Errorf("unknown role %q", role)
		}
	}
	if len(roles) == 0 {
		return nil, errors.New("at least one role is required")
	}
	slices.Sort(roles)
	return roles, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

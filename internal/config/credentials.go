package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Credential is a username/password pair for one server address.
type Credential struct {
	Username string
	Password string
}

// EnvCredentials resolves credentials from INTENTFS_PASSWORD_<ADDRESS> /
// INTENTFS_USERNAME_<ADDRESS>, falling back to INTENTFS_PASSWORD /
// INTENTFS_USERNAME. The username defaults to "admin".
type EnvCredentials struct {
	Lookup func(string) (string, bool)
}

// Credentials returns the pair for address.
func (e EnvCredentials) Credentials(_ context.Context, address string) (Credential, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	suffix := envSuffix(address)
	get := func(base string) string {
		if v, ok := lookup(base + "_" + suffix); ok && v != "" {
			return v
		}
		v, _ := lookup(base)
		return v
	}

	c := Credential{Username: get("INTENTFS_USERNAME"), Password: get("INTENTFS_PASSWORD")}
	if c.Username == "" {
		c.Username = "admin"
	}
	if c.Password == "" {
		return Credential{}, fmt.Errorf("no password configured for %s (set INTENTFS_PASSWORD_%s)", address, suffix)
	}
	return c, nil
}

// envSuffix maps "nsp.example.com" to "NSP_EXAMPLE_COM".
func envSuffix(address string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, address)
}

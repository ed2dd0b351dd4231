package source

import (
	"fmt"
	"os"
	"strings"

	"github.com/arloliu/sharedtrain/types"
)

// Env reads the node address from an environment variable.
type Env struct {
	name     string
	hostname func() (string, error)
}

var _ types.AddressSource = (*Env)(nil)

// NewEnv creates an address source reading variable name. When the variable
// is unset or blank the host name is used instead.
func NewEnv(name string) *Env {
	return &Env{name: name, hostname: os.Hostname}
}

// Address returns the configured address.
func (e *Env) Address() (string, error) {
	if e.name != "" {
		if v := strings.TrimSpace(os.Getenv(e.name)); v != "" {
			return v, nil
		}
	}

	host, err := e.hostname()
	if err != nil {
		return "", fmt.Errorf("resolve node address: %w", err)
	}

	return host, nil
}

// Static is a fixed node address.
type Static string

var _ types.AddressSource = Static("")

// Address returns s.
func (s Static) Address() (string, error) {
	return string(s), nil
}

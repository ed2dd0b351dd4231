package types

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes that reads human-friendly strings such as
// "200MiB" or "2GB" from YAML.
type ByteSize uint64

// Common sizes.
const (
	KiB ByteSize = 1 << (10 * (iota + 1))
	MiB
	GiB
)

// ParseByteSize parses a human-friendly size string.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}

	return ByteSize(n), nil
}

// String renders the size with IEC units.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// UnmarshalYAML accepts either a plain integer or a size string.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("byte size must be a scalar, got kind %d", value.Kind)
	}

	n, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}
	*b = n

	return nil
}

// MarshalYAML renders the size as an IEC string.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

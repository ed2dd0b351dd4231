package testing

import (
	"testing"

	"github.com/arloliu/sharedtrain/internal/logging"
	"github.com/arloliu/sharedtrain/types"
)

// NewTestLogger returns a logger that writes key=value records through
// t.Logf, so output only shows for failing or verbose test runs.
func NewTestLogger(t testing.TB) types.Logger {
	return logging.NewTest(t)
}

package memory

import (
	"testing"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/claimstore/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) claims.Store { return New() })
}

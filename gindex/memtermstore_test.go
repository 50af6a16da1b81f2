package gindex_test

import (
	"testing"

	"github.com/gordian-engine/gledger/gindex"
	"github.com/gordian-engine/gledger/gindex/gindextest"
)

func TestMemTermStore_Compliance(t *testing.T) {
	t.Parallel()

	gindextest.TestTermStoreCompliance(t, func(func(func())) (gindex.TermStore, error) {
		return gindex.NewMemTermStore(), nil
	})
}

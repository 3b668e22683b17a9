package nodesetexporter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAliasTableTryEmplaceFirstWins(t *testing.T) {
	table := NewAliasTable()
	assert.True(t, table.TryEmplace("Int64", NumericNodeID(0, 8)))
	assert.False(t, table.TryEmplace("Int64", NumericNodeID(0, 99)), "second insert of an existing name must be rejected")

	id, ok := table.Lookup("Int64")
	assert.True(t, ok)
	assert.Equal(t, NumericNodeID(0, 8), id)
	assert.Equal(t, 1, table.Len())
}

func TestAliasTableEntriesSortedByName(t *testing.T) {
	table := NewAliasTable()
	table.TryEmplace("Zeta", NumericNodeID(0, 1))
	table.TryEmplace("Alpha", NumericNodeID(0, 2))
	table.TryEmplace("Mu", NumericNodeID(0, 3))

	entries := table.Entries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"Alpha", "Mu", "Zeta"}, names)
}

func TestLookupNS0NameKnownAndUnknown(t *testing.T) {
	name, ok := lookupNS0Name(NumericNodeID(0, 47))
	assert.True(t, ok)
	assert.Equal(t, "HasComponent", name)

	_, ok = lookupNS0Name(NumericNodeID(0, 999999))
	assert.False(t, ok)
}

package flags_test

import (
	"testing"

	"afio/internal/flags"

	"github.com/stretchr/testify/assert"
)

func Test_Effective_ForceWins(t *testing.T) {
	requested := flags.Read | flags.OSDirect
	force := flags.AutoFlush
	mask := flags.OSDirect

	got := flags.Effective(requested, force, mask)
	assert.Equal(t, flags.Read|flags.AutoFlush, got)
}

func Test_Section_SubsetOf(t *testing.T) {
	assert.True(t, flags.SectionRead.SubsetOf(flags.SectionReadWrite))
	assert.False(t, flags.SectionReadWrite.SubsetOf(flags.SectionRead))
	assert.True(t, flags.SectionNone.SubsetOf(flags.SectionNone))
}

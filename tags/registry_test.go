package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	d, ok := Lookup("lock")
	require.True(t, ok)
	assert.Equal(t, TagLock, d.Bit)
	assert.Equal(t, "Lock", d.LongName)

	_, ok = Lookup("nonexistent")
	assert.False(t, ok)
}

func TestAllPreservesDeclarationOrder(t *testing.T) {
	names := []string{}
	for _, d := range All() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"none", "apps", "libs", "lock", "task", "ipc"}, names)
}

func TestAllReturnsCopy(t *testing.T) {
	all := All()
	all[0].Name = "changed"

	d, ok := Lookup("none")
	require.True(t, ok)
	assert.Equal(t, "none", d.Name)
}

func TestMaskHas(t *testing.T) {
	lock, _ := Lookup("lock")
	ipc, _ := Lookup("ipc")
	none, _ := Lookup("none")

	m := TagOff.Enable(TagLock)
	assert.True(t, m.Has(lock))
	assert.False(t, m.Has(ipc))
	assert.False(t, TagAll.Has(none), "none is never enabled")

	m = m.Disable(TagLock)
	assert.False(t, m.Has(lock))
}

func TestParseMask(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Mask
		wantErr bool
	}{
		{name: "empty", input: "", want: TagOff},
		{name: "none", input: "none", want: TagOff},
		{name: "single", input: "apps", want: TagApps},
		{name: "several with spaces", input: "apps, lock ,ipc", want: TagApps | TagLock | TagIPC},
		{name: "unknown", input: "apps,bogus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMask(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownTag)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaskString(t *testing.T) {
	assert.Equal(t, "none", TagOff.String())
	assert.Equal(t, "apps,task", (TagTask | TagApps).String())
	assert.Equal(t, "apps,libs,lock,task,ipc", TagAll.String())
}

package ur20

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalog(t *testing.T) {
	require := require.New(t)

	c, err := NewCatalog()
	require.NoError(err)
	require.NotEmpty(c.Modules())

	spec, ok := c.Lookup(0x00091F84)
	require.True(ok)
	require.Equal("UR20-4DI-P", spec.Type.Name)
	require.Equal(4, spec.InputChannels())
	require.Equal(0, spec.OutputChannels())

	spec, ok = c.ByName("UR20-4AO-UI-16")
	require.True(ok)
	require.Equal(64, spec.OutputBits())
	require.Equal(KindWord, spec.outputKind(0))
}

func TestCatalogRejectsInvalidDocument(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing modules", `{"version": 1}`},
		{"bad id", `{"version": 1, "modules": [{"id": "4711", "name": "X"}]}`},
		{"unknown field", `{"version": 1, "modules": [{"id": "0x1", "name": "X", "speed": 3}]}`},
		{"negative count", `{"version": 1, "modules": [{"id": "0x1", "name": "X", "digital_inputs": -1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, c.Add([]byte(tt.doc)))
		})
	}
}

func TestLoadCatalogOverrides(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	doc := `{"version": 1, "modules": [
		{"id": "0x00091F84", "name": "UR20-4DI-P", "digital_inputs": 4, "parameter_registers": 0},
		{"id": "0x7F000001", "name": "LAB-2DO", "digital_outputs": 2}
	]}`
	require.NoError(os.WriteFile(filepath.Join(dir, "lab.json"), []byte(doc), 0o644))

	c, err := LoadCatalog([]string{dir})
	require.NoError(err)

	spec, ok := c.Lookup(0x00091F84)
	require.True(ok)
	require.Equal(0, spec.ParameterRegisters)

	spec, ok = c.Lookup(0x7F000001)
	require.True(ok)
	require.Equal("LAB-2DO", spec.Type.Name)
}

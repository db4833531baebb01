package capability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
capabilities:
  diarize-en:
    compute_device: cpu
    model_load_path: /models/diarize-en
    module: server/segment
  diarize-es:
    compute_device: cuda
    model_load_path: /models/diarize-es
    module: server/segment
  transcribe-en:
    compute_device: cpu
    model_load_path: /models/transcribe-en
    module: server/transcribe
`

func writeTempRegistry(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capability.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesCapabilities(t *testing.T) {
	path := writeTempRegistry(t, sampleYAML)

	reg, err := Load(path)
	require.NoError(t, err)

	set := reg.Current()
	require.Len(t, set.Capabilities, 3)
	assert.Equal(t, "cpu", set.Capabilities["diarize-en"].ComputeDevice)
}

func TestModuleCapabilitiesFiltersByModule(t *testing.T) {
	path := writeTempRegistry(t, sampleYAML)
	reg, err := Load(path)
	require.NoError(t, err)

	segment := reg.Current().ModuleCapabilities("server/segment")
	assert.Len(t, segment, 2)
	_, hasTranscribe := segment["transcribe-en"]
	assert.False(t, hasTranscribe)
}

func TestFindRequestedReturnsFirstEnabledMatch(t *testing.T) {
	enabled := map[string]Capability{"diarize-en": {}, "diarize-es": {}}

	got, err := FindRequested(enabled, "diarize-fr,diarize-es,diarize-en")
	require.NoError(t, err)
	assert.Equal(t, "diarize-es", got)
}

func TestFindRequestedErrorsWhenNoneEnabled(t *testing.T) {
	enabled := map[string]Capability{"diarize-en": {}}
	_, err := FindRequested(enabled, "diarize-fr")
	assert.Error(t, err)
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := writeTempRegistry(t, sampleYAML)
	reg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, reg.Current().Capabilities, 3)

	require.NoError(t, os.WriteFile(path, []byte(`
capabilities:
  diarize-en:
    compute_device: cpu
    model_load_path: /models/diarize-en
    module: server/segment
`), 0o644))

	reg.Reload()
	assert.Len(t, reg.Current().Capabilities, 1)
}

func TestReloadKeepsPreviousOnParseFailure(t *testing.T) {
	path := writeTempRegistry(t, sampleYAML)
	reg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("capabilities: [unterminated"), 0o644))
	reg.Reload()

	assert.Len(t, reg.Current().Capabilities, 3)
}

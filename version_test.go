package mcpgateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProtocolVersion(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      ProtocolVersion
		wantError bool
	}{
		{
			name:  "initial revision",
			input: "2024-11-05",
			want:  V20241105,
		},
		{
			name:  "march 2025 revision",
			input: "2025-03-26",
			want:  V20250326,
		},
		{
			name:  "june 2025 revision",
			input: "2025-06-18",
			want:  V20250618,
		},
		{
			name:      "well-formed but unknown date",
			input:     "2023-01-01",
			wantError: true,
		},
		{
			name:      "empty string",
			input:     "",
			wantError: true,
		},
		{
			name:      "garbage",
			input:     "latest",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProtocolVersion(tt.input)
			if tt.wantError {
				var unsupported *UnsupportedVersionError
				require.Error(t, err)
				require.True(t, errors.As(err, &unsupported))
				assert.Equal(t, tt.input, unsupported.Reported)
				assert.Equal(t, SupportedProtocolVersions(), unsupported.Supported)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProtocolVersionPredicates(t *testing.T) {
	tests := []struct {
		version              ProtocolVersion
		audio                bool
		completions          bool
		structuredContent    bool
		toolTitles           bool
		elicitation          bool
		resourceUpdated      bool
		requiresResourceName bool
		deprecated           bool
	}{
		{
			version: V20241105, deprecated: true,
		},
		{
			version: V20250326,
			audio:   true, completions: true, resourceUpdated: true,
		},
		{
			version: V20250618,
			audio:   true, completions: true, resourceUpdated: true,
			structuredContent: true, toolTitles: true, elicitation: true,
			requiresResourceName: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.version.String(), func(t *testing.T) {
			assert.Equal(t, tt.audio, tt.version.SupportsAudioContent())
			assert.Equal(t, tt.completions, tt.version.SupportsCompletions())
			assert.Equal(t, tt.structuredContent, tt.version.SupportsStructuredContent())
			assert.Equal(t, tt.toolTitles, tt.version.SupportsToolTitles())
			assert.Equal(t, tt.elicitation, tt.version.SupportsElicitation())
			assert.Equal(t, tt.resourceUpdated, tt.version.SupportsResourceUpdatedNotification())
			assert.Equal(t, tt.requiresResourceName, tt.version.RequiresResourceName())
			assert.Equal(t, tt.deprecated, tt.version.IsDeprecated())
		})
	}
}

func TestLatestProtocolVersion(t *testing.T) {
	assert.Equal(t, V20250618, LatestProtocolVersion)

	supported := SupportedProtocolVersions()
	require.Len(t, supported, 3)
	assert.Equal(t, supported[len(supported)-1], LatestProtocolVersion.String())
}

package mcpgateway

// ProtocolVersion identifies one of the dated MCP protocol revisions the
// gateway knows how to speak. The zero value is not a valid version.
type ProtocolVersion string

const (
	// V20241105 is the initial stable protocol revision.
	V20241105 ProtocolVersion = "2024-11-05"
	// V20250326 adds audio content blocks and the completions capability.
	V20250326 ProtocolVersion = "2025-03-26"
	// V20250618 adds structured tool output, titles, elicitation and makes
	// the resource-content name field mandatory.
	V20250618 ProtocolVersion = "2025-06-18"

	// LatestProtocolVersion is what the gateway declares when it opens a
	// handshake. Backends may negotiate down from it, never up.
	LatestProtocolVersion = V20250618
)

// SupportedProtocolVersions returns the supported revision identifiers,
// oldest first.
func SupportedProtocolVersions() []string {
	return []string{string(V20241105), string(V20250326), string(V20250618)}
}

// ParseProtocolVersion maps a reported protocolVersion string to a known
// revision. Only the three exact literals are accepted; any other value,
// including well-formed but unknown dates, fails with *UnsupportedVersionError.
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	switch s {
	case string(V20241105):
		return V20241105, nil
	case string(V20250326):
		return V20250326, nil
	case string(V20250618):
		return V20250618, nil
	default:
		return "", &UnsupportedVersionError{
			Reported:  s,
			Supported: SupportedProtocolVersions(),
		}
	}
}

// String returns the wire identifier of the revision.
func (v ProtocolVersion) String() string {
	return string(v)
}

// SupportsAudioContent reports whether audio content blocks exist in this
// revision. Toward revisions without it, audio blocks degrade to text
// placeholders.
func (v ProtocolVersion) SupportsAudioContent() bool {
	return v == V20250326 || v == V20250618
}

// SupportsCompletions reports whether the completions capability exists in
// this revision.
func (v ProtocolVersion) SupportsCompletions() bool {
	return v == V20250326 || v == V20250618
}

// SupportsStructuredContent reports whether tools/call results may carry a
// structuredContent field.
func (v ProtocolVersion) SupportsStructuredContent() bool {
	return v == V20250618
}

// SupportsToolTitles reports whether tools and resources may carry a title
// field distinct from their name.
func (v ProtocolVersion) SupportsToolTitles() bool {
	return v == V20250618
}

// SupportsElicitation reports whether the elicitation client capability
// exists in this revision.
func (v ProtocolVersion) SupportsElicitation() bool {
	return v == V20250618
}

// SupportsResourceUpdatedNotification reports whether the
// notifications/resources/updated notification exists in this revision.
// Toward revisions without it, the notification is dropped.
func (v ProtocolVersion) SupportsResourceUpdatedNotification() bool {
	return v == V20250326 || v == V20250618
}

// RequiresResourceName reports whether resource-content objects must carry a
// name field. This is the one place translation synthesizes a field rather
// than stripping one.
func (v ProtocolVersion) RequiresResourceName() bool {
	return v == V20250618
}

// IsDeprecated reports whether backends on this revision should be nudged to
// upgrade.
func (v ProtocolVersion) IsDeprecated() bool {
	return v == V20241105
}

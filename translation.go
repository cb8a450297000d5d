package mcpgateway

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// translationContext carries one directed translation: a message currently in
// revision from being reshaped for revision to. The rules below consult the
// version predicates rather than comparing revisions directly, so a rule reads
// as "does the target know this field" instead of a date comparison.
type translationContext struct {
	from    ProtocolVersion
	to      ProtocolVersion
	logger  Logger
	metrics Metrics
}

// synthesizeResourceName derives the mandatory resource-content name from its
// URI: the last non-empty path segment when the URI is path-like, otherwise
// the full URI verbatim.
func synthesizeResourceName(uri string) string {
	parsed, err := url.Parse(uri)
	if err == nil && parsed.Path != "" {
		segments := strings.Split(parsed.Path, "/")
		for i := len(segments) - 1; i >= 0; i-- {
			if segments[i] != "" {
				return segments[i]
			}
		}
	}
	return uri
}

// isNonEmpty reports whether a decoded JSON value holds meaningful content.
// Stripping an empty value needs no diagnostic.
func isNonEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case map[string]any:
		return len(val) > 0
	case []any:
		return len(val) > 0
	default:
		return true
	}
}

// stripField removes a field the target revision does not define. Data loss
// is observable: a non-empty value emits a warning and a counter, never an
// error.
func (tc translationContext) stripField(obj map[string]any, entity, field string) {
	val, ok := obj[field]
	if !ok {
		return
	}
	delete(obj, field)

	if isNonEmpty(val) {
		tc.logger.WithFields(map[string]interface{}{
			"entity": entity,
			"field":  field,
			"from":   tc.from.String(),
			"to":     tc.to.String(),
		}).Warn("discarding field not representable in target protocol version")
		tc.metrics.IncFieldStripped(entity, field)
	}
}

// translateToolList reshapes a tools/list result in place.
func (tc translationContext) translateToolList(result map[string]any) {
	tools, ok := result["tools"].([]any)
	if !ok {
		return
	}
	for _, t := range tools {
		tool, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if !tc.to.SupportsToolTitles() {
			tc.stripField(tool, "tool", "title")
		}
		if !tc.to.SupportsStructuredContent() {
			tc.stripField(tool, "tool", "outputSchema")
		}
		if tc.to.SupportsStructuredContent() && !tc.from.SupportsStructuredContent() {
			// Upgrade direction: nothing to add, title and outputSchema are
			// optional in the newer revision. Flag malformed schemas so a
			// broken backend is visible before its tools are ever called.
			tc.warnInvalidToolSchema(tool)
		}
	}
}

// translateResourceList reshapes a resources/list result in place.
func (tc translationContext) translateResourceList(result map[string]any) {
	resources, ok := result["resources"].([]any)
	if !ok {
		return
	}
	for _, r := range resources {
		resource, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if !tc.to.SupportsToolTitles() {
			tc.stripField(resource, "resource", "title")
		}
	}
}

// translateResourceContents reshapes a resources/read result in place. This
// carries the one breaking change across revisions: 2025-06-18 makes name
// mandatory on resource contents, so the upgrade direction synthesizes it and
// the downgrade direction strips it.
func (tc translationContext) translateResourceContents(result map[string]any) {
	contents, ok := result["contents"].([]any)
	if !ok {
		return
	}
	for _, c := range contents {
		content, ok := c.(map[string]any)
		if !ok {
			continue
		}

		if tc.to.RequiresResourceName() {
			if _, present := content["name"]; !present {
				if uri, ok := content["uri"].(string); ok {
					content["name"] = synthesizeResourceName(uri)
					tc.logger.WithFields(map[string]interface{}{
						"uri":  uri,
						"name": content["name"],
					}).Debug("synthesized resource name for target protocol version")
				}
			}
		} else {
			tc.stripField(content, "resourceContent", "name")
		}

		if !tc.to.SupportsToolTitles() {
			tc.stripField(content, "resourceContent", "title")
		}
	}
}

// translateToolCallResult reshapes a tools/call result in place: drops
// structuredContent when the target predates it and downgrades audio blocks
// to text placeholders when the target lacks audio.
func (tc translationContext) translateToolCallResult(result map[string]any) {
	if !tc.to.SupportsStructuredContent() {
		tc.stripField(result, "toolResult", "structuredContent")
	}

	if tc.to.SupportsAudioContent() {
		return
	}
	if content, ok := result["content"].([]any); ok {
		for _, c := range content {
			if block, ok := c.(map[string]any); ok {
				tc.downgradeAudioBlock(block)
			}
		}
	}
}

// downgradeAudioBlock rewrites an audio content block into a text block whose
// text embeds the original MIME type. The audio bytes are not preserved.
func (tc translationContext) downgradeAudioBlock(block map[string]any) {
	if block["type"] != "audio" {
		return
	}
	mimeType, _ := block["mimeType"].(string)
	if mimeType == "" {
		mimeType = "audio/*"
	}
	for k := range block {
		delete(block, k)
	}
	block["type"] = "text"
	block["text"] = fmt.Sprintf("[Audio content: %s]", mimeType)

	tc.logger.WithFields(map[string]interface{}{
		"mimeType": mimeType,
		"to":       tc.to.String(),
	}).Warn("downgraded audio content block to text placeholder")
	tc.metrics.IncFieldStripped("contentBlock", "audio")
}

// translatePromptList reshapes a prompts/list result in place.
func (tc translationContext) translatePromptList(result map[string]any) {
	prompts, ok := result["prompts"].([]any)
	if !ok {
		return
	}
	for _, p := range prompts {
		prompt, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if !tc.to.SupportsToolTitles() {
			tc.stripField(prompt, "prompt", "title")
		}
	}
}

// translatePromptMessages reshapes a prompts/get result in place. Prompt
// messages carry content blocks, so the audio downgrade applies here too.
func (tc translationContext) translatePromptMessages(result map[string]any) {
	if tc.to.SupportsAudioContent() {
		return
	}
	messages, ok := result["messages"].([]any)
	if !ok {
		return
	}
	for _, m := range messages {
		message, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if block, ok := message["content"].(map[string]any); ok {
			tc.downgradeAudioBlock(block)
		}
	}
}

// filterCapabilities removes capability flags the target revision does not
// define from a client or server capability object. Unknown or experimental
// flags outside the filtered set pass through untouched.
func (tc translationContext) filterCapabilities(caps map[string]any, entity string) {
	if caps == nil {
		return
	}
	if !tc.to.SupportsCompletions() {
		tc.stripField(caps, entity, "completions")
	}
	if !tc.to.SupportsElicitation() {
		tc.stripField(caps, entity, "elicitation")
	}
}

// translateInitializeResult filters the server capability object of an
// initialize result toward the target revision.
func (tc translationContext) translateInitializeResult(result map[string]any) {
	if caps, ok := result["capabilities"].(map[string]any); ok {
		tc.filterCapabilities(caps, "serverCapabilities")
	}
}

// translateInitializeParams filters the client capability object of an
// initialize request toward the target revision.
func (tc translationContext) translateInitializeParams(params map[string]any) {
	if caps, ok := params["capabilities"].(map[string]any); ok {
		tc.filterCapabilities(caps, "clientCapabilities")
	}
}

// translateResult dispatches a response result to the rule for its method.
// When the caller could not supply the originating method (responses do not
// self-identify), the result shape decides: tools, resources, contents and
// content keys are unambiguous across the three revisions.
func (tc translationContext) translateResult(method string, result map[string]any) {
	switch method {
	case MethodToolsList:
		tc.translateToolList(result)
	case MethodResourcesList:
		tc.translateResourceList(result)
	case MethodResourcesRead:
		tc.translateResourceContents(result)
	case MethodToolsCall:
		tc.translateToolCallResult(result)
	case MethodPromptsList:
		tc.translatePromptList(result)
	case MethodPromptsGet:
		tc.translatePromptMessages(result)
	case MethodInitialize:
		tc.translateInitializeResult(result)
	case "":
		switch {
		case result["tools"] != nil:
			tc.translateToolList(result)
		case result["resources"] != nil:
			tc.translateResourceList(result)
		case result["contents"] != nil:
			tc.translateResourceContents(result)
		case result["content"] != nil:
			tc.translateToolCallResult(result)
		case result["prompts"] != nil:
			tc.translatePromptList(result)
		case result["messages"] != nil:
			tc.translatePromptMessages(result)
		case result["protocolVersion"] != nil:
			tc.translateInitializeResult(result)
		}
	}
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func encodeObject(obj map[string]any) (json.RawMessage, error) {
	return json.Marshal(obj)
}

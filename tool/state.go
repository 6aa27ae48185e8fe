package tool

import (
	"encoding/base64"

	"github.com/weftworks/weft/core"
)

// StateTool gives agents direct access to shared session state and the
// artifact store through a single operation-dispatch tool. It is useful for
// workflows whose steps communicate through keys that no dedicated tool
// covers.
type StateTool struct {
	name        string
	description string
}

// NewStateTool creates the state access tool.
func NewStateTool() *StateTool {
	return &StateTool{
		name: "session_state",
		description: "Reads and writes shared session state and artifacts. " +
			"Supported operations: get_state, set_state, save_artifact, load_artifact, list_artifacts.",
	}
}

// Name returns the tool identifier.
func (t *StateTool) Name() string { return t.name }

// Description returns the tool description.
func (t *StateTool) Description() string { return t.description }

// Parameters returns the JSON schema for tool parameters.
func (t *StateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type": "string",
				"enum": []string{
					"get_state", "set_state", "save_artifact", "load_artifact", "list_artifacts",
				},
				"description": "The operation to perform",
			},
			"key": map[string]any{
				"type":        "string",
				"description": "State key for get_state/set_state",
			},
			"value": map[string]any{
				"description": "Value for set_state (any type)",
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Artifact name for artifact operations",
			},
			"data": map[string]any{
				"type":        "string",
				"description": "Base64 encoded payload for save_artifact",
			},
			"version": map[string]any{
				"type":        "integer",
				"description": "Artifact version for load_artifact (0 = latest)",
			},
		},
		"required": []string{"operation"},
	}
}

// Call dispatches on the operation argument.
func (t *StateTool) Call(toolCtx *core.ToolContext, args map[string]any) core.Outcome {
	operation, ok := args["operation"].(string)
	if !ok {
		return core.Fail(core.NonRetryablef("operation parameter is required"))
	}

	switch operation {
	case "get_state":
		return t.handleGetState(toolCtx, args)
	case "set_state":
		return t.handleSetState(toolCtx, args)
	case "save_artifact":
		return t.handleSaveArtifact(toolCtx, args)
	case "load_artifact":
		return t.handleLoadArtifact(toolCtx, args)
	case "list_artifacts":
		return t.handleListArtifacts(toolCtx)
	default:
		return core.Fail(core.NonRetryablef("unknown operation: %s", operation))
	}
}

func (t *StateTool) handleGetState(toolCtx *core.ToolContext, args map[string]any) core.Outcome {
	key, ok := args["key"].(string)
	if !ok {
		return core.Fail(core.NonRetryablef("key parameter is required for get_state"))
	}

	value, exists := toolCtx.GetState(key)
	return core.Success(map[string]any{
		"key":    key,
		"exists": exists,
		"value":  value,
	})
}

func (t *StateTool) handleSetState(toolCtx *core.ToolContext, args map[string]any) core.Outcome {
	key, ok := args["key"].(string)
	if !ok {
		return core.Fail(core.NonRetryablef("key parameter is required for set_state"))
	}

	value := args["value"]
	toolCtx.SetState(key, value)

	return core.Success(map[string]any{
		"key":     key,
		"value":   value,
		"success": true,
	})
}

func (t *StateTool) handleSaveArtifact(toolCtx *core.ToolContext, args map[string]any) core.Outcome {
	name, ok := args["name"].(string)
	if !ok {
		return core.Fail(core.NonRetryablef("name parameter is required for save_artifact"))
	}
	encoded, ok := args["data"].(string)
	if !ok {
		return core.Fail(core.NonRetryablef("data parameter is required for save_artifact"))
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return core.Fail(core.NonRetryablef("data is not valid base64: %v", err))
	}

	version, err := toolCtx.SaveArtifact(name, data)
	if err != nil {
		return core.FailErr(err)
	}
	return core.Success(map[string]any{
		"name":    name,
		"version": version,
		"size":    len(data),
	})
}

func (t *StateTool) handleLoadArtifact(toolCtx *core.ToolContext, args map[string]any) core.Outcome {
	name, ok := args["name"].(string)
	if !ok {
		return core.Fail(core.NonRetryablef("name parameter is required for load_artifact"))
	}
	version := 0
	if v, ok := args["version"].(float64); ok {
		version = int(v)
	}

	data, err := toolCtx.LoadArtifact(name, version)
	if err != nil {
		return core.FailErr(err)
	}
	return core.Success(map[string]any{
		"name": name,
		"data": base64.StdEncoding.EncodeToString(data),
		"size": len(data),
	})
}

func (t *StateTool) handleListArtifacts(toolCtx *core.ToolContext) core.Outcome {
	rc := toolCtx.InternalRunContext()
	if rc.Artifacts == nil {
		return core.Fail(core.NonRetryablef("no artifact store configured"))
	}
	names, err := rc.Artifacts.List(toolCtx.Context(), toolCtx.SessionID())
	if err != nil {
		return core.FailErr(err)
	}
	return core.Success(map[string]any{
		"artifacts": names,
		"count":     len(names),
	})
}

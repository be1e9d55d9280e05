package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/pipewright/internal/ir"
)

// marshalManifest converts a manifest to canonical JSON TEXT for storage.
// A nil manifest is stored as {}.
func marshalManifest(m map[string][]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	return string(data), nil
}

// unmarshalManifest parses canonical JSON TEXT back into a manifest. An
// empty object yields an empty, non-nil map.
func unmarshalManifest(data string) (map[string][]string, error) {
	m := map[string][]string{}
	if data == "" || data == "{}" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}

func marshalTargets(targets []string) (string, error) {
	if targets == nil {
		targets = []string{}
	}
	data, err := ir.MarshalCanonical(targets)
	if err != nil {
		return "", fmt.Errorf("marshal targets: %w", err)
	}
	return string(data), nil
}

func unmarshalTargets(data string) ([]string, error) {
	targets := []string{}
	if err := json.Unmarshal([]byte(data), &targets); err != nil {
		return nil, fmt.Errorf("unmarshal targets: %w", err)
	}
	return targets, nil
}

// EventID returns the content digest identifying e. Seq and RunID are part
// of the identity; the ID field itself is not.
func EventID(e Event) (string, error) {
	manifest := e.Manifest
	if manifest == nil {
		manifest = map[string][]string{}
	}
	return ir.Digest(ir.DomainEvent, map[string]any{
		"run_id":   e.RunID,
		"seq":      e.Seq,
		"kind":     string(e.Kind),
		"job_id":   e.JobID,
		"module":   e.Module,
		"manifest": manifest,
		"message":  e.Message,
	})
}

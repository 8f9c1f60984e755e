package dag

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/Casys-AI/pml-std-sub000/pmlerr"
	"github.com/Casys-AI/pml-std-sub000/types"
)

// referencePattern matches a full "$OUTPUT[id]<path>" string, where path
// is zero or more ".field" or "[index]" steps. This is the strict,
// full JSON-path-like grammar named in spec.md §9's Open Question
// resolution (superseding a looser single-field variant).
var referencePattern = regexp.MustCompile(`^\$OUTPUT\[([A-Za-z0-9_\-]+)\]((?:\.[A-Za-z_$][\w$]*|\[\d+\])*)$`)

var pathStepPattern = regexp.MustCompile(`\.[A-Za-z_$][\w$]*|\[\d+\]`)

// referencedTaskIDs returns every task id referenced via "$OUTPUT[id]..."
// anywhere within a task's (possibly nested) argument document.
func referencedTaskIDs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	var ids []string
	collectReferences(v, &ids)
	return ids, nil
}

func collectReferences(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		if m := referencePattern.FindStringSubmatch(t); m != nil {
			*out = append(*out, m[1])
		}
	case map[string]any:
		for _, vv := range t {
			collectReferences(vv, out)
		}
	case []any:
		for _, vv := range t {
			collectReferences(vv, out)
		}
	}
}

// substituteArguments walks raw, replacing every string matching the
// "$OUTPUT[id]<path>" grammar with the value found by walking the named
// task's completed Output at the given path. outputs and mu guard
// concurrent access from the executor's parallel layer dispatch.
func substituteArguments(raw json.RawMessage, outputs map[string]types.TaskResult, mu *sync.Mutex) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, pmlerr.Wrap(pmlerr.InvalidArgument, err, "parse arguments")
	}
	resolved, err := substituteValue(v, outputs, mu)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, pmlerr.Wrap(pmlerr.Internal, err, "marshal substituted arguments")
	}
	return out, nil
}

func substituteValue(v any, outputs map[string]types.TaskResult, mu *sync.Mutex) (any, error) {
	switch t := v.(type) {
	case string:
		m := referencePattern.FindStringSubmatch(t)
		if m == nil {
			return t, nil
		}
		return resolveReference(m[1], m[2], outputs, mu)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			r, err := substituteValue(vv, outputs, mu)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			r, err := substituteValue(vv, outputs, mu)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveReference(taskID, path string, outputs map[string]types.TaskResult, mu *sync.Mutex) (any, error) {
	mu.Lock()
	result, ok := outputs[taskID]
	mu.Unlock()
	if !ok {
		return nil, pmlerr.New(pmlerr.InvalidArgument, "reference to unexecuted task output: "+taskID)
	}
	if result.Status != types.TaskSuccess {
		return nil, pmlerr.New(pmlerr.InvalidArgument, "reference to non-successful task output: "+taskID)
	}

	var cur any
	if err := json.Unmarshal(result.Output, &cur); err != nil {
		return nil, pmlerr.Wrap(pmlerr.Internal, err, "parse output of task "+taskID)
	}

	for _, step := range pathStepPattern.FindAllString(path, -1) {
		if strings.HasPrefix(step, ".") {
			field := step[1:]
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, pmlerr.New(pmlerr.InvalidArgument, "path step ."+field+" on non-object output of "+taskID)
			}
			cur = m[field]
			continue
		}
		idxStr := strings.TrimSuffix(strings.TrimPrefix(step, "["), "]")
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, pmlerr.Wrap(pmlerr.InvalidArgument, err, "bad index step in reference path")
		}
		arr, ok := cur.([]any)
		if !ok || idx < 0 || idx >= len(arr) {
			return nil, pmlerr.New(pmlerr.InvalidArgument, "index out of range in reference path for task "+taskID)
		}
		cur = arr[idx]
	}
	return cur, nil
}

package checkout

import (
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
	jsonpatch "github.com/evanphx/json-patch/v5"
)

// FormData accumulates field values across steps. Values are strings or
// numbers.
type FormData map[string]any

// Clone returns a shallow copy. Values are scalars, so the copy is
// independent of f.
func (f FormData) Clone() FormData {
	out := make(FormData, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge returns f with partial shallow-merged on top.
func (f FormData) Merge(partial FormData) FormData {
	out := f.Clone()
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// String returns the value under key rendered as a string.
func (f FormData) String(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

// Pick returns the entries of f whose keys are in keys.
func (f FormData) Pick(keys ...string) FormData {
	out := make(FormData, len(keys))
	for _, k := range keys {
		if v, ok := f[k]; ok {
			out[k] = v
		}
	}
	return out
}

// ApplyMergePatch applies an RFC 7396 JSON merge patch to f. A null member
// deletes the field.
func (f FormData) ApplyMergePatch(patch []byte) (FormData, error) {
	doc, err := sonic.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal form data: %w", err)
	}
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return nil, fmt.Errorf("apply merge patch: %w", err)
	}
	out := FormData{}
	if err := sonic.Unmarshal(merged, &out); err != nil {
		return nil, fmt.Errorf("decode patched form data: %w", err)
	}
	if err := out.checkScalars(); err != nil {
		return nil, err
	}
	return out, nil
}

func (f FormData) checkScalars() error {
	for k, v := range f {
		switch v.(type) {
		case string, float64, bool:
		default:
			return fmt.Errorf("form field %q must be a string, number or boolean", k)
		}
	}
	return nil
}

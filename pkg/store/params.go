package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// ErrUnsupportedParam is returned when a parameter has a type outside the
// allow-list.
var ErrUnsupportedParam = errors.New("store: unsupported parameter type")

// paramsVersion is bumped when the encoding changes.
const paramsVersion = 1

// Params are the positional and keyword arguments of a constructor.
//
// Allowed value types: nil, bool, string, float64, int, int64, time.Time,
// json.RawMessage, []any and map[string]any of allowed values.
type Params struct {
	Args   []any
	Kwargs map[string]any
}

type envelope struct {
	V      int                        `json:"v"`
	Args   []json.RawMessage          `json:"args"`
	Kwargs map[string]json.RawMessage `json:"kwargs"`
}

// EncodeParams validates and encodes p.
func EncodeParams(p Params) ([]byte, error) {
	env := envelope{V: paramsVersion, Args: []json.RawMessage{}, Kwargs: map[string]json.RawMessage{}}
	for i, arg := range p.Args {
		raw, err := encodeValue(arg)
		if err != nil {
			return nil, fmt.Errorf("args[%d]: %w", i, err)
		}
		env.Args = append(env.Args, raw)
	}
	keys := make([]string, 0, len(p.Kwargs))
	for k := range p.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		raw, err := encodeValue(p.Kwargs[k])
		if err != nil {
			return nil, fmt.Errorf("kwargs[%q]: %w", k, err)
		}
		env.Kwargs[k] = raw
	}
	return json.Marshal(env)
}

// DecodeParams decodes a blob produced by EncodeParams.
func DecodeParams(data []byte) (Params, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Params{}, fmt.Errorf("decode params: %w", err)
	}
	if env.V != paramsVersion {
		return Params{}, fmt.Errorf("decode params: unknown version %d", env.V)
	}
	p := Params{Args: make([]any, 0, len(env.Args)), Kwargs: make(map[string]any, len(env.Kwargs))}
	for i, raw := range env.Args {
		v, err := decodeRaw(raw)
		if err != nil {
			return Params{}, fmt.Errorf("decode args[%d]: %w", i, err)
		}
		p.Args = append(p.Args, v)
	}
	for k, raw := range env.Kwargs {
		v, err := decodeRaw(raw)
		if err != nil {
			return Params{}, fmt.Errorf("decode kwargs[%q]: %w", k, err)
		}
		p.Kwargs[k] = v
	}
	return p, nil
}

// PutParams encodes p and stores it under id.
func PutParams(ctx context.Context, s Store, id string, p Params) error {
	blob, err := EncodeParams(p)
	if err != nil {
		return err
	}
	return s.Put(ctx, id, blob)
}

// ResumeParams touches the session and decodes its parameters. Blobs that
// cannot be decoded are reported as ErrNotFound.
func ResumeParams(ctx context.Context, s Store, id string, maxAge time.Duration) (Params, error) {
	blob, err := s.TouchAndGet(ctx, id, maxAge)
	if err != nil {
		return Params{}, err
	}
	p, err := DecodeParams(blob)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return p, nil
}

// Tagged forms for values JSON cannot carry faithfully.
const (
	tagInt   = "$int"
	tagInt64 = "$int64"
	tagTime  = "$time"
	tagRaw   = "$raw"
	tagMap   = "$map"
)

func encodeValue(v any) (json.RawMessage, error) {
	tree, err := toTree(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

func toTree(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: non-finite float", ErrUnsupportedParam)
		}
		return x, nil
	case int:
		return map[string]any{tagInt: strconv.Itoa(x)}, nil
	case int64:
		return map[string]any{tagInt64: strconv.FormatInt(x, 10)}, nil
	case time.Time:
		return map[string]any{tagTime: x.Format(time.RFC3339Nano)}, nil
	case json.RawMessage:
		if !json.Valid(x) {
			return nil, fmt.Errorf("%w: invalid raw JSON", ErrUnsupportedParam)
		}
		return map[string]any{tagRaw: string(x)}, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			t, err := toTree(item)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	case map[string]any:
		inner := make(map[string]any, len(x))
		for k, item := range x {
			t, err := toTree(item)
			if err != nil {
				return nil, err
			}
			inner[k] = t
		}
		return map[string]any{tagMap: inner}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedParam, v)
	}
}

func decodeRaw(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return fromTree(tree)
}

func fromTree(t any) (any, error) {
	switch x := t.(type) {
	case nil, bool, string:
		return x, nil
	case json.Number:
		return x.Float64()
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			v, err := fromTree(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		if len(x) != 1 {
			return nil, fmt.Errorf("untagged object")
		}
		for tag, payload := range x {
			return fromTagged(tag, payload)
		}
	}
	return nil, fmt.Errorf("unexpected %T", t)
}

func fromTagged(tag string, payload any) (any, error) {
	switch tag {
	case tagInt:
		s, _ := payload.(string)
		return strconv.Atoi(s)
	case tagInt64:
		s, _ := payload.(string)
		return strconv.ParseInt(s, 10, 64)
	case tagTime:
		s, _ := payload.(string)
		return time.Parse(time.RFC3339Nano, s)
	case tagRaw:
		s, ok := payload.(string)
		if !ok {
			return nil, fmt.Errorf("malformed %s", tagRaw)
		}
		return json.RawMessage(s), nil
	case tagMap:
		m, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("malformed %s", tagMap)
		}
		out := make(map[string]any, len(m))
		for k, item := range m {
			v, err := fromTree(item)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown tag %q", tag)
}

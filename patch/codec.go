package patch

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wireModel struct {
	Name string            `json:"name"`
	Ops  []json.RawMessage `json:"ops"`
}

type wirePatch struct {
	Models  []wireModel       `json:"models,omitempty"`
	Project []json.RawMessage `json:"project_ops,omitempty"`
}

// MarshalJSON encodes the patch in the engine's envelope format.
func (p Patch) MarshalJSON() ([]byte, error) {
	var w wirePatch

	for _, m := range p.Models {
		wm := wireModel{Name: m.Name, Ops: make([]json.RawMessage, 0, len(m.Ops))}
		for _, op := range m.Ops {
			raw, err := wrap(op.patchTag(), op)
			if err != nil {
				return nil, err
			}
			wm.Ops = append(wm.Ops, raw)
		}
		w.Models = append(w.Models, wm)
	}

	for _, op := range p.Project {
		raw, err := wrap(op.projectTag(), op)
		if err != nil {
			return nil, err
		}
		w.Project = append(w.Project, raw)
	}

	return json.Marshal(w)
}

// Encode returns the patch's wire bytes.
func (p Patch) Encode() ([]byte, error) {
	return json.Marshal(p)
}

func wrap(tag string, op any) (json.RawMessage, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", tag, err)
	}
	return json.Marshal(envelope{Type: tag, Payload: payload})
}

// Decode parses wire bytes back into a Patch. An unknown operation tag
// is an error; the engine and binding must agree on the operation set.
func Decode(data []byte) (*Patch, error) {
	var w wirePatch
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}

	p := &Patch{}
	for _, wm := range w.Models {
		mp := ModelPatch{Name: wm.Name}
		for _, raw := range wm.Ops {
			op, err := decodeModelOp(raw)
			if err != nil {
				return nil, err
			}
			mp.Ops = append(mp.Ops, op)
		}
		p.Models = append(p.Models, mp)
	}

	for _, raw := range w.Project {
		op, err := decodeProjectOp(raw)
		if err != nil {
			return nil, err
		}
		p.Project = append(p.Project, op)
	}

	return p, nil
}

func decodeModelOp(raw json.RawMessage) (Operation, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode op envelope: %w", err)
	}

	var op Operation
	switch env.Type {
	case "upsert_stock":
		op = &UpsertStock{}
	case "upsert_flow":
		op = &UpsertFlow{}
	case "upsert_aux":
		op = &UpsertAux{}
	case "upsert_module":
		op = &UpsertModule{}
	case "delete_variable":
		op = &DeleteVariable{}
	case "rename_variable":
		op = &RenameVariable{}
	case "upsert_view":
		op = &UpsertView{}
	case "delete_view":
		op = &DeleteView{}
	default:
		return nil, fmt.Errorf("unknown model operation %q", env.Type)
	}

	if err := json.Unmarshal(env.Payload, op); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return deref(op), nil
}

func decodeProjectOp(raw json.RawMessage) (ProjectOperation, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode op envelope: %w", err)
	}

	switch env.Type {
	case "set_sim_specs":
		var op SetSimSpecs
		if err := json.Unmarshal(env.Payload, &op); err != nil {
			return nil, fmt.Errorf("decode set_sim_specs payload: %w", err)
		}
		return op, nil
	default:
		return nil, fmt.Errorf("unknown project operation %q", env.Type)
	}
}

// deref converts the pointer used for unmarshaling back to the value
// form callers construct patches with.
func deref(op Operation) Operation {
	switch v := op.(type) {
	case *UpsertStock:
		return *v
	case *UpsertFlow:
		return *v
	case *UpsertAux:
		return *v
	case *UpsertModule:
		return *v
	case *DeleteVariable:
		return *v
	case *RenameVariable:
		return *v
	case *UpsertView:
		return *v
	case *DeleteView:
		return *v
	default:
		return op
	}
}

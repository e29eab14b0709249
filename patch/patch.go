package patch

import "encoding/json"

// Patch is an ordered batch of structural edits. Operations apply in
// order, model groups in order, with project-level operations last.
type Patch struct {
	Models  []ModelPatch
	Project []ProjectOperation
}

// ModelPatch groups the operations targeting one model.
type ModelPatch struct {
	Name string
	Ops  []Operation
}

// Operation is one model-scoped edit. Implementations are value types;
// the tag is fixed per variant, never derived at runtime.
type Operation interface {
	patchTag() string
}

// ProjectOperation is one project-scoped edit.
type ProjectOperation interface {
	projectTag() string
}

// GraphicalFunction is a lookup table attached to a variable.
type GraphicalFunction struct {
	XPoints []float64 `json:"x_points,omitempty"`
	YPoints []float64 `json:"y_points"`
	XMin    float64   `json:"x_min,omitempty"`
	XMax    float64   `json:"x_max,omitempty"`
}

// UpsertStock creates or replaces a stock (level) variable.
type UpsertStock struct {
	Name          string   `json:"name"`
	InitialValue  string   `json:"initial_value"`
	Inflows       []string `json:"inflows,omitempty"`
	Outflows      []string `json:"outflows,omitempty"`
	Units         string   `json:"units,omitempty"`
	Documentation string   `json:"documentation,omitempty"`
	NonNegative   bool     `json:"non_negative,omitempty"`
}

func (UpsertStock) patchTag() string { return "upsert_stock" }

// UpsertFlow creates or replaces a flow (rate) variable.
type UpsertFlow struct {
	Name          string             `json:"name"`
	Equation      string             `json:"equation"`
	Units         string             `json:"units,omitempty"`
	Documentation string             `json:"documentation,omitempty"`
	NonNegative   bool               `json:"non_negative,omitempty"`
	GF            *GraphicalFunction `json:"gf,omitempty"`
}

func (UpsertFlow) patchTag() string { return "upsert_flow" }

// UpsertAux creates or replaces an auxiliary variable.
type UpsertAux struct {
	Name          string             `json:"name"`
	Equation      string             `json:"equation"`
	Units         string             `json:"units,omitempty"`
	Documentation string             `json:"documentation,omitempty"`
	GF            *GraphicalFunction `json:"gf,omitempty"`
}

func (UpsertAux) patchTag() string { return "upsert_aux" }

// ModuleReference wires a variable outside a module instance to an
// input inside it.
type ModuleReference struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// UpsertModule creates or replaces a module instance variable.
type UpsertModule struct {
	Name          string            `json:"name"`
	ModelName     string            `json:"model_name"`
	References    []ModuleReference `json:"references,omitempty"`
	Units         string            `json:"units,omitempty"`
	Documentation string            `json:"documentation,omitempty"`
}

func (UpsertModule) patchTag() string { return "upsert_module" }

// DeleteVariable removes a variable of any type.
type DeleteVariable struct {
	Name string `json:"name"`
}

func (DeleteVariable) patchTag() string { return "delete_variable" }

// RenameVariable renames a variable, updating references to it. The
// wire keys are the engine's schema names.
type RenameVariable struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (RenameVariable) patchTag() string { return "rename_variable" }

// UpsertView replaces the diagram view at Index. Content is the
// engine's view document, passed through opaquely.
type UpsertView struct {
	Index   int             `json:"index"`
	Content json.RawMessage `json:"content"`
}

func (UpsertView) patchTag() string { return "upsert_view" }

// DeleteView removes the diagram view at Index.
type DeleteView struct {
	Index int `json:"index"`
}

func (DeleteView) patchTag() string { return "delete_view" }

// SetSimSpecs replaces the project's simulation specs.
type SetSimSpecs struct {
	Start     float64 `json:"start"`
	Stop      float64 `json:"stop"`
	DT        float64 `json:"dt"`
	SaveStep  float64 `json:"save_step,omitempty"`
	Method    string  `json:"method,omitempty"`
	TimeUnits string  `json:"time_units,omitempty"`
}

func (SetSimSpecs) projectTag() string { return "set_sim_specs" }

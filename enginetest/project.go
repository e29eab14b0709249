package enginetest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	simlin "github.com/bpowers/simlin-sub000"
	"github.com/bpowers/simlin-sub000/patch"
)

// projectState is the engine-side project resource: a JSON document in
// the fake's project schema.
type projectState struct {
	doc string
}

// modelState references its project so the model stays usable after the
// project handle is dropped, mirroring the native engine's internal
// reference.
type modelState struct {
	project *projectState
	name    string
}

func (e *Engine) Open(data []byte) (simlin.Handle, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(data) == 0 {
		return 0, e.newFault(simlin.ErrProtobufDecode, "empty project buffer", nil)
	}
	if !gjson.ValidBytes(data) {
		return 0, e.newFault(simlin.ErrProtobufDecode, "invalid project document", nil)
	}
	if !gjson.GetBytes(data, "models").IsArray() {
		return 0, e.newFault(simlin.ErrProtobufDecode, "project has no models", nil)
	}

	return e.insert(kindProject, &projectState{doc: string(data)}), nil
}

func (e *Engine) ProjectModelNames(h simlin.Handle) ([]string, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.lookup(h, kindProject)
	if !ok {
		return nil, e.newFault(simlin.ErrDoesNotExist, "invalid project handle", nil)
	}

	var names []string
	for _, m := range gjson.Get(p.(*projectState).doc, "models").Array() {
		names = append(names, m.Get("name").String())
	}
	return names, nil
}

func (e *Engine) ProjectModel(h simlin.Handle, name string) (simlin.Handle, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.lookup(h, kindProject)
	if !ok {
		return 0, e.newFault(simlin.ErrDoesNotExist, "invalid project handle", nil)
	}
	ps := p.(*projectState)

	if name == "" {
		name = "main"
	}
	if modelIndex(ps.doc, name) < 0 {
		return 0, e.newFault(simlin.ErrBadModelName, fmt.Sprintf("no model named %q", name), nil)
	}

	return e.insert(kindModel, &modelState{project: ps, name: name}), nil
}

func (e *Engine) ProjectSerialize(h simlin.Handle) ([]byte, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.lookup(h, kindProject)
	if !ok {
		return nil, e.newFault(simlin.ErrDoesNotExist, "invalid project handle", nil)
	}
	return []byte(p.(*projectState).doc), nil
}

func (e *Engine) ProjectExportXMILE(h simlin.Handle) ([]byte, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.lookup(h, kindProject)
	if !ok {
		return nil, e.newFault(simlin.ErrDoesNotExist, "invalid project handle", nil)
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString(`<xmile version="1.0" xmlns="http://docs.oasis-open.org/xmile/ns/XMILE/v1.0">` + "\n")
	name := gjson.Get(p.(*projectState).doc, "name").String()
	fmt.Fprintf(&b, "  <header><name>%s</name></header>\n", name)
	for _, m := range gjson.Get(p.(*projectState).doc, "models").Array() {
		fmt.Fprintf(&b, "  <model name=%q/>\n", m.Get("name").String())
	}
	b.WriteString("</xmile>\n")
	return []byte(b.String()), nil
}

func (e *Engine) ProjectApplyPatch(h simlin.Handle, patchBytes []byte, dryRun, allowErrors bool) ([]simlin.ErrorDetail, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.lookup(h, kindProject)
	if !ok {
		return nil, e.newFault(simlin.ErrDoesNotExist, "invalid project handle", nil)
	}
	ps := p.(*projectState)

	pch, err := patch.Decode(patchBytes)
	if err != nil {
		return nil, e.newFault(simlin.ErrProtobufDecode, err.Error(), nil)
	}

	doc := ps.doc
	var details []simlin.ErrorDetail

	for _, mp := range pch.Models {
		mi := modelIndex(doc, mp.Name)
		if mi < 0 {
			return nil, e.newFault(simlin.ErrBadModelName, fmt.Sprintf("no model named %q", mp.Name), nil)
		}
		for _, op := range mp.Ops {
			doc, details = applyModelOp(doc, mi, mp.Name, op, details)
		}
	}

	for _, op := range pch.Project {
		switch v := op.(type) {
		case patch.SetSimSpecs:
			raw, _ := json.Marshal(v)
			doc, _ = sjson.SetRaw(doc, "sim_specs", string(raw))
		}
	}

	if len(details) > 0 && !allowErrors {
		return nil, e.newFault(simlin.ErrVariablesHaveErrors, "variables have errors", details)
	}
	if !dryRun {
		ps.doc = doc
	}
	return details, nil
}

// applyModelOp validates and applies one operation against the working
// document, appending any validation problems to details. Upserts are
// applied even when their equations have problems; deletes and renames
// with missing targets are skipped.
func applyModelOp(doc string, mi int, modelName string, op patch.Operation, details []simlin.ErrorDetail) (string, []simlin.ErrorDetail) {
	varsPath := fmt.Sprintf("models.%d.variables", mi)

	setVar := func(name, typ string, payload any) string {
		raw, _ := json.Marshal(payload)
		raw2, _ := sjson.Set(string(raw), "type", typ)
		if vi := varIndex(doc, mi, name); vi >= 0 {
			out, _ := sjson.SetRaw(doc, fmt.Sprintf("%s.%d", varsPath, vi), raw2)
			return out
		}
		out, _ := sjson.SetRaw(doc, varsPath+".-1", raw2)
		return out
	}

	checkDeps := func(name, equation string) {
		for _, dep := range extractIdents(equation) {
			if dep == "time" || varIndex(doc, mi, dep) >= 0 {
				continue
			}
			details = append(details, simlin.ErrorDetail{
				Code:         simlin.ErrUnknownDependency,
				Message:      fmt.Sprintf("reference to undefined variable %q", dep),
				ModelName:    modelName,
				VariableName: name,
				Kind:         simlin.DetailVariable,
			})
		}
	}

	switch v := op.(type) {
	case patch.UpsertStock:
		doc = setVar(v.Name, "stock", v)
	case patch.UpsertFlow:
		checkDeps(v.Name, v.Equation)
		doc = setVar(v.Name, "flow", v)
	case patch.UpsertAux:
		checkDeps(v.Name, v.Equation)
		doc = setVar(v.Name, "aux", v)
	case patch.UpsertModule:
		doc = setVar(v.Name, "module", v)
	case patch.DeleteVariable:
		vi := varIndex(doc, mi, v.Name)
		if vi < 0 {
			details = append(details, simlin.ErrorDetail{
				Code:         simlin.ErrDoesNotExist,
				Message:      fmt.Sprintf("no variable named %q", v.Name),
				ModelName:    modelName,
				VariableName: v.Name,
				Kind:         simlin.DetailVariable,
			})
			break
		}
		doc, _ = sjson.Delete(doc, fmt.Sprintf("%s.%d", varsPath, vi))
	case patch.RenameVariable:
		vi := varIndex(doc, mi, v.From)
		switch {
		case vi < 0:
			details = append(details, simlin.ErrorDetail{
				Code:         simlin.ErrDoesNotExist,
				Message:      fmt.Sprintf("no variable named %q", v.From),
				ModelName:    modelName,
				VariableName: v.From,
				Kind:         simlin.DetailVariable,
			})
		case varIndex(doc, mi, v.To) >= 0:
			details = append(details, simlin.ErrorDetail{
				Code:         simlin.ErrDuplicateVariable,
				Message:      fmt.Sprintf("variable %q already exists", v.To),
				ModelName:    modelName,
				VariableName: v.To,
				Kind:         simlin.DetailVariable,
			})
		default:
			doc, _ = sjson.Set(doc, fmt.Sprintf("%s.%d.name", varsPath, vi), v.To)
		}
	case patch.UpsertView:
		doc, _ = sjson.SetRaw(doc, fmt.Sprintf("models.%d.views.%d", mi, v.Index), string(v.Content))
	case patch.DeleteView:
		doc, _ = sjson.Delete(doc, fmt.Sprintf("models.%d.views.%d", mi, v.Index))
	}

	return doc, details
}

func (e *Engine) ModelVarNames(h simlin.Handle) ([]string, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.lookup(h, kindModel)
	if !ok {
		return nil, e.newFault(simlin.ErrDoesNotExist, "invalid model handle", nil)
	}
	ms := m.(*modelState)

	var names []string
	for _, v := range modelVars(ms.project.doc, ms.name) {
		names = append(names, v.Get("name").String())
	}
	return names, nil
}

func (e *Engine) ModelIncomingLinks(h simlin.Handle, varName string) ([]string, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.lookup(h, kindModel)
	if !ok {
		return nil, e.newFault(simlin.ErrDoesNotExist, "invalid model handle", nil)
	}
	ms := m.(*modelState)

	for _, v := range modelVars(ms.project.doc, ms.name) {
		if v.Get("name").String() == varName {
			return incomingDeps(ms.project.doc, ms.name, v), nil
		}
	}
	return nil, e.newFault(simlin.ErrDoesNotExist, fmt.Sprintf("no variable named %q", varName), nil)
}

func (e *Engine) ModelLinks(h simlin.Handle) ([]simlin.Link, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.lookup(h, kindModel)
	if !ok {
		return nil, e.newFault(simlin.ErrDoesNotExist, "invalid model handle", nil)
	}
	ms := m.(*modelState)

	var links []simlin.Link
	for _, v := range modelVars(ms.project.doc, ms.name) {
		to := v.Get("name").String()
		polarity := simlin.PolarityUnknown
		if v.Get("type").String() == "stock" {
			polarity = simlin.PolarityPositive
		}
		for _, from := range incomingDeps(ms.project.doc, ms.name, v) {
			links = append(links, simlin.Link{From: from, To: to, Polarity: polarity})
		}
	}
	return links, nil
}

func modelIndex(doc, name string) int {
	for i, m := range gjson.Get(doc, "models").Array() {
		if m.Get("name").String() == name {
			return i
		}
	}
	return -1
}

func varIndex(doc string, mi int, name string) int {
	for i, v := range gjson.Get(doc, fmt.Sprintf("models.%d.variables", mi)).Array() {
		if v.Get("name").String() == name {
			return i
		}
	}
	return -1
}

func modelVars(doc, model string) []gjson.Result {
	mi := modelIndex(doc, model)
	if mi < 0 {
		return nil
	}
	return gjson.Get(doc, fmt.Sprintf("models.%d.variables", mi)).Array()
}

// incomingDeps returns the names of existing variables v depends on:
// flows for stocks, equation identifiers otherwise.
func incomingDeps(doc, model string, v gjson.Result) []string {
	mi := modelIndex(doc, model)
	var deps []string
	seen := map[string]bool{}
	add := func(name string) {
		if !seen[name] && varIndex(doc, mi, name) >= 0 {
			seen[name] = true
			deps = append(deps, name)
		}
	}

	if v.Get("type").String() == "stock" {
		for _, f := range v.Get("inflows").Array() {
			add(f.String())
		}
		for _, f := range v.Get("outflows").Array() {
			add(f.String())
		}
		return deps
	}

	for _, ident := range extractIdents(v.Get("equation").String()) {
		add(ident)
	}
	return deps
}

var identRe = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)

// extractIdents returns the identifiers referenced by an equation,
// skipping numeric literals (including the exponent of 1e3 forms).
func extractIdents(equation string) []string {
	var idents []string
	for _, loc := range identRe.FindAllStringIndex(equation, -1) {
		tok := equation[loc[0]:loc[1]]
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			continue
		}
		if loc[0] > 0 {
			if prev := equation[loc[0]-1]; prev >= '0' && prev <= '9' || prev == '.' {
				continue
			}
		}
		idents = append(idents, tok)
	}
	return idents
}

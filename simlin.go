package simlin

// Handle is an opaque, address-sized token identifying an engine-owned
// resource. Handle 0 is always invalid. Handles are only shareable by
// taking an additional native reference (the *Ref operations); copying
// the token does not extend the underlying resource's lifetime.
type Handle uintptr

// Engine is the native engine surface: every operation the binding
// invokes across the C ABI, expressed in Go types. Implementations
// own the mechanics of the boundary (out-error slots, caller-owned
// buffers, matching free calls); a non-nil *Fault returned from any
// method is already fully copied to Go memory with the underlying
// native error object freed.
//
// Engine implementations must be safe for concurrent use; callers
// serialize per-handle access above this interface.
type Engine interface {
	// Open imports a project from serialized bytes (protobuf, XMILE or
	// Vensim MDL, detected by the engine) and returns an owned handle.
	Open(data []byte) (Handle, *Fault)

	ProjectRef(h Handle)
	ProjectUnref(h Handle)
	// ProjectModelNames returns model names in the engine's order.
	ProjectModelNames(h Handle) ([]string, *Fault)
	// ProjectModel derives an owned model handle. An empty name selects
	// the project's main model.
	ProjectModel(h Handle, name string) (Handle, *Fault)
	// ProjectApplyPatch applies an ordered batch of structural edits.
	// With dryRun the project is left untouched. With allowErrors,
	// validation problems are collected and returned instead of
	// aborting; otherwise any problem aborts the whole patch.
	ProjectApplyPatch(h Handle, patch []byte, dryRun, allowErrors bool) ([]ErrorDetail, *Fault)
	// ProjectSerialize returns the project as engine-native protobuf
	// bytes, copied to Go-owned memory.
	ProjectSerialize(h Handle) ([]byte, *Fault)
	// ProjectExportXMILE returns the project as XMILE XML.
	ProjectExportXMILE(h Handle) ([]byte, *Fault)

	ModelRef(h Handle)
	ModelUnref(h Handle)
	ModelVarNames(h Handle) ([]string, *Fault)
	// ModelIncomingLinks returns the names of variables the given
	// variable directly depends on.
	ModelIncomingLinks(h Handle, varName string) ([]string, *Fault)
	// ModelLinks returns every causal link in the model.
	ModelLinks(h Handle) ([]Link, *Fault)

	// SimNew creates a simulation context for a model. enableLTM turns
	// on Loops-That-Matter instrumentation, required for loop scores.
	SimNew(model Handle, enableLTM bool) (Handle, *Fault)
	SimRef(h Handle)
	SimUnref(h Handle)
	SimRunTo(h Handle, t float64) *Fault
	SimRunToEnd(h Handle) *Fault
	SimReset(h Handle) *Fault
	SimStepCount(h Handle) (int, *Fault)
	SimVarNames(h Handle) ([]string, *Fault)
	SimGetValue(h Handle, name string) (float64, *Fault)
	SimSetValue(h Handle, name string, val float64) *Fault
	// SimSeries returns the saved time series for a variable, one value
	// per save step, copied to Go-owned memory.
	SimSeries(h Handle, name string) ([]float64, *Fault)
	// SimLoops returns the model's feedback loops. Requires LTM.
	SimLoops(h Handle) ([]Loop, *Fault)
	// SimRelativeLoopScore returns the loop's behavioral contribution
	// over simulated time. Requires LTM.
	SimRelativeLoopScore(h Handle, loopID string) ([]float64, *Fault)

	// ErrorString describes an error code. The underlying storage is
	// static on the native side and never freed by the caller.
	ErrorString(code ErrorCode) string
}

// LinkPolarity is the sign of a causal link.
type LinkPolarity uint8

const (
	PolarityPositive LinkPolarity = iota
	PolarityNegative
	PolarityUnknown
)

func (p LinkPolarity) String() string {
	switch p {
	case PolarityPositive:
		return "+"
	case PolarityNegative:
		return "-"
	default:
		return "?"
	}
}

// Link is one causal link between two variables.
type Link struct {
	From     string
	To       string
	Polarity LinkPolarity
	// Score is the link's average LTM score, present only when links
	// are queried from an LTM-enabled simulation.
	Score []float64
}

// Loop is one feedback loop identified by the engine.
type Loop struct {
	ID        string
	Variables []string
	Polarity  LoopPolarity
}

// LoopPolarity classifies a feedback loop.
type LoopPolarity uint8

const (
	LoopReinforcing LoopPolarity = iota
	LoopBalancing
)

func (p LoopPolarity) String() string {
	if p == LoopBalancing {
		return "balancing"
	}
	return "reinforcing"
}

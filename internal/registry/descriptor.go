package registry

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Usecase says which agents may see a function.
type Usecase string

const (
	// UsecaseFunctionCalling functions are offered to the database manager prompt.
	UsecaseFunctionCalling Usecase = "function_calling"
	// UsecaseCodeGeneration functions are exported to the code sandbox.
	UsecaseCodeGeneration Usecase = "code_generation"
)

// Param types as they appear in prompts and tool schemas.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// FunctionDescriptor is the metadata of one accessor function.
type FunctionDescriptor struct {
	ID                 string
	Name               string
	Domain             string
	Description        string
	Params             []Param
	Returns            string
	Usecases           []Usecase
	Example            string
	CallInstructions   string
	CodingInstructions string
}

// Supports reports whether the function carries usecase u.
func (f FunctionDescriptor) Supports(u Usecase) bool {
	return slices.Contains(f.Usecases, u)
}

// ParamNames returns parameter names in declaration order.
func (f FunctionDescriptor) ParamNames() []string {
	names := make([]string, len(f.Params))
	for i, p := range f.Params {
		names[i] = p.Name
	}
	return names
}

// Param returns the named parameter.
func (f FunctionDescriptor) Param(name string) (Param, bool) {
	for _, p := range f.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Signature renders "name (p1, p2)".
func (f FunctionDescriptor) Signature() string {
	return fmt.Sprintf("%s (%s)", f.Name, strings.Join(f.ParamNames(), ", "))
}

// Describe renders the function the way the database manager and code generation prompts list it.
// Coding instructions replace call instructions when forCode is set.
func (f FunctionDescriptor) Describe(forCode bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, " Function ID: %s\n", f.ID)
	fmt.Fprintf(&b, "    %s:\n", f.Signature())
	fmt.Fprintf(&b, "        %s\n\n", f.Description)
	extra := f.CallInstructions
	if forCode {
		extra = f.CodingInstructions
	}
	if extra != "" {
		fmt.Fprintf(&b, "        %s\n\n", extra)
	}
	b.WriteString("        Args:\n")
	for _, p := range f.Params {
		fmt.Fprintf(&b, "            %s (%s): %s\n", p.Name, p.Type, p.Description)
	}
	b.WriteString("\n        Returns:\n")
	fmt.Fprintf(&b, "            %s\n", f.Returns)
	if forCode && f.Example != "" {
		fmt.Fprintf(&b, "\n        Example output:\n            %s\n", f.Example)
	}
	b.WriteString("\n")
	return b.String()
}

// ToolInfo converts the descriptor into an Eino tool schema.
func (f FunctionDescriptor) ToolInfo() *schema.ToolInfo {
	params := make(map[string]*schema.ParameterInfo, len(f.Params))
	for _, p := range f.Params {
		params[p.Name] = &schema.ParameterInfo{
			Type:     schema.DataType(p.Type),
			Desc:     p.Description,
			Required: p.Required,
		}
	}
	return &schema.ToolInfo{
		Name:        f.Name,
		Desc:        f.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}
}

func (f FunctionDescriptor) clone() FunctionDescriptor {
	f.Params = slices.Clone(f.Params)
	f.Usecases = slices.Clone(f.Usecases)
	return f
}

// DatabaseDescriptor is one registered capability set.
type DatabaseDescriptor struct {
	Name                   string
	Domain                 string
	Info                   string
	Device                 string
	AdditionalInstructions string
	// Functions is keyed by function ID.
	Functions map[string]FunctionDescriptor
	// FunctionRefs is keyed by function name.
	FunctionRefs map[string]tool.InvokableTool
}

func (d DatabaseDescriptor) clone() DatabaseDescriptor {
	fns := make(map[string]FunctionDescriptor, len(d.Functions))
	for id, f := range d.Functions {
		fns[id] = f.clone()
	}
	d.Functions = fns
	d.FunctionRefs = maps.Clone(d.FunctionRefs)
	if d.FunctionRefs == nil {
		d.FunctionRefs = map[string]tool.InvokableTool{}
	}
	return d
}

// FunctionIDs returns the database's function IDs sorted.
func (d DatabaseDescriptor) FunctionIDs() []string {
	return slices.Sorted(maps.Keys(d.Functions))
}

package registry

import (
	"fmt"

	"github.com/cloudwego/eino/components/tool"

	logx "github.com/Sensemaking-core/server/pkg/logger"
)

// Category is the kind of source a database comes from.
type Category string

const (
	CategoryStream Category = "stream"
	CategoryModel  Category = "model"
)

// Definition is what a source exposes: function metadata, callables and an optional descriptor.
type Definition struct {
	Descriptor *DatabaseDescriptor
	Functions  []FunctionDescriptor
	Refs       map[string]tool.InvokableTool
}

// Source is one entry of the static registration list built at startup.
type Source struct {
	Module   string
	Category Category
	Load     func() (Definition, error)
}

// Discover registers every usable source. A source that fails to load, panics, exposes no
// functions or lacks a descriptor outside the model category is logged and skipped.
func Discover(sources []Source) *Registry {
	r := New()
	for _, src := range sources {
		d, ok := build(src)
		if !ok {
			continue
		}
		if err := r.Register(d); err != nil {
			logx.Warn().Err(err).Str("source", src.Module).Msg("Skipping database source")
			continue
		}
		logx.Debug().
			Str("database", d.Name).
			Int("functions", len(d.Functions)).
			Msg("Registered database")
	}
	return r
}

func build(src Source) (d DatabaseDescriptor, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logx.Warn().Str("source", src.Module).Msgf("panic loading source: %v", rec)
			ok = false
		}
	}()

	if src.Load == nil {
		logx.Warn().Str("source", src.Module).Msg("Source has no loader")
		return d, false
	}
	def, err := src.Load()
	if err != nil {
		logx.Warn().Err(err).Str("source", src.Module).Msg("Could not load source")
		return d, false
	}
	if len(def.Functions) == 0 {
		logx.Warn().Str("source", src.Module).Msg("Source exposes no functions")
		return d, false
	}

	switch {
	case def.Descriptor != nil:
		d = *def.Descriptor
	case src.Category == CategoryModel:
		d = DatabaseDescriptor{
			Name:                   src.Module + DatabaseSuffix,
			Info:                   fmt.Sprintf("Contains functions from %s model", src.Module),
			Device:                 "Model",
			AdditionalInstructions: fmt.Sprintf("This is a model-based database providing %s functionality.", src.Module),
		}
	default:
		logx.Warn().Str("source", src.Module).Msg("Source has no database descriptor")
		return d, false
	}

	d.Functions = make(map[string]FunctionDescriptor, len(def.Functions))
	for _, f := range def.Functions {
		d.Functions[f.ID] = f
	}
	d.FunctionRefs = def.Refs
	return d, true
}

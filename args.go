package taskmesh

import (
	"github.com/taskmesh/taskmesh/id"
	"github.com/taskmesh/taskmesh/wire"
)

// toArgs converts a mixed slice of DataIDs and plain Go values into
// the wire.Arg slice Submit pushes over EXECUTE: a DataID argument
// becomes a reference the destination worker resolves (fetching from
// the owner if absent), everything else travels as a literal (spec
// §6 EXECUTE payload `{task, args, kwargs, output}`).
func toArgs(args []any) []wire.Arg {
	out := make([]wire.Arg, len(args))
	for i, a := range args {
		out[i] = toArg(a)
	}
	return out
}

// toKwargs is toArgs for the keyword half of an EXECUTE call: each
// wire.Arg carries its keyword's name so the destination worker can
// split positional from keyword arguments back out (see
// worker.onExecute).
func toKwargs(kwargs map[string]any) []wire.Arg {
	out := make([]wire.Arg, 0, len(kwargs))
	for name, a := range kwargs {
		arg := toArg(a)
		arg.Name = name
		out = append(out, arg)
	}
	return out
}

func toArg(a any) wire.Arg {
	switch v := a.(type) {
	case id.OwnedID:
		return wire.Arg{ID: v.Base()}
	case id.BaseID:
		return wire.Arg{ID: v}
	default:
		return wire.Arg{Literal: a}
	}
}

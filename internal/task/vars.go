package task

// VarProvider is the read-only variable snapshot a running task body sees.
// The variable store itself (typed, capturable, persisted) is an external
// collaborator; the core only needs a thread-safe point lookup.
type VarProvider interface {
	GetVar(key string) (interface{}, bool)
}

// VarProviderFunc adapts a plain function to VarProvider.
type VarProviderFunc func(key string) (interface{}, bool)

func (f VarProviderFunc) GetVar(key string) (interface{}, bool) { return f(key) }

// NoVars is a VarProvider with no variables registered.
var NoVars VarProvider = VarProviderFunc(func(string) (interface{}, bool) { return nil, false })

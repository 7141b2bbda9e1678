// Package hooks implements HookPipeline (§4.5): named, chained user
// functions that transform a payload in sequence. Each hook receives
// the previous hook's output; a hook that returns something other than
// a well-formed payload fails the chain with HookContractError.
//
// This replaces the shell-script hook runner the rest of this
// dependency set's CLI tooling uses: here a hook is an in-process Go
// function, since the payloads being chained (incoming-changes
// batches) are live Go values, not files on disk.
package hooks

import "github.com/untoldecay/syncbase/internal/syncerr"

// Fn transforms a payload, returning the payload to hand to the next
// hook in the chain, or an error to abort the chain.
type Fn func(payload any) (any, error)

// Pipeline holds an ordered list of hooks per name.
type Pipeline struct {
	hooks map[string][]Fn
}

// New returns an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{hooks: make(map[string][]Fn)}
}

// Register appends fn to the chain registered under name.
func (p *Pipeline) Register(name string, fn Fn) {
	p.hooks[name] = append(p.hooks[name], fn)
}

// Run threads payload through every hook registered under name, in
// registration order. A hook returning a nil payload where the caller
// supplied a non-nil one is treated as a contract violation.
func (p *Pipeline) Run(name string, payload any) (any, error) {
	cur := payload
	for _, fn := range p.hooks[name] {
		next, err := fn(cur)
		if err != nil {
			return nil, &syncerr.HookContractError{Hook: name, Reason: err.Error()}
		}
		if next == nil && cur != nil {
			return nil, &syncerr.HookContractError{Hook: name, Reason: "hook returned nil payload"}
		}
		cur = next
	}
	return cur, nil
}

// IncomingChanges is the payload shape for the "incoming-changes" hook
// (§4.5): the pulled records alongside the collection's new
// last_modified watermark.
type IncomingChanges struct {
	LastModified int64
	Changes      []map[string]any
}

const IncomingChangesHook = "incoming-changes"

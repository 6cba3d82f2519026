package ring

import (
	"github.com/go-playground/validator/v10"

	"ringstore/store"
)

var validate = validator.New()

// Backend selects which store.KV implementation backs a ring.
type Backend string

const (
	// BackendMemory uses store.MemKV — no location required, and nothing
	// survives process exit. Matches the Design Notes' "pure in-memory
	// implementation ... suitable for tests."
	BackendMemory Backend = "memory"
	// BackendFile uses store.FileKV at Location — the durable backend
	// spec.md §6 requires a location for.
	BackendFile Backend = "file"
)

// CreateOptions are the parameters spec.md §6's create(...) takes. They are
// validated as a unit so ConfigInvalid errors are raised uniformly instead
// of scattered ad hoc checks, the way the teacher's internal/api/handlers.go
// validates incoming HTTP bodies through gin's binding tags — here the same
// validator library runs directly against a plain struct instead of a
// request body.
type CreateOptions struct {
	Algorithm string   `validate:"required"`
	Pnodes    []string `validate:"required,min=1,dive,required"`
	Vnodes    int      `validate:"required,min=1"`
	Backend   Backend  `validate:"required,oneof=memory file"`
	// Location is the path FileKV should open. Required when Backend is
	// BackendFile; validated by hand below rather than a struct tag since
	// the requirement is conditional on another field.
	Location string
}

func (o CreateOptions) validateSelf() error {
	if err := validate.Struct(o); err != nil {
		return wrapErr(ConfigInvalid, err, "invalid create options")
	}
	if _, err := AlgorithmByName(o.Algorithm); err != nil {
		return err
	}
	if o.Backend == BackendFile && o.Location == "" {
		return newErr(ConfigInvalid, "location is required when backend is %q", BackendFile)
	}
	seen := make(map[string]struct{}, len(o.Pnodes))
	for _, p := range o.Pnodes {
		if p == "" {
			return newErr(ConfigInvalid, "pnode names must be non-empty")
		}
		if _, dup := seen[p]; dup {
			return newErr(ConfigInvalid, "duplicate pnode %q in create options", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// DeserializeOptions are the parameters spec.md §6's deserialize(...) takes:
// a canonical topology plus the store backend to persist it on.
type DeserializeOptions struct {
	Backend  Backend `validate:"required,oneof=memory file"`
	Location string
}

func (o DeserializeOptions) validateSelf() error {
	if err := validate.Struct(o); err != nil {
		return wrapErr(ConfigInvalid, err, "invalid deserialize options")
	}
	if o.Backend == BackendFile && o.Location == "" {
		return newErr(ConfigInvalid, "location is required when backend is %q", BackendFile)
	}
	return nil
}

func openBackend(backend Backend, location string) (store.KV, error) {
	switch backend {
	case BackendMemory:
		return store.NewMemKV(), nil
	case BackendFile:
		kv, err := store.OpenFileKV(location)
		if err != nil {
			return nil, wrapErr(StoreError, err, "open file backend at %s", location)
		}
		return kv, nil
	default:
		return nil, newErr(ConfigInvalid, "unknown backend %q", backend)
	}
}

// Package recipe implements the declarative schema registry: recipes
// describe, for every field of a typed object, its item type, optionality,
// and whether it participates in identity. Domain objects are exchanged
// with this package as generic field maps -- the same flexible-ingestion
// idiom the entity dictionary uses for heterogeneous "kind" values -- so the
// registry can validate and hash any recipe-described type without a
// reflection pass over concrete Go structs.
package recipe

import (
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/kittclouds/gokitt/internal/canon"
	"github.com/kittclouds/gokitt/internal/errs"
)

// ItemType describes the shape of one field's value.
type ItemType int

const (
	TypeString ItemType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeArray    // ordered sequence of Elem
	TypeSet      // unordered collection of Elem
	TypeRef      // referenceTo(type): by content hash
	TypeRefID    // referenceToId(type): by id hash
	TypeObject   // nested object, itself recipe-described
)

// FieldRule is one entry of a recipe's rule list.
type FieldRule struct {
	Name     string
	Type     ItemType
	Elem     ItemType // element type for TypeArray/TypeSet
	RefType  string   // recipe name for TypeRef/TypeRefID/TypeObject
	Optional bool
	IsID     bool
}

// Recipe is a declarative schema descriptor.
type Recipe struct {
	Name string
	Rule []FieldRule
}

// Registry holds recipes, process-wide, populated at startup. Once any
// recipe version has been referenced by a stored object it is frozen;
// schema evolution must register a new recipe under a new name/version
// rather than mutate the frozen one.
type Registry struct {
	mu      sync.RWMutex
	recipes map[string]*Recipe
	frozen  map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		recipes: make(map[string]*Recipe),
		frozen:  make(map[string]bool),
	}
}

// Register adds a recipe. Re-registering a frozen recipe under the same
// name is rejected, whether or not its rules differ.
func (r *Registry) Register(rec *Recipe) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen[rec.Name] {
		return errs.Validation("recipe", "cannot modify frozen recipe "+rec.Name)
	}
	r.recipes[rec.Name] = rec
	return nil
}

// Freeze marks a recipe as referenced and therefore immutable.
func (r *Registry) Freeze(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen[name] = true
}

// Names returns every registered recipe name, in no particular order --
// used by the maintenance sweep to enumerate object types it doesn't know
// about by name ahead of time.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.recipes))
	for name := range r.recipes {
		out = append(out, name)
	}
	return out
}

func (r *Registry) Get(name string) (*Recipe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recipes[name]
	if !ok {
		return nil, errs.UnknownRecipe(name)
	}
	return rec, nil
}

// Object is the generic field-map representation a domain struct is
// flattened into before validation/hashing. Values are Go primitives
// (string, int64, float64, bool), Object for TypeObject,
// []string/[]int64/[]float64/[][32]byte or []canon.Value for
// TypeArray/TypeSet, [32]byte for TypeRef/TypeRefID, or nil for an absent
// optional field. A collection of nested Objects is not accepted.
type Object map[string]any

// Validate checks obj against the named recipe: every non-optional field
// must be present and have the declared shape; unknown recipes fail with
// UnknownRecipe.
func (r *Registry) Validate(recipeName string, obj Object) error {
	rec, err := r.Get(recipeName)
	if err != nil {
		return err
	}
	for _, f := range rec.Rule {
		v, present := obj[f.Name]
		if !present || v == nil {
			if f.Optional {
				continue
			}
			return errs.Validation(f.Name, "required field missing")
		}
		if err := validateShape(f, v); err != nil {
			return err
		}
	}
	return nil
}

func validateShape(f FieldRule, v any) error {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return errs.Validation(f.Name, "expected string")
		}
		if f.IsID && s == "" {
			return errs.Validation(f.Name, "identity field must not be empty")
		}
	case TypeInt:
		if _, ok := v.(int64); !ok {
			return errs.Validation(f.Name, "expected int64")
		}
	case TypeFloat:
		if _, ok := v.(float64); !ok {
			return errs.Validation(f.Name, "expected float64")
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return errs.Validation(f.Name, "expected bool")
		}
	case TypeArray, TypeSet:
		// caller-normalized slices of any; shape of elements is not
		// re-validated recursively here, callers build them from typed
		// domain structs so the element type is already guaranteed.
	case TypeRef, TypeRefID:
		if _, ok := v.([32]byte); !ok {
			return errs.Validation(f.Name, "expected hash reference")
		}
	case TypeObject:
		if _, ok := v.(Object); !ok {
			return errs.Validation(f.Name, "expected nested object")
		}
	}
	return nil
}

// ToValue builds a canon.Value for obj by walking the recipe's field order
// (not alphabetical -- this is the whole point of recipe-declared order).
func (r *Registry) ToValue(recipeName string, obj Object) (canon.Value, error) {
	rec, err := r.Get(recipeName)
	if err != nil {
		return canon.Value{}, err
	}
	return r.toValue(rec, obj)
}

func (r *Registry) toValue(rec *Recipe, obj Object) (canon.Value, error) {
	fields := make([]canon.Field, 0, len(rec.Rule))
	for _, f := range rec.Rule {
		v, present := obj[f.Name]
		if !present || v == nil {
			if !f.Optional {
				return canon.Value{}, errs.Validation(f.Name, "required field missing")
			}
			fields = append(fields, canon.F(f.Name, canon.Optional(nil)))
			continue
		}
		fv, err := r.fieldValue(f, v)
		if err != nil {
			return canon.Value{}, err
		}
		if f.Optional {
			fv = canon.Optional(&fv)
		}
		fields = append(fields, canon.F(f.Name, fv))
	}
	return canon.Object(fields...), nil
}

func (r *Registry) fieldValue(f FieldRule, v any) (canon.Value, error) {
	switch f.Type {
	case TypeString:
		return canon.Str(v.(string)), nil
	case TypeInt:
		return canon.Int(v.(int64)), nil
	case TypeFloat:
		return canon.Float(v.(float64)), nil
	case TypeBool:
		return canon.Bool(v.(bool)), nil
	case TypeRef, TypeRefID:
		return canon.Ref(v.([32]byte)), nil
	case TypeObject:
		inner, ok := v.(Object)
		if !ok {
			return canon.Value{}, errs.Validation(f.Name, "expected nested object")
		}
		innerRec, err := r.Get(f.RefType)
		if err != nil {
			return canon.Value{}, err
		}
		return r.toValue(innerRec, inner)
	case TypeArray, TypeSet:
		items, err := toItems(f, v)
		if err != nil {
			return canon.Value{}, err
		}
		if f.Type == TypeSet {
			return canon.Set(items...), nil
		}
		return canon.Seq(items...), nil
	default:
		return canon.Value{}, errs.Validation(f.Name, "unsupported field type")
	}
}

func toItems(f FieldRule, v any) ([]canon.Value, error) {
	switch elems := v.(type) {
	case []string:
		out := make([]canon.Value, len(elems))
		for i, s := range elems {
			out[i] = canon.Str(s)
		}
		return out, nil
	case []int64:
		out := make([]canon.Value, len(elems))
		for i, n := range elems {
			out[i] = canon.Int(n)
		}
		return out, nil
	case []float64:
		out := make([]canon.Value, len(elems))
		for i, n := range elems {
			out[i] = canon.Float(n)
		}
		return out, nil
	case [][32]byte:
		out := make([]canon.Value, len(elems))
		for i, h := range elems {
			out[i] = canon.Ref(h)
		}
		return out, nil
	case []canon.Value:
		return elems, nil
	default:
		return nil, errs.Validation(f.Name, "unsupported collection element type")
	}
}

// IdentityFields returns the names of the fields marked isId, sorted by
// name -- the field set that id_hash is computed over.
func (r *Registry) IdentityFields(recipeName string) ([]string, error) {
	rec, err := r.Get(recipeName)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range rec.Rule {
		if f.IsID {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names) // identity field *set* membership, not encode order
	return names, nil
}

// EncodeAndHash returns both the canonical byte encoding and its SHA-256
// digest in one pass -- used by the object store, which needs to persist
// the bytes and index them by hash.
func (r *Registry) EncodeAndHash(recipeName string, obj Object) ([]byte, [32]byte, error) {
	v, err := r.ToValue(recipeName, obj)
	if err != nil {
		return nil, [32]byte{}, err
	}
	b, err := canon.Encode(v)
	if err != nil {
		return nil, [32]byte{}, err
	}
	return b, sha256.Sum256(b), nil
}

// ContentHash computes content_hash(obj) per §4.1.
func (r *Registry) ContentHash(recipeName string, obj Object) ([32]byte, error) {
	v, err := r.ToValue(recipeName, obj)
	if err != nil {
		return [32]byte{}, err
	}
	return canon.Hash(v)
}

// IDHash computes id_hash(obj): canonical encoding restricted to the
// identity-forming fields, in the recipe's declared order.
func (r *Registry) IDHash(recipeName string, obj Object) ([32]byte, error) {
	rec, err := r.Get(recipeName)
	if err != nil {
		return [32]byte{}, err
	}
	fields := make([]canon.Field, 0, len(rec.Rule))
	for _, f := range rec.Rule {
		if !f.IsID {
			continue
		}
		v, present := obj[f.Name]
		if !present || v == nil {
			return [32]byte{}, errs.Validation(f.Name, "identity field missing")
		}
		fv, err := r.fieldValue(f, v)
		if err != nil {
			return [32]byte{}, err
		}
		fields = append(fields, canon.F(f.Name, fv))
	}
	return canon.Hash(canon.Object(fields...))
}

// Package evmvar implements the tagged EVMVariable model (State/Arg/
// Property) and its Type descriptor, shared by the storage analyzer (C8)
// and the semantic unit extractor (C9).
package evmvar

// Type is a bag of hints accumulated about a value as analysis proceeds;
// spec.md §3 calls it "widenable" — later passes may flip more bits on
// once, never narrow it back.
type Type struct {
	IsSigned      bool
	IsArray       bool
	IsMapping     bool
	IsDynamic     bool
	IsHigherOrder bool
	IsBool        bool
	IsContract    bool
	IsEnum        bool
	ByteLength    int
}

// ResolvedKind is the discrete type category a Type bag resolves to.
type ResolvedKind int

const (
	ElementaryStatic ResolvedKind = iota
	ElementaryDynamic
	ArrayStatic
	ArrayDynamic
	MappingStatic
	MappingDynamic
	UserDefineEnum
	UserDefineContract
	Other
)

func (k ResolvedKind) String() string {
	switch k {
	case ElementaryStatic:
		return "elementary_static"
	case ElementaryDynamic:
		return "elementary_dynamic"
	case ArrayStatic:
		return "array_static"
	case ArrayDynamic:
		return "array_dynamic"
	case MappingStatic:
		return "mapping_static"
	case MappingDynamic:
		return "mapping_dynamic"
	case UserDefineEnum:
		return "user_define_enum"
	case UserDefineContract:
		return "user_define_contract"
	default:
		return "other"
	}
}

// Resolve collapses the hint bag into one ResolvedKind, following the
// priority order implied by spec.md §3 (user-defined forms first, then
// dynamic/static array and mapping combinations, elementary last).
func (t Type) Resolve() ResolvedKind {
	switch {
	case t.IsContract:
		return UserDefineContract
	case t.IsEnum:
		return UserDefineEnum
	case t.IsMapping && t.IsDynamic:
		return MappingDynamic
	case t.IsMapping:
		return MappingStatic
	case t.IsArray && t.IsDynamic:
		return ArrayDynamic
	case t.IsArray:
		return ArrayStatic
	case t.IsDynamic:
		return ElementaryDynamic
	case t.ByteLength > 0 || t.IsBool || t.IsSigned:
		return ElementaryStatic
	default:
		return Other
	}
}

// WidenToContract marks t as a contract address, the rewrite applied when
// an EXTCODESIZE guard is observed on it (spec.md §4.7 item 3).
func (t *Type) WidenToContract() { t.IsContract = true }

// WidenToBool marks t as boolean, applied by the ISZERO ISZERO cast-removal
// rule (spec.md §4.5).
func (t *Type) WidenToBool() { t.IsBool = true }

// WidenToDynamic marks t as a dynamic elementary type (string/bytes),
// applied by the dynamic-typed merge post-processing rule (spec.md §4.11).
func (t *Type) WidenToDynamic() { t.IsDynamic = true }

// WidenToArray marks t as an array, applied when a storage slot is found
// to be indexed by ADD(base, idx) over a SHA3 base (spec.md §4.6).
func (t *Type) WidenToArray(dynamic bool) {
	t.IsArray = true
	if dynamic {
		t.IsDynamic = true
	}
}

// WidenToMapping marks t as a mapping, applied when SHA3(key, slot) is
// recognized in the backward storage analysis (spec.md §4.6).
func (t *Type) WidenToMapping() { t.IsMapping = true }

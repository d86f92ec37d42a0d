// Package parameters implements the dependency/freshness model, the formula
// resolver, and the referential-integrity rules for project-, database- and
// activity-scoped numeric parameters.
package parameters

import (
	"fmt"
	"strings"
	"time"

	"github.com/brightway-tools/paramengine/infrastructure/errors"
)

// ReservedProjectGroup is the group name project parameters conceptually
// belong to. It is reserved: it may never be used as a database name, as an
// ActivityParameter.Group, or as the "group" side of a GroupDependency.
const ReservedProjectGroup = "project"

// ScopeKind distinguishes the three layers a parameter can live in.
type ScopeKind int

const (
	ScopeProject ScopeKind = iota
	ScopeDatabase
	ScopeActivity
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeProject:
		return "project"
	case ScopeDatabase:
		return "database"
	case ScopeActivity:
		return "activity"
	default:
		return "unknown"
	}
}

// Scope names the symbol-table layer a recalculation or lookup targets. Name
// is empty for ScopeProject, the database name for ScopeDatabase, and the
// activity group name for ScopeActivity.
type Scope struct {
	Kind ScopeKind
	Name string
}

func ProjectScope() Scope               { return Scope{Kind: ScopeProject} }
func DatabaseScope(database string) Scope { return Scope{Kind: ScopeDatabase, Name: database} }
func ActivityScope(group string) Scope    { return Scope{Kind: ScopeActivity, Name: group} }

// GroupName returns the name of the Group row backing this scope.
func (s Scope) GroupName() string {
	if s.Kind == ScopeProject {
		return ReservedProjectGroup
	}
	return s.Name
}

func (s Scope) String() string {
	if s.Kind == ScopeProject {
		return ReservedProjectGroup
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.Name)
}

// AttributeBag is the opaque, loosely-typed map merged into dict/load output.
// Reserved keys (name, amount, formula, database, code, group) are always
// first-class columns on the owning row and are overlaid on top of Data so
// they can never be shadowed by a user-supplied bag entry.
type AttributeBag map[string]interface{}

var reservedDataKeys = map[string]struct{}{
	"name": {}, "amount": {}, "formula": {}, "database": {}, "code": {}, "group": {},
}

// IsReservedDataKey reports whether key is a first-class column name that
// must not be stored inside a parameter's opaque data bag.
func IsReservedDataKey(key string) bool {
	_, ok := reservedDataKeys[key]
	return ok
}

func mergeBag(data AttributeBag, overlay AttributeBag) AttributeBag {
	bag := make(AttributeBag, len(data)+len(overlay))
	for k, v := range data {
		if IsReservedDataKey(k) {
			continue
		}
		bag[k] = v
	}
	for k, v := range overlay {
		bag[k] = v
	}
	return bag
}

// Group is a named bundle of parameters that recalculate together and carry
// a single freshness flag.
type Group struct {
	Name    string
	Fresh   bool
	Updated time.Time
	Order   []string
}

// GroupDependency is one edge group -> depends in the dependency graph.
type GroupDependency struct {
	Group   string
	Depends string
}

// ProjectParameter is a project-scoped named parameter.
type ProjectParameter struct {
	ID      string
	Name    string
	Amount  *float64
	Formula *string
	Data    AttributeBag
}

// Dict returns the attribute bag for this row: its opaque Data merged with
// the first-class columns, which always win. A null-valued amount or formula
// is omitted entirely rather than stored as an explicit nil, matching the
// original dict/load round-trip.
func (p ProjectParameter) Dict() AttributeBag {
	bag := mergeBag(p.Data, nil)
	bag["name"] = p.Name
	setIfPresent(bag, "amount", amountValue(p.Amount))
	setIfPresent(bag, "formula", formulaValue(p.Formula))
	return bag
}

// Compare orders ProjectParameter values lexicographically by name. It is
// used only for display sorting; comparing against anything other than
// another ProjectParameter is a programmer error and fails with a type
// error, mirroring the original ordering comparator's behavior.
func (p ProjectParameter) Compare(other interface{}) (int, error) {
	var o ProjectParameter
	switch v := other.(type) {
	case ProjectParameter:
		o = v
	case *ProjectParameter:
		if v == nil {
			return 0, errors.TypeErr("cannot compare ProjectParameter to nil")
		}
		o = *v
	default:
		return 0, errors.TypeErr(fmt.Sprintf("cannot compare ProjectParameter to %T", other))
	}
	return strings.Compare(p.Name, o.Name), nil
}

// DatabaseParameter is a database-scoped named parameter.
type DatabaseParameter struct {
	ID       string
	Database string
	Name     string
	Amount   *float64
	Formula  *string
	Data     AttributeBag
}

func (p DatabaseParameter) Dict() AttributeBag {
	bag := mergeBag(p.Data, nil)
	bag["database"] = p.Database
	bag["name"] = p.Name
	setIfPresent(bag, "amount", amountValue(p.Amount))
	setIfPresent(bag, "formula", formulaValue(p.Formula))
	return bag
}

// ActivityParameter is an activity-scoped named parameter. Database and Code
// together identify the owning activity and are immutable after insert;
// Group and Name together identify the row within the symbol table and must
// be unique.
type ActivityParameter struct {
	ID       string
	Group    string
	Database string
	Code     string
	Name     string
	Amount   *float64
	Formula  *string
	Data     AttributeBag
}

func (p ActivityParameter) Dict() AttributeBag {
	bag := mergeBag(p.Data, nil)
	bag["group"] = p.Group
	bag["database"] = p.Database
	bag["code"] = p.Code
	bag["name"] = p.Name
	setIfPresent(bag, "amount", amountValue(p.Amount))
	setIfPresent(bag, "formula", formulaValue(p.Formula))
	return bag
}

// ParameterizedExchange ties an opaque external exchange id to a formula
// controlling one of its numeric attributes.
type ParameterizedExchange struct {
	ID       string
	Group    string
	Exchange int64
	Formula  string
}

// Dict returns the attribute bag for this row. Formula is always set (the
// whole point of a parameterized exchange is the formula it carries), so
// unlike the three parameter kinds there is no null case to omit.
func (e ParameterizedExchange) Dict() AttributeBag {
	return AttributeBag{
		"group":    e.Group,
		"exchange": e.Exchange,
		"formula":  e.Formula,
	}
}

// setIfPresent sets bag[key] = value unless value is nil, so a row whose
// amount or formula has never been set leaves no trace of that key in the
// dict/load output rather than an explicit null.
func setIfPresent(bag AttributeBag, key string, value interface{}) {
	if value == nil {
		return
	}
	bag[key] = value
}

func amountValue(a *float64) interface{} {
	if a == nil {
		return nil
	}
	return *a
}

func formulaValue(f *string) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

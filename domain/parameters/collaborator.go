package parameters

import (
	"context"

	"github.com/brightway-tools/paramengine/domain/parameters/resolver"
)

// DatabaseRegistry answers whether a name is a registered database. The
// engine never reads or writes the surrounding activities/exchanges
// database itself; it only consults this narrow predicate.
type DatabaseRegistry interface {
	IsRegisteredDatabase(name string) bool
}

// ExchangeLookup returns the exchange ids belonging to an activity, keyed by
// the opaque (database, code) pair the engine treats activities as.
type ExchangeLookup interface {
	ExchangesFor(ctx context.Context, database, code string) ([]int64, error)
}

// BuiltinFunctions supplies the fixed set of numeric functions the formula
// resolver may call in addition to the closed arithmetic grammar.
type BuiltinFunctions interface {
	Builtins() map[string]resolver.BuiltinFunc
}

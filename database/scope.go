package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Scope owns the intermediate tables of one operation. Names are suffixed with
// a random id so concurrent operations on distinct scopes never collide, and
// Close drops every table handed out, whatever the outcome of the operation.
//
//	scope := database.NewScope(store, "tsu")
//	defer scope.Close(ctx)
//	lines := scope.Table("lines")
type Scope struct {
	store  Store
	prefix string
	suffix string
	tables []string
}

func NewScope(store Store, prefix string) *Scope {
	return &Scope{
		store:  store,
		prefix: prefix,
		suffix: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

// Table returns a unique table name for name and registers it for removal.
func (s *Scope) Table(name string) string {
	table := fmt.Sprintf("%s_%s", name, s.suffix)
	if s.prefix != "" {
		table = fmt.Sprintf("%s_%s", s.prefix, table)
	}

	s.tables = append(s.tables, table)
	return table
}

// Tables returns the registered names in creation order.
func (s *Scope) Tables() []string {
	return append([]string(nil), s.tables...)
}

// Close drops the registered tables, newest first. It keeps going after a
// failure and returns the first error. Cancellation of ctx is ignored so that
// an interrupted operation still cleans up.
func (s *Scope) Close(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var first error
	for i := len(s.tables) - 1; i >= 0; i-- {
		table := s.tables[i]
		if err := DropTables(ctx, s.store, table); err != nil {
			log.Warnf("Unable to drop intermediate table %s: %v", table, err)
			if first == nil {
				first = err
			}
			continue
		}
		log.Debugf("Dropped intermediate table %s", table)
	}

	s.tables = nil
	return first
}

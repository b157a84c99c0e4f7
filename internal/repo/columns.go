package repo

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSuchColumn marks a query that failed only because an optional
// column is absent from an older schema. Callers retry once with a
// reduced column list instead of failing the whole read.
var ErrNoSuchColumn = errors.New("no such column")

// missingColumnPhrases is a compatibility shim: database/sql gives us
// no structured code for this condition, so we match the driver's
// message text at this one choke point.
var missingColumnPhrases = []string{
	"no such column",
	"has no column named",
	"unknown column",
}

func classifyColumnErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range missingColumnPhrases {
		if strings.Contains(msg, phrase) {
			return fmt.Errorf("%w: %v", ErrNoSuchColumn, err)
		}
	}
	return err
}

func inClause(column string, values []string) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ",")), args
}

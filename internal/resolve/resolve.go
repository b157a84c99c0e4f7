// Package resolve maps human-facing project references (numeric codes,
// prefixed codes, slugs) to canonical project ids.
package resolve

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"helmsman/internal/repo"
)

// ErrBadReference is an input-shape failure, reported separately from
// a reference that is well formed but matches no project.
var ErrBadReference = errors.New("bad project reference")

// codeColumns are probed with the numeric run extracted from the
// reference; slugColumns with the original, unmodified string.
var (
	codeColumns = []string{"code", "legacy_code"}
	slugColumns = []string{"slug", "name"}
)

type Resolver struct {
	Repo repo.Repo
}

// Resolve returns the canonical project id for a raw reference.
// It never guesses: an exhausted probe list yields repo.ErrNotFound.
func (r Resolver) Resolve(ctx context.Context, raw string) (string, error) {
	ref, err := url.QueryUnescape(raw)
	if err != nil {
		ref = raw
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrBadReference
	}

	if _, err := uuid.Parse(ref); err == nil {
		return ref, nil
	}

	if digits := trailingDigits(ref); digits != "" {
		for _, col := range codeColumns {
			id, err := r.Repo.FindProjectIDByColumn(ctx, col, digits)
			if err == nil {
				return id, nil
			}
			if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrNoSuchColumn) {
				continue
			}
			return "", err
		}
	}

	for _, col := range slugColumns {
		id, err := r.Repo.FindProjectIDByColumn(ctx, col, ref)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrNoSuchColumn) {
			continue
		}
		return "", err
	}
	return "", repo.ErrNotFound
}

// trailingDigits strips any non-numeric prefix and returns the
// trailing numeric run, e.g. "PRJ-1042" -> "1042".
func trailingDigits(s string) string {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	return s[i:]
}

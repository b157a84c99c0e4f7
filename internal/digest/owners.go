package digest

import (
	"context"

	"helmsman/internal/repo"
)

// ProjectMeta is the per-project context a due item is rendered with.
// Recomputed on every request, never cached.
type ProjectMeta struct {
	CanonicalID string `json:"canonicalId"`
	HumanCode   string `json:"humanCode"`
	Name        string `json:"name"`
	OwnerUserID string `json:"ownerUserId,omitempty"`
	OwnerName   string `json:"ownerName,omitempty"`
	OwnerEmail  string `json:"ownerEmail,omitempty"`
}

// ResolveMetas resolves one accountable owner per project using a
// single batched membership query plus a single batched profile query,
// instead of one round-trip pair per project. The membership list is
// ordered owner-first, so the first row seen per project wins.
func ResolveMetas(ctx context.Context, r repo.Repo, projectIDs []string) (map[string]ProjectMeta, error) {
	metas := map[string]ProjectMeta{}
	if len(projectIDs) == 0 {
		return metas, nil
	}
	projects, err := r.GetProjects(ctx, projectIDs)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		code := p.ID
		if p.Code != "" {
			code = "PRJ-" + p.Code
		}
		metas[p.ID] = ProjectMeta{
			CanonicalID: p.ID,
			HumanCode:   code,
			Name:        p.Name,
		}
	}

	memberships, err := r.ListMemberships(ctx, projectIDs)
	if err != nil {
		return nil, err
	}
	ownerByProject := map[string]string{}
	var ownerIDs []string
	seen := map[string]bool{}
	for _, m := range memberships {
		if _, ok := ownerByProject[m.ProjectID]; ok {
			continue
		}
		ownerByProject[m.ProjectID] = m.UserID
		if !seen[m.UserID] {
			seen[m.UserID] = true
			ownerIDs = append(ownerIDs, m.UserID)
		}
	}

	users, err := r.GetUsers(ctx, ownerIDs)
	if err != nil {
		return nil, err
	}
	for projectID, userID := range ownerByProject {
		meta, ok := metas[projectID]
		if !ok {
			continue
		}
		meta.OwnerUserID = userID
		if u, ok := users[userID]; ok {
			meta.OwnerName = u.Name
			meta.OwnerEmail = u.Email
		}
		metas[projectID] = meta
	}
	return metas, nil
}

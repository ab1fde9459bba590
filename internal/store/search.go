package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Search weighting constants from DESIGN NOTES §9: prefix matches weigh
// twice as much as infix matches.
const (
	prefixWeight = 200
	infixWeight  = 100
	ngramSize    = 3
)

// IndexUser (re)builds the UserSearch row for a GlobalUser from its
// username, fullname, and email.
func (s *Store) IndexUser(ctx context.Context, u *GlobalUser) error {
	prefix, infix := buildNgrams(u.Username, u.Fullname, u.Email)
	row := UserSearch{GlobalUserID: u.ID, Prefix: prefix, Infix: infix}
	return s.db.WithContext(ctx).
		Where(UserSearch{GlobalUserID: u.ID}).
		Assign(row).
		FirstOrCreate(&row).Error
}

// buildNgrams produces two space-joined n-gram strings from the lowercased
// fields: Prefix holds the first n-gram of each field (weighted higher —
// likely what a user typed so far), Infix holds every substring n-gram of
// each field (broader recall). Fields are not split on whitespace, and a
// field shorter than the n-gram size goes into both strings whole.
func buildNgrams(fields ...string) (prefix, infix string) {
	var p, inf []string
	for _, f := range fields {
		f = strings.ToLower(f)
		if len(f) < ngramSize {
			p = append(p, f)
			inf = append(inf, f)
			continue
		}
		p = append(p, f[:ngramSize])
		for i := 0; i+ngramSize <= len(f); i++ {
			inf = append(inf, f[i:i+ngramSize])
		}
	}
	return strings.Join(p, " "), strings.Join(inf, " ")
}

type scoredUser struct {
	id    uuid.UUID
	score float64
}

// SearchUsers implements §4.3's search_users: n-gram the query, score every
// indexed user by prefix/infix n-gram overlap, take the top 10, then apply
// the z-score>2 filter when there are more than 4 results (falling back to
// "above mean" when nothing survives that stricter cut).
func (s *Store) SearchUsers(ctx context.Context, query, sitename string) ([]GlobalUser, error) {
	qPrefix, qInfix := buildNgrams(query)
	qPrefixGrams := strings.Fields(qPrefix)
	qInfixGrams := strings.Fields(qInfix)

	var rows []UserSearch
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: search users: %w", err)
	}

	var scored []scoredUser
	for _, r := range rows {
		sc := overlapScore(qPrefixGrams, strings.Fields(r.Prefix))*prefixWeight +
			overlapScore(qInfixGrams, strings.Fields(r.Infix))*infixWeight
		if sc > 0 {
			scored = append(scored, scoredUser{id: r.GlobalUserID, score: sc})
		}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > 10 {
		scored = scored[:10]
	}

	if len(scored) > 4 {
		scored = filterByZScore(scored, 2.0)
	}
	if len(scored) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(scored))
	for i, sc := range scored {
		ids[i] = sc.id
	}

	q := s.db.WithContext(ctx).Where("id IN ?", ids)
	if sitename != "" {
		var siteUserIDs []uuid.UUID
		if err := s.db.WithContext(ctx).Model(&SiteUser{}).
			Where("sitename = ? AND global_user_id IN ?", sitename, ids).
			Pluck("global_user_id", &siteUserIDs).Error; err != nil {
			return nil, fmt.Errorf("store: search users: site filter: %w", err)
		}
		q = s.db.WithContext(ctx).Where("id IN ?", siteUserIDs)
	}

	var users []GlobalUser
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("store: search users: %w", err)
	}
	// Re-order to match the score ranking, since "IN" does not preserve order.
	byID := make(map[uuid.UUID]GlobalUser, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	ordered := make([]GlobalUser, 0, len(users))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			ordered = append(ordered, u)
		}
	}
	return ordered, nil
}

func overlapScore(query, candidate []string) float64 {
	if len(query) == 0 {
		return 0
	}
	set := make(map[string]bool, len(candidate))
	for _, c := range candidate {
		set[c] = true
	}
	var hits int
	for _, q := range query {
		if set[q] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// filterByZScore keeps results with z>2, falling back to "above mean" if
// none survive — per §4.3's search_users contract.
func filterByZScore(scored []scoredUser, threshold float64) []scoredUser {
	mean, stddev := meanStddev(scored)
	if stddev == 0 {
		return aboveMean(scored, mean)
	}
	var out []scoredUser
	for _, s := range scored {
		if (s.score-mean)/stddev > threshold {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return aboveMean(scored, mean)
	}
	return out
}

func aboveMean(scored []scoredUser, mean float64) []scoredUser {
	var out []scoredUser
	for _, s := range scored {
		if s.score > mean {
			out = append(out, s)
		}
	}
	return out
}

func meanStddev(scored []scoredUser) (mean, stddev float64) {
	n := float64(len(scored))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range scored {
		sum += s.score
	}
	mean = sum / n
	var sq float64
	for _, s := range scored {
		d := s.score - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / n)
	return mean, stddev
}

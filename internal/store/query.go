package store

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// businessOrderings maps accepted ordering keys to ORDER BY expressions.
// Unrated businesses sort last in both directions on every backend.
var businessOrderings = map[string]string{
	"name":        "b.name ASC",
	"-name":       "b.name DESC",
	"rating":      "b.rating IS NULL, b.rating ASC",
	"-rating":     "b.rating IS NULL, b.rating DESC",
	"created_at":  "b.created_at ASC",
	"-created_at": "b.created_at DESC",
}

const defaultBusinessOrdering = "-created_at"

// visibleSearchCond restricts alias s (searches) to rows owned by or shared
// with identityID.
func visibleSearchCond(sb *sqlbuilder.SelectBuilder, identityID string) string {
	return fmt.Sprintf(
		"(s.owner_id = %s OR EXISTS (SELECT 1 FROM search_shares sh WHERE sh.search_id = s.id AND sh.identity_id = %s))",
		sb.Var(identityID), sb.Var(identityID))
}

// applyBusinessFilter adds the visibility, field and free-text conditions of
// f to a builder selecting from "businesses b".
func applyBusinessFilter(sb *sqlbuilder.SelectBuilder, f BusinessFilter) {
	sb.From("businesses b")
	sb.Where(fmt.Sprintf(
		"EXISTS (SELECT 1 FROM search_businesses sb2 JOIN searches s ON s.id = sb2.search_id WHERE sb2.business_id = b.id AND %s)",
		visibleSearchCond(sb, f.IdentityID)))

	if f.Category != "" {
		sb.Where(sb.Equal("b.category", f.Category))
	}
	if f.Rating != nil {
		sb.Where(sb.Equal("b.rating", *f.Rating))
	}
	if f.MinRating != nil {
		sb.Where(sb.GreaterEqualThan("b.rating", *f.MinRating))
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		pattern := "%" + likeEscaper.Replace(q) + "%"
		like := func(expr string) string {
			return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, expr, sb.Var(pattern))
		}
		sb.Where(sb.Or(
			like("LOWER(b.name)"),
			like("LOWER(COALESCE(b.email, ''))"),
			like("LOWER(b.phone)"),
			like("LOWER(b.address)"),
		))
	}
}

// likeEscaper makes LIKE wildcards in user input match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildVisibleBusinesses returns the page query and the total-count query
// for f in the given flavor.
func buildVisibleBusinesses(flavor sqlbuilder.Flavor, f BusinessFilter) (list string, listArgs []any, count string, countArgs []any) {
	page := f.Page.normalize()

	ordering := f.Ordering
	if _, ok := businessOrderings[ordering]; !ok {
		ordering = defaultBusinessOrdering
	}

	sb := flavor.NewSelectBuilder()
	sb.Select(prefixed("b.", businessColumnList)...)
	applyBusinessFilter(sb, f)
	sb.OrderBy(businessOrderings[ordering], "b.id ASC")
	sb.Limit(page.Limit).Offset(page.Offset)
	list, listArgs = sb.Build()

	cb := flavor.NewSelectBuilder()
	cb.Select("COUNT(*)")
	applyBusinessFilter(cb, f)
	count, countArgs = cb.Build()
	return list, listArgs, count, countArgs
}

// buildVisibleSearches lists searches owned by or shared with identityID,
// newest first.
func buildVisibleSearches(flavor sqlbuilder.Flavor, identityID string, page Page) (string, []any) {
	page = page.normalize()

	sb := flavor.NewSelectBuilder()
	sb.Select(prefixed("s.", strings.Split(searchColumns, ", "))...)
	sb.From("searches s")
	sb.Where(visibleSearchCond(sb, identityID))
	sb.OrderBy("s.created_at DESC", "s.id ASC")
	sb.Limit(page.Limit).Offset(page.Offset)
	return sb.Build()
}

// buildSearchBusinesses lists the businesses linked to one search in link
// order, which is the provider order of the ingestion that linked them.
func buildSearchBusinesses(flavor sqlbuilder.Flavor, searchID string, page Page) (string, []any) {
	page = page.normalize()

	sb := flavor.NewSelectBuilder()
	sb.Select(prefixed("b.", businessColumnList)...)
	sb.From("businesses b")
	sb.Join("search_businesses sb2", "sb2.business_id = b.id")
	sb.Where(sb.Equal("sb2.search_id", searchID))
	sb.OrderBy("sb2.position ASC", "b.id ASC")
	sb.Limit(page.Limit).Offset(page.Offset)
	return sb.Build()
}

// buildBusinessesByPlaceIDs selects stored businesses among placeIDs.
func buildBusinessesByPlaceIDs(flavor sqlbuilder.Flavor, placeIDs []string) (string, []any) {
	sb := flavor.NewSelectBuilder()
	sb.Select(businessColumnList...)
	sb.From("businesses")
	sb.Where(sb.In("place_id", sqlbuilder.Flatten(placeIDs)...))
	return sb.Build()
}

func prefixed(prefix string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + c
	}
	return out
}

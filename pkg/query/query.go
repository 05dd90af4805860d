// Package query implements the json-server style collection query shared by
// the data sources and the catalog service: equality filters, a free-text
// term, single-field sort and page/limit pagination.
package query

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"shelfkeeper/pkg/domain"
)

const (
	paramSort  = "_sort"
	paramOrder = "_order"
	paramPage  = "_page"
	paramLimit = "_limit"
	paramText  = "q"

	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Query selects, orders and pages a collection.
type Query struct {
	Filters map[string]string
	Text    string
	Sort    string
	Order   string
	Page    int
	Limit   int
}

// Parse reads a Query from URL parameters. Unknown underscore parameters are ignored.
func Parse(values url.Values) Query {
	q := Query{Filters: map[string]string{}}
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		val := vals[0]
		switch key {
		case paramSort:
			q.Sort = strings.TrimSpace(val)
		case paramOrder:
			q.Order = strings.ToLower(strings.TrimSpace(val))
		case paramPage:
			q.Page, _ = strconv.Atoi(val)
		case paramLimit:
			q.Limit, _ = strconv.Atoi(val)
		case paramText:
			q.Text = val
		default:
			if strings.HasPrefix(key, "_") {
				continue
			}
			q.Filters[key] = val
		}
	}
	return q
}

// Values encodes q back into URL parameters.
func (q Query) Values() url.Values {
	values := url.Values{}
	for k, v := range q.Filters {
		values.Set(k, v)
	}
	if q.Text != "" {
		values.Set(paramText, q.Text)
	}
	if q.Sort != "" {
		values.Set(paramSort, q.Sort)
	}
	if q.Order != "" {
		values.Set(paramOrder, q.Order)
	}
	if q.Page > 0 {
		values.Set(paramPage, strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		values.Set(paramLimit, strconv.Itoa(q.Limit))
	}
	return values
}

// IsZero reports whether q selects the whole collection unchanged.
func (q Query) IsZero() bool {
	return len(q.Filters) == 0 && q.Text == "" && q.Sort == "" && q.Page <= 0 && q.Limit <= 0
}

// Apply filters, sorts and pages records. It returns the selected page and the
// number of records that matched before paging. The input is not modified.
func (q Query) Apply(records []domain.Record) ([]domain.Record, int) {
	matched := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if q.matches(r) {
			matched = append(matched, r)
		}
	}
	if q.Sort != "" {
		desc := q.Order == OrderDesc
		sort.SliceStable(matched, func(i, j int) bool {
			c := compare(matched[i][q.Sort], matched[j][q.Sort])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	total := len(matched)
	if q.Limit <= 0 {
		return matched, total
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * q.Limit
	if start >= total {
		return []domain.Record{}, total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total
}

func (q Query) matches(r domain.Record) bool {
	for field, want := range q.Filters {
		got, ok := r[field]
		if !ok || Text(got) != want {
			return false
		}
	}
	if q.Text == "" {
		return true
	}
	term := strings.ToLower(q.Text)
	for _, v := range r {
		s, ok := v.(string)
		if ok && strings.Contains(strings.ToLower(s), term) {
			return true
		}
	}
	return false
}

// Text renders a record value the way it appears in a URL parameter.
func Text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	default:
		return ""
	}
}

// Number converts a numeric record value (or numeric string) to float64.
func Number(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ID returns the integral "id" field of a record.
func ID(r domain.Record) (int64, bool) {
	f, ok := Number(r["id"])
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// MaxID returns the largest integral id in records, or 0.
func MaxID(records []domain.Record) int64 {
	var highest int64
	for _, r := range records {
		if id, ok := ID(r); ok && id > highest {
			highest = id
		}
	}
	return highest
}

func compare(a, b any) int {
	fa, aok := Number(a)
	fb, bok := Number(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(strings.ToLower(Text(a)), strings.ToLower(Text(b)))
}

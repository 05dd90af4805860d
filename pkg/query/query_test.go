package query

import (
	"net/url"
	"testing"

	"shelfkeeper/pkg/domain"
)

func sampleRecords() []domain.Record {
	return []domain.Record{
		{"id": float64(1), "name": "Dune", "pages": float64(412)},
		{"id": float64(2), "name": "Emma", "pages": float64(474)},
		{"id": float64(3), "name": "Beloved", "pages": float64(324)},
		{"id": float64(4), "name": "Dracula", "pages": float64(418)},
	}
}

func TestParseAndValuesRoundTrip(t *testing.T) {
	values, _ := url.ParseQuery("storeId=5&_sort=name&_order=DESC&_page=2&_limit=3&q=du&_embed=books")
	q := Parse(values)
	if q.Filters["storeId"] != "5" || len(q.Filters) != 1 {
		t.Fatalf("unexpected filters: %#v", q.Filters)
	}
	if q.Sort != "name" || q.Order != OrderDesc || q.Page != 2 || q.Limit != 3 || q.Text != "du" {
		t.Fatalf("unexpected query: %#v", q)
	}
	back := Parse(q.Values())
	if back.Sort != q.Sort || back.Order != q.Order || back.Page != q.Page || back.Limit != q.Limit || back.Filters["storeId"] != "5" {
		t.Fatalf("values did not round trip: %#v", back)
	}
}

func TestApplyFiltersByTextualValue(t *testing.T) {
	q := Query{Filters: map[string]string{"id": "3"}}
	got, total := q.Apply(sampleRecords())
	if total != 1 || len(got) != 1 || got[0]["name"] != "Beloved" {
		t.Fatalf("unexpected result: %v (total %d)", got, total)
	}
}

func TestApplyFreeTextIsCaseInsensitive(t *testing.T) {
	q := Query{Text: "D"}
	got, total := q.Apply(sampleRecords())
	if total != 3 || len(got) != 3 {
		t.Fatalf("expected 3 matches, got %d", total)
	}
}

func TestApplySortsNumericallyAndPages(t *testing.T) {
	q := Query{Sort: "pages", Order: OrderDesc, Page: 2, Limit: 2}
	got, total := q.Apply(sampleRecords())
	if total != 4 {
		t.Fatalf("total = %d, want 4", total)
	}
	if len(got) != 2 || got[0]["name"] != "Dune" || got[1]["name"] != "Beloved" {
		t.Fatalf("unexpected page: %v", got)
	}

	q.Page = 5
	got, total = q.Apply(sampleRecords())
	if len(got) != 0 || total != 4 {
		t.Fatalf("expected empty page past the end, got %v", got)
	}
}

func TestApplyKeepsOriginalOrderWithoutSort(t *testing.T) {
	records := sampleRecords()
	got, _ := Query{}.Apply(records)
	for i := range records {
		if got[i]["id"] != records[i]["id"] {
			t.Fatalf("order changed at %d", i)
		}
	}
}

func TestIDAndMaxID(t *testing.T) {
	if id, ok := ID(domain.Record{"id": "17"}); !ok || id != 17 {
		t.Fatalf("string id: got %d %v", id, ok)
	}
	if _, ok := ID(domain.Record{"id": 1.5}); ok {
		t.Fatalf("fractional id must be rejected")
	}
	if _, ok := ID(domain.Record{"name": "x"}); ok {
		t.Fatalf("missing id must be rejected")
	}
	if got := MaxID(sampleRecords()); got != 4 {
		t.Fatalf("MaxID = %d, want 4", got)
	}
	if got := MaxID(nil); got != 0 {
		t.Fatalf("MaxID(nil) = %d, want 0", got)
	}
}

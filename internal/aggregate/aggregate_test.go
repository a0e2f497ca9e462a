package aggregate_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"namesweep/internal/aggregate"
	"namesweep/internal/domain"
)

func TestMergeProvenance(t *testing.T) {
	agg := aggregate.New()
	agg.Merge(domain.QueryResult{Query: "a", Names: []string{"ann", "al"}})
	agg.Merge(domain.QueryResult{Query: "b", Names: []string{"bob"}})

	want := aggregate.Aggregate{
		"ann": {"a"},
		"al":  {"a"},
		"bob": {"b"},
	}
	if !reflect.DeepEqual(agg, want) {
		t.Fatalf("aggregate = %v, want %v", agg, want)
	}
	if got := agg.Names(); !reflect.DeepEqual(got, []string{"al", "ann", "bob"}) {
		t.Fatalf("names = %v", got)
	}
}

func TestMergeIdempotent(t *testing.T) {
	res := domain.QueryResult{Query: "an", Names: []string{"ann", "anna"}}
	agg := aggregate.New()
	agg.Merge(domain.QueryResult{Query: "a", Names: []string{"ann"}})
	agg.Merge(res)
	snapshot := map[string][]string{}
	for name, queries := range agg {
		snapshot[name] = append([]string(nil), queries...)
	}
	agg.Merge(res)
	if !reflect.DeepEqual(map[string][]string(agg), snapshot) {
		t.Fatalf("second merge changed aggregate: %v vs %v", agg, snapshot)
	}
	if !reflect.DeepEqual(agg["ann"], []string{"a", "an"}) {
		t.Fatalf("provenance = %v", agg["ann"])
	}
}

func TestFromStateRecomputes(t *testing.T) {
	state := domain.NewRunState("run-1", "v1", []string{"a", "b", "c"})
	state.Complete(domain.QueryResult{Query: "a", Names: []string{"ann"}})
	state.Complete(domain.QueryResult{Query: "b", Names: []string{"bob", "ann"}})
	state.Complete(domain.QueryResult{Query: "c", Failed: true})

	agg := aggregate.FromState(state)
	if len(agg) != 2 {
		t.Fatalf("expected 2 names, got %d", len(agg))
	}
	if !reflect.DeepEqual(agg["ann"], []string{"a", "b"}) {
		t.Fatalf("ann provenance = %v", agg["ann"])
	}
}

func TestExportGolden(t *testing.T) {
	agg := aggregate.New()
	agg.Merge(domain.QueryResult{Query: "a", Names: []string{"ann", "al"}})
	agg.Merge(domain.QueryResult{Query: "al", Names: []string{"al", "alice"}})
	agg.Merge(domain.QueryResult{Query: "b", Names: []string{"bob"}})

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := agg.ExportFor("v1", at, true).MarshalIndent()
	if err != nil {
		t.Fatalf("marshal export: %v", err)
	}
	g := goldie.New(t, goldie.WithNameSuffix(".golden"))
	g.Assert(t, "export", data)
}

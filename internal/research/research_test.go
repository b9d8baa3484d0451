package research

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/reelforge/reelforge/config"
	"github.com/reelforge/reelforge/internal/adapter"
	"github.com/reelforge/reelforge/internal/engine"
	"github.com/reelforge/reelforge/internal/production"
)

type fakeKnowledge struct {
	fn func(subQuery string) ([]production.Source, error)
}

func (f *fakeKnowledge) Query(ctx context.Context, subQuery string, opts adapter.QueryOptions) ([]production.Source, error) {
	return f.fn(subQuery)
}

func testService(k adapter.GroundedKnowledge) *Service {
	eng := engine.New(config.EngineConfig{
		RetryDelay:     time.Millisecond,
		RateLimitReset: time.Millisecond,
	}, nil, nil)
	return NewService(config.ResearchConfig{MaxResults: 20, Concurrency: 5}, eng, k, nil)
}

func TestSubQueryCounts(t *testing.T) {
	cases := map[string]int{
		DepthShallow: 3,
		DepthMedium:  5,
		DepthDeep:    8,
		"":           5,
		"bogus":      5,
	}
	for depth, want := range cases {
		if got := len(SubQueries("volcanoes", depth, "en")); got != want {
			t.Fatalf("depth %q: %d sub-queries, want %d", depth, got, want)
		}
	}
}

func TestSubQueriesCycleAspects(t *testing.T) {
	qs := SubQueries("tea", DepthDeep, "en")
	for _, q := range qs {
		if !strings.Contains(q, "tea") {
			t.Fatalf("sub-query %q does not mention the topic", q)
		}
	}
	// deep fan-out equals the vocabulary size, so all queries are distinct
	seen := map[string]bool{}
	for _, q := range qs {
		if seen[q] {
			t.Fatalf("duplicate sub-query %q", q)
		}
		seen[q] = true
	}
}

func TestSubQueriesArabicVocabulary(t *testing.T) {
	qs := SubQueries("الفضاء", DepthShallow, "ar")
	if len(qs) != 3 {
		t.Fatalf("expected 3 sub-queries, got %d", len(qs))
	}
	for _, q := range qs {
		if !strings.Contains(q, "الفضاء") {
			t.Fatalf("sub-query %q does not carry the topic", q)
		}
	}
}

func TestTokenizeDropsShortAndPreservesArabic(t *testing.T) {
	set := tokenize("The quick брown فضاء خارجي is at 42km!")
	if _, ok := set["is"]; ok {
		t.Fatal("two-letter token survived")
	}
	if _, ok := set["at"]; ok {
		t.Fatal("two-letter token survived")
	}
	if _, ok := set["فضاء"]; !ok {
		t.Fatal("arabic token lost")
	}
	if _, ok := set["quick"]; !ok {
		t.Fatal("latin token lost")
	}
	if _, ok := set["42km"]; !ok {
		t.Fatal("alphanumeric token lost")
	}
}

func TestJaccardBoundary(t *testing.T) {
	// 5 shared tokens out of 6 in the union: 5/6 ~ 0.833, below the 0.9
	// threshold, so both entries survive
	var dd deduper
	if !dd.accept("alpha bravo charlie delta echo foxtrot") {
		t.Fatal("first entry rejected")
	}
	if !dd.accept("alpha bravo charlie delta echo") {
		t.Fatal("similarity 5/6 must not count as duplicate")
	}
	// identical token set is 1.0: rejected
	if dd.accept("echo delta charlie bravo alpha") {
		t.Fatal("identical token set accepted")
	}
}

func TestRunAggregatesAndRanks(t *testing.T) {
	k := &fakeKnowledge{fn: func(q string) ([]production.Source, error) {
		return []production.Source{{
			ID:        q,
			Title:     q,
			Content:   "unique finding about " + q,
			Relevance: 0.95, // must be capped at 0.85
		}}, nil
	}}
	s := testService(k)
	res, err := s.Run(context.Background(), Request{
		SessionID: "sess",
		Topic:     "volcanoes",
		Depth:     DepthShallow,
		Language:  "en",
		ReferenceDocuments: []adapter.DocumentHandle{{
			Name: "notes.txt",
			Data: []byte("Field observations of volcanoes and magma chambers collected on site."),
		}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.SubQueries) != 3 {
		t.Fatalf("expected 3 sub-queries, got %d", len(res.SubQueries))
	}
	if len(res.Sources) != 4 {
		t.Fatalf("expected 4 sources, got %d", len(res.Sources))
	}
	// reference chunks rank strictly before query sources
	if res.Sources[0].Type != production.SourceTypeReference {
		t.Fatalf("first source type %q", res.Sources[0].Type)
	}
	if res.Sources[0].Relevance != production.ReferenceRelevance {
		t.Fatalf("reference relevance %v", res.Sources[0].Relevance)
	}
	for _, src := range res.Sources[1:] {
		if src.Relevance > production.MaxQueryRelevance {
			t.Fatalf("query relevance %v exceeds cap", src.Relevance)
		}
	}
	// all 4 tasks succeeded: confidence is the mean relevance
	wantMean := (1.0 + 0.85*3) / 4
	if math.Abs(res.Confidence-wantMean) > 1e-9 {
		t.Fatalf("confidence %v, want %v", res.Confidence, wantMean)
	}
}

func TestRunPartialFailureLowersConfidence(t *testing.T) {
	var n int
	k := &fakeKnowledge{fn: func(q string) ([]production.Source, error) {
		n++
		if strings.Contains(q, "overview") {
			return nil, errors.New("upstream down")
		}
		return []production.Source{{
			Content:   "finding for " + q,
			Relevance: 0.8,
		}}, nil
	}}
	s := testService(k)
	res, err := s.Run(context.Background(), Request{
		SessionID: "sess",
		Topic:     "glaciers",
		Depth:     DepthShallow,
		Language:  "en",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.FailedQueries) == 0 {
		t.Fatal("expected failed query to be reported")
	}
	// 2 of 3 tasks succeeded at relevance 0.8
	want := (2.0 / 3.0) * 0.8
	if math.Abs(res.Confidence-want) > 1e-9 {
		t.Fatalf("confidence %v, want %v", res.Confidence, want)
	}
}

func TestRunDeduplicatesAcrossQueries(t *testing.T) {
	k := &fakeKnowledge{fn: func(q string) ([]production.Source, error) {
		// every query returns the same content
		return []production.Source{{Content: "glaciers are large persistent bodies of dense ice", Relevance: 0.5}}, nil
	}}
	s := testService(k)
	res, err := s.Run(context.Background(), Request{
		SessionID: "sess",
		Topic:     "glaciers",
		Depth:     DepthShallow,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Sources) != 1 {
		t.Fatalf("expected 1 deduplicated source, got %d", len(res.Sources))
	}
}

func TestRunRejectsEmptyTopic(t *testing.T) {
	s := testService(&fakeKnowledge{fn: func(string) ([]production.Source, error) { return nil, nil }})
	if _, err := s.Run(context.Background(), Request{Topic: "   "}); err == nil {
		t.Fatal("expected error for empty topic")
	}
}

func TestRunCapsResults(t *testing.T) {
	k := &fakeKnowledge{fn: func(q string) ([]production.Source, error) {
		out := make([]production.Source, 10)
		for i := range out {
			out[i] = production.Source{
				Content:   fmt.Sprintf("distinct finding item%d for %s with extra words", i, q),
				Relevance: 0.5,
			}
		}
		return out, nil
	}}
	eng := engine.New(config.EngineConfig{RetryDelay: time.Millisecond}, nil, nil)
	s := NewService(config.ResearchConfig{MaxResults: 7, Concurrency: 5}, eng, k, nil)
	res, err := s.Run(context.Background(), Request{SessionID: "s", Topic: "bees", Depth: DepthMedium})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Sources) != 7 {
		t.Fatalf("expected 7 capped sources, got %d", len(res.Sources))
	}
}

package research

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reelforge/reelforge/config"
	"github.com/reelforge/reelforge/internal/adapter"
	"github.com/reelforge/reelforge/internal/engine"
	"github.com/reelforge/reelforge/internal/production"
)

var researchTracer trace.Tracer = otel.Tracer("reelforge/internal/research")

const (
	subQueryTimeout  = 30 * time.Second
	referenceTimeout = 10 * time.Second
	// reference chunks kept per document
	maxChunksPerDocument = 10
)

// Request describes one research job.
type Request struct {
	SessionID          string
	Topic              string
	Depth              string
	Language           string
	ReferenceDocuments []adapter.DocumentHandle
}

// Result is the aggregated, deduplicated research output.
type Result struct {
	Topic         string              `json:"topic"`
	SubQueries    []string            `json:"sub_queries"`
	Sources       []production.Source `json:"sources"`
	Confidence    float64             `json:"confidence"`
	FailedQueries []string            `json:"failed_queries,omitempty"`
}

// Service fans a topic out into angled sub-queries, folds in uploaded
// reference documents, and aggregates everything into a ranked source list.
type Service struct {
	logger    *log.Logger
	cfg       config.ResearchConfig
	engine    *engine.Engine
	knowledge adapter.GroundedKnowledge
}

// NewService builds a research service on top of the execution engine.
func NewService(cfg config.ResearchConfig, eng *engine.Engine, knowledge adapter.GroundedKnowledge, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	return &Service{
		logger:    logger,
		cfg:       cfg.Normalize(),
		engine:    eng,
		knowledge: knowledge,
	}
}

// SubQueries expands a topic into depth-many angled queries. The aspect
// vocabulary repeats cyclically past its length.
func SubQueries(topic, depth, language string) []string {
	n := SubQueryCount(depth)
	vocab := aspects(language)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf(vocab[i%len(vocab)], topic))
	}
	return out
}

type querySources struct {
	query   string
	sources []production.Source
}

type referenceSources struct {
	name   string
	chunks []string
}

// Run executes the research job and never fails outright: individual query
// failures lower confidence instead.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := researchTracer.Start(ctx, "research.run",
		trace.WithAttributes(
			attribute.String("topic", req.Topic),
			attribute.String("depth", req.Depth),
		))
	defer span.End()

	if strings.TrimSpace(req.Topic) == "" {
		return nil, fmt.Errorf("research topic is empty")
	}

	subQueries := SubQueries(req.Topic, req.Depth, req.Language)
	tasks := make([]engine.Task, 0, len(subQueries)+len(req.ReferenceDocuments))

	for i, q := range subQueries {
		query := q
		tasks = append(tasks, engine.Task{
			ID:        fmt.Sprintf("query-%d", i),
			Type:      "research-query",
			Priority:  1,
			Retryable: true,
			Timeout:   subQueryTimeout,
			Execute: func(tctx context.Context) (interface{}, error) {
				sources, err := s.knowledge.Query(tctx, query, adapter.QueryOptions{
					Language: req.Language,
					Type:     production.SourceTypeWeb,
				})
				if err != nil {
					return nil, err
				}
				return querySources{query: query, sources: sources}, nil
			},
		})
	}

	for i, doc := range req.ReferenceDocuments {
		doc := doc
		tasks = append(tasks, engine.Task{
			ID:       fmt.Sprintf("reference-%d", i),
			Type:     "research-reference",
			Priority: 2,
			Timeout:  referenceTimeout,
			Execute: func(tctx context.Context) (interface{}, error) {
				text, err := extractText(doc)
				if err != nil {
					return nil, err
				}
				chunks := relevantChunks(req.Topic, chunkText(text), maxChunksPerDocument)
				return referenceSources{name: doc.Name, chunks: chunks}, nil
			},
		})
	}

	results := s.engine.Execute(ctx, tasks, engine.Options{
		ExecutionID:      fmt.Sprintf("research-%s", req.SessionID),
		ConcurrencyLimit: s.cfg.Concurrency,
	})

	return s.aggregate(req, subQueries, results), nil
}

// aggregate folds task results into a ranked, deduplicated source list.
// Reference chunks enter first so duplicated web content loses to them.
func (s *Service) aggregate(req Request, subQueries []string, results []engine.TaskResult) *Result {
	var dd deduper
	var refSources, webSources []production.Source
	var failed []string
	var succeeded, total int

	for _, r := range results {
		total++
		if !r.Success {
			if strings.HasPrefix(r.TaskID, "query-") {
				failed = append(failed, r.Err)
			} else {
				failed = append(failed, fmt.Sprintf("reference: %s", r.Err))
			}
			s.logger.Printf("warn: research task %s failed: %s", r.TaskID, r.Err)
			continue
		}
		succeeded++
		switch payload := r.Data.(type) {
		case referenceSources:
			for i, chunk := range payload.chunks {
				if !dd.accept(chunk) {
					continue
				}
				refSources = append(refSources, production.Source{
					ID:        fmt.Sprintf("%s-%s-%d", req.SessionID, payload.name, i),
					Title:     payload.name,
					Content:   chunk,
					Type:      production.SourceTypeReference,
					Relevance: production.ReferenceRelevance,
					Language:  req.Language,
					FetchedAt: time.Now().UTC(),
				})
			}
		}
	}
	// second pass: query sources dedupe against the reference chunks
	for _, r := range results {
		if !r.Success {
			continue
		}
		payload, ok := r.Data.(querySources)
		if !ok {
			continue
		}
		for _, src := range payload.sources {
			if !dd.accept(src.Content) {
				continue
			}
			if src.Relevance > production.MaxQueryRelevance {
				src.Relevance = production.MaxQueryRelevance
			}
			if src.Type == "" {
				src.Type = production.SourceTypeWeb
			}
			webSources = append(webSources, src)
		}
	}

	sort.SliceStable(webSources, func(i, j int) bool {
		return webSources[i].Relevance > webSources[j].Relevance
	})
	sources := append(refSources, webSources...)
	if len(sources) > s.cfg.MaxResults {
		sources = sources[:s.cfg.MaxResults]
	}

	var confidence float64
	if total > 0 && len(sources) > 0 {
		var sum float64
		for _, src := range sources {
			sum += src.Relevance
		}
		successRate := float64(succeeded) / float64(total)
		confidence = successRate * (sum / float64(len(sources)))
	}

	s.logger.Printf("research %q: %d source(s), confidence %.2f (%d/%d tasks ok)",
		req.Topic, len(sources), confidence, succeeded, total)

	return &Result{
		Topic:         req.Topic,
		SubQueries:    subQueries,
		Sources:       sources,
		Confidence:    confidence,
		FailedQueries: failed,
	}
}

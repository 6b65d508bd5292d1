package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/generation"
	"docqa/internal/logger"
	"docqa/internal/metrics"
)

const (
	DefaultTopK = 5
	MaxTopK     = 10
)

var tracer = otel.Tracer("docqa/service")

// Options tunes the query boundary.
type Options struct {
	DefaultTopK int
	MaxTopK     int
}

// RAGServiceImpl ingests documents into the index and answers questions
// grounded on retrieved passages.
type RAGServiceImpl struct {
	chunker   domain.Chunker
	index     domain.Index
	generator generation.Generator
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

var _ domain.RAGService = (*RAGServiceImpl)(nil)

func NewRAGService(chunker domain.Chunker, index domain.Index, generator generation.Generator, opts Options, log *zap.Logger) *RAGServiceImpl {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = DefaultTopK
	}
	if opts.MaxTopK <= 0 || opts.MaxTopK > MaxTopK {
		opts.MaxTopK = MaxTopK
	}
	if opts.DefaultTopK > opts.MaxTopK {
		opts.DefaultTopK = opts.MaxTopK
	}
	return &RAGServiceImpl{
		chunker:   chunker,
		index:     index,
		generator: generator,
		opts:      opts,
		logger:    logger.OrNop(log).Named("rag"),
		now:       time.Now,
	}
}

// Ingest chunks text and writes its passages to the index. Empty text is
// accepted and produces no passages and no backend calls.
func (s *RAGServiceImpl) Ingest(ctx context.Context, text, source string) (res domain.IngestResult, err error) {
	ctx, span := tracer.Start(ctx, "rag.Ingest", trace.WithAttributes(
		attribute.String("docqa.source", source),
		attribute.Int("docqa.chars", utf8.RuneCountInString(text)),
	))
	defer func() { endSpan(span, err) }()

	if !utf8.ValidString(text) {
		return domain.IngestResult{}, fmt.Errorf("%w: document %q is not valid UTF-8 text", domain.ErrInvalidInput, source)
	}
	if source == "" {
		source = "untitled.txt"
	}
	res = domain.IngestResult{Source: source, TotalChars: utf8.RuneCountInString(text)}
	if strings.TrimSpace(text) == "" {
		s.logger.Info("skipping empty document", zap.String("source", source))
		return res, nil
	}

	passages, err := s.chunker.Chunk(domain.Document{Content: text, Source: source, IngestedAt: s.now().UTC()})
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("ingest %s: chunk: %w", source, err)
	}
	if err := s.index.Upsert(ctx, passages); err != nil {
		return domain.IngestResult{}, fmt.Errorf("ingest %s: %w", source, err)
	}

	res.PassageCount = len(passages)
	span.SetAttributes(attribute.Int("docqa.passages", res.PassageCount))
	s.logger.Info("ingested document",
		zap.String("source", source),
		zap.Int("passages", res.PassageCount),
		zap.Int("chars", res.TotalChars))
	return res, nil
}

// Query answers question from the topK passages nearest to it. topK is
// clamped to the configured default and maximum.
func (s *RAGServiceImpl) Query(ctx context.Context, question string, topK int) (ans domain.Answer, err error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.Queries.WithLabelValues(outcome).Inc()
		if outcome != "error" {
			metrics.QueryDuration.Observe(time.Since(start).Seconds())
		}
	}()

	question = strings.TrimSpace(question)
	if question == "" || !utf8.ValidString(question) {
		return domain.Answer{}, fmt.Errorf("%w: question must be non-empty text", domain.ErrInvalidInput)
	}
	k := s.ClampTopK(topK)

	ctx, span := tracer.Start(ctx, "rag.Query", trace.WithAttributes(attribute.Int("docqa.top_k", k)))
	defer func() { endSpan(span, err) }()

	results, err := s.index.Search(ctx, question, k)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("query: retrieve: %w", err)
	}
	span.SetAttributes(attribute.Int("docqa.results", len(results)))
	if len(results) == 0 {
		outcome = "no_context"
		s.logger.Info("no passages matched, skipping generation")
		return domain.Answer{Text: NoContextAnswer, Sources: []domain.SearchResult{}}, nil
	}

	out, err := s.generator.Generate(ctx, BuildPrompt(question, results))
	if err != nil {
		return domain.Answer{}, fmt.Errorf("query: %w", err)
	}
	outcome = "answered"
	s.logger.Debug("answered question",
		zap.Int("top_k", k),
		zap.Int("sources", len(results)),
		zap.Duration("took", time.Since(start)))
	return domain.Answer{Text: strings.TrimSpace(out), Sources: results}, nil
}

// HealthCheck reports whether the index backend is reachable.
func (s *RAGServiceImpl) HealthCheck(ctx context.Context) bool {
	return s.index.HealthCheck(ctx)
}

// ClampTopK applies the default for non-positive values and caps the rest.
func (s *RAGServiceImpl) ClampTopK(topK int) int {
	switch {
	case topK <= 0:
		return s.opts.DefaultTopK
	case topK > s.opts.MaxTopK:
		return s.opts.MaxTopK
	default:
		return topK
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

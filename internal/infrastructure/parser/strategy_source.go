package parser

import (
	"context"
	"fmt"
	"log/slog"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
	"PositionScanner/internal/scanner"
)

// StrategySource implements ItemSource for one configured source via a
// registered scanner strategy.
type StrategySource struct {
	registry *scanner.Registry
	scanner  string
	request  scanner.Request
	logger   *slog.Logger
}

var _ ports.ItemSource = (*StrategySource)(nil)

// NewStrategySource binds a source's pages and options to the named scanner.
func NewStrategySource(reg *scanner.Registry, scannerName string, req scanner.Request, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		scanner:  scannerName,
		request:  req,
		logger:   log,
	}
}

// FetchItems runs the scanner. Partial results are passed through with the
// scanner's error.
func (s *StrategySource) FetchItems(ctx context.Context) ([]domain.Item, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	strategy, err := s.registry.Resolve(s.scanner)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.request.SourceName, err)
	}

	s.debug("scan source", "source", s.request.SourceName, "scanner", s.scanner, "pages", len(s.request.Pages))
	results, err := strategy.Scan(ctx, s.request)
	for i := range results {
		if results[i].Source == "" {
			results[i].Source = s.request.SourceName
		}
	}
	if err != nil {
		return results, fmt.Errorf("scan source %s: %w", s.request.SourceName, err)
	}

	s.debug("source produced items", "source", s.request.SourceName, "count", len(results))
	return results, nil
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

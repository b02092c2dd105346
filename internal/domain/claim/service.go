package claim

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/fhirmapper/pkg/fhirmodels"
)

// ServiceOptions tunes the bulk path.
type ServiceOptions struct {
	// BulkWorkers bounds concurrent document construction in MapBulk.
	BulkWorkers int
	// BulkIncludeHeader applies header mapping in MapBulk as well. Off by
	// default: bulk documents carry line items only.
	BulkIncludeHeader bool
}

type Service struct {
	repo   Repository
	mapper *Mapper
	opts   ServiceOptions
	logger zerolog.Logger
}

func NewService(repo Repository, mapper *Mapper, opts ServiceOptions, logger zerolog.Logger) *Service {
	if opts.BulkWorkers < 1 {
		opts.BulkWorkers = 1
	}
	return &Service{repo: repo, mapper: mapper, opts: opts, logger: logger}
}

// MapSingle fetches line and header rows for id over one connection and
// builds a document. Missing rows are not an error.
func (s *Service) MapSingle(ctx context.Context, id string) (*fhirmodels.ExplanationOfBenefit, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalidRequest("PayerClaimUniqueIdentifier is required")
	}
	rows, err := s.repo.FetchClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	eob, err := s.mapper.Build(ctx, rows, true)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("claim_id", id).
		Int("lines", len(rows.Lines)).
		Int("headers", len(rows.Headers)).
		Msg("claim mapped")
	return eob, nil
}

// MapBulk fetches rows for every id sequentially, then builds the documents
// concurrently. The result is in input order.
func (s *Service) MapBulk(ctx context.Context, ids []string) ([]*fhirmodels.ExplanationOfBenefit, error) {
	if ids == nil {
		return nil, invalidRequest("PayerClaimUniqueIdentifiers is required")
	}
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return nil, invalidRequest("PayerClaimUniqueIdentifiers[%d] is empty", i)
		}
	}

	fetched := make([]*Rows, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, dataSourceError("fetch", id, err)
		}
		if s.opts.BulkIncludeHeader {
			rows, err := s.repo.FetchClaim(ctx, id)
			if err != nil {
				return nil, err
			}
			fetched[i] = rows
			continue
		}
		lines, err := s.repo.FetchLines(ctx, id)
		if err != nil {
			return nil, err
		}
		fetched[i] = &Rows{ID: id, Lines: lines}
	}

	docs := make([]*fhirmodels.ExplanationOfBenefit, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BulkWorkers)
	for i, rows := range fetched {
		g.Go(func() error {
			eob, err := s.mapper.Build(gctx, rows, s.opts.BulkIncludeHeader)
			if err != nil {
				return err
			}
			docs[i] = eob
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.logger.Debug().Int("claims", len(ids)).Bool("header", s.opts.BulkIncludeHeader).Msg("bulk claims mapped")
	return docs, nil
}

package claim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

type mockRepo struct {
	mu         sync.Mutex
	lines      map[string][]*Line
	headers    map[string][]*Header
	err        error
	claimCalls []string
	lineCalls  []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		lines:   make(map[string][]*Line),
		headers: make(map[string][]*Header),
	}
}

func (m *mockRepo) FetchClaim(_ context.Context, id string) (*Rows, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimCalls = append(m.claimCalls, id)
	if m.err != nil {
		return nil, dataSourceError("fetch claim", id, m.err)
	}
	return &Rows{ID: id, Lines: m.lines[id], Headers: m.headers[id]}, nil
}

func (m *mockRepo) FetchLines(_ context.Context, id string) ([]*Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lineCalls = append(m.lineCalls, id)
	if m.err != nil {
		return nil, dataSourceError("fetch lines", id, m.err)
	}
	return m.lines[id], nil
}

func (m *mockRepo) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claimCalls) + len(m.lineCalls)
}

func newTestService(repo Repository, opts ServiceOptions) *Service {
	return NewService(repo, newTestMapper(), opts, zerolog.Nop())
}

func linesN(n int) []*Line {
	out := make([]*Line, n)
	for i := range out {
		out[i] = &Line{LineNumber: ptrInt(i + 1), ModifierCode1: ptrStr(fmt.Sprintf("M%d", i+1))}
	}
	return out
}

func TestMapSingle_ItemCountMatchesRows(t *testing.T) {
	for _, n := range []int{0, 1, 3, 50} {
		repo := newMockRepo()
		repo.lines["CLM-1"] = linesN(n)
		repo.headers["CLM-1"] = []*Header{sampleHeader()}
		svc := newTestService(repo, ServiceOptions{BulkWorkers: 2})

		eob, err := svc.MapSingle(context.Background(), "CLM-1")
		if err != nil {
			t.Fatalf("n=%d: MapSingle: %v", n, err)
		}
		if len(eob.Item) != n {
			t.Fatalf("n=%d: expected %d items, got %d", n, n, len(eob.Item))
		}
		for i, item := range eob.Item {
			got := item.Modifier[0].Coding[0].Code
			if got == nil || *got != fmt.Sprintf("M%d", i+1) {
				t.Errorf("n=%d: item %d modifier code = %v", n, i, got)
			}
		}
	}
}

func TestMapSingle_UsesOneFetch(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, ServiceOptions{})

	if _, err := svc.MapSingle(context.Background(), "CLM-1"); err != nil {
		t.Fatalf("MapSingle: %v", err)
	}
	if len(repo.claimCalls) != 1 || len(repo.lineCalls) != 0 {
		t.Errorf("expected one FetchClaim call, got claim=%v lines=%v", repo.claimCalls, repo.lineCalls)
	}
}

func TestMapSingle_UnknownClaim(t *testing.T) {
	svc := newTestService(newMockRepo(), ServiceOptions{})

	eob, err := svc.MapSingle(context.Background(), "DOES-NOT-EXIST")
	if err != nil {
		t.Fatalf("expected no error for unknown claim, got %v", err)
	}
	if eob.Item != nil || eob.Identifier != nil || eob.Status != "" {
		t.Errorf("expected empty document, got %+v", eob)
	}
}

func TestMapSingle_BlankID(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, ServiceOptions{})

	for _, id := range []string{"", "   "} {
		_, err := svc.MapSingle(context.Background(), id)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("id=%q: expected ErrInvalidRequest, got %v", id, err)
		}
	}
	if repo.calls() != 0 {
		t.Errorf("expected no repository calls, got %d", repo.calls())
	}
}

func TestMapSingle_DataSourceError(t *testing.T) {
	repo := newMockRepo()
	repo.err = errors.New("connection refused")
	svc := newTestService(repo, ServiceOptions{})

	_, err := svc.MapSingle(context.Background(), "CLM-1")
	if !errors.Is(err, ErrDataSource) {
		t.Fatalf("expected ErrDataSource, got %v", err)
	}
	var dse *DataSourceError
	if !errors.As(err, &dse) || dse.ClaimID != "CLM-1" {
		t.Errorf("expected DataSourceError for CLM-1, got %#v", err)
	}
}

func TestMapSingle_Idempotent(t *testing.T) {
	repo := newMockRepo()
	repo.lines["CLM-1"] = linesN(4)
	repo.headers["CLM-1"] = []*Header{sampleHeader()}
	svc := newTestService(repo, ServiceOptions{})

	first, err := svc.MapSingle(context.Background(), "CLM-1")
	if err != nil {
		t.Fatalf("MapSingle: %v", err)
	}
	second, err := svc.MapSingle(context.Background(), "CLM-1")
	if err != nil {
		t.Fatalf("MapSingle: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated mapping differs (-first +second):\n%s", diff)
	}
}

func TestMapBulk_LinesOnly(t *testing.T) {
	repo := newMockRepo()
	repo.lines["A"] = linesN(2)
	repo.lines["B"] = linesN(1)
	repo.headers["A"] = []*Header{sampleHeader()}
	svc := newTestService(repo, ServiceOptions{BulkWorkers: 4})

	docs, err := svc.MapBulk(context.Background(), []string{"A", "B"})
	if err != nil {
		t.Fatalf("MapBulk: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if len(docs[0].Item) != 2 || len(docs[1].Item) != 1 {
		t.Errorf("expected 2 and 1 items, got %d and %d", len(docs[0].Item), len(docs[1].Item))
	}
	for i, d := range docs {
		if d.Identifier != nil || d.Status != "" || d.Patient != nil || d.Created != "" {
			t.Errorf("doc %d: expected no header fields, got %+v", i, d)
		}
	}
	if len(repo.claimCalls) != 0 {
		t.Errorf("expected header rows not to be fetched, got %v", repo.claimCalls)
	}
	if diff := cmp.Diff([]string{"A", "B"}, repo.lineCalls); diff != "" {
		t.Errorf("fetch order mismatch (-want +got):\n%s", diff)
	}
}

func TestMapBulk_WithHeader(t *testing.T) {
	repo := newMockRepo()
	repo.lines["A"] = linesN(1)
	repo.headers["A"] = []*Header{sampleHeader()}
	svc := newTestService(repo, ServiceOptions{BulkWorkers: 2, BulkIncludeHeader: true})

	docs, err := svc.MapBulk(context.Background(), []string{"A"})
	if err != nil {
		t.Fatalf("MapBulk: %v", err)
	}
	if docs[0].Status != "active" || docs[0].Created != "2023-03-05" {
		t.Errorf("expected header fields, got %+v", docs[0])
	}
	if len(repo.lineCalls) != 0 || len(repo.claimCalls) != 1 {
		t.Errorf("expected FetchClaim only, got claim=%v lines=%v", repo.claimCalls, repo.lineCalls)
	}
}

func TestMapBulk_PreservesInputOrder(t *testing.T) {
	repo := newMockRepo()
	var ids []string
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("C%02d", i)
		ids = append(ids, id)
		repo.lines[id] = linesN(i%5 + 1)
	}
	svc := newTestService(repo, ServiceOptions{BulkWorkers: 8})

	docs, err := svc.MapBulk(context.Background(), ids)
	if err != nil {
		t.Fatalf("MapBulk: %v", err)
	}
	for i, d := range docs {
		if len(d.Item) != i%5+1 {
			t.Fatalf("doc %d: expected %d items, got %d", i, i%5+1, len(d.Item))
		}
	}
}

func TestMapBulk_DuplicateIDs(t *testing.T) {
	repo := newMockRepo()
	repo.lines["A"] = linesN(3)
	svc := newTestService(repo, ServiceOptions{BulkWorkers: 2})

	docs, err := svc.MapBulk(context.Background(), []string{"A", "A"})
	if err != nil {
		t.Fatalf("MapBulk: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected one document per identifier, got %d", len(docs))
	}
	if diff := cmp.Diff(docs[0], docs[1]); diff != "" {
		t.Errorf("duplicate identifiers mapped differently:\n%s", diff)
	}
}

func TestMapBulk_Empty(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, ServiceOptions{})

	docs, err := svc.MapBulk(context.Background(), []string{})
	if err != nil {
		t.Fatalf("MapBulk: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected empty result, got %d", len(docs))
	}
	if repo.calls() != 0 {
		t.Errorf("expected no repository calls, got %d", repo.calls())
	}
}

func TestMapBulk_InvalidBeforeAnyQuery(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
	}{
		{"missing field", nil},
		{"blank entry", []string{"A", ""}},
		{"whitespace entry", []string{" ", "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo()
			svc := newTestService(repo, ServiceOptions{})

			_, err := svc.MapBulk(context.Background(), tt.ids)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			if repo.calls() != 0 {
				t.Errorf("expected no repository calls, got %d", repo.calls())
			}
		})
	}
}

func TestMapBulk_DataSourceErrorFailsWholeRequest(t *testing.T) {
	repo := newMockRepo()
	repo.err = errors.New("timeout")
	svc := newTestService(repo, ServiceOptions{})

	docs, err := svc.MapBulk(context.Background(), []string{"A", "B"})
	if !errors.Is(err, ErrDataSource) {
		t.Fatalf("expected ErrDataSource, got %v", err)
	}
	if docs != nil {
		t.Errorf("expected no partial result, got %d docs", len(docs))
	}
	if len(repo.lineCalls) != 1 {
		t.Errorf("expected fetching to stop at the first failure, got %v", repo.lineCalls)
	}
}

func TestMapBulk_CancelledContext(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, ServiceOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.MapBulk(ctx, []string{"A"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if repo.calls() != 0 {
		t.Errorf("expected no repository calls, got %d", repo.calls())
	}
}

func TestNewService_ClampsWorkers(t *testing.T) {
	svc := NewService(newMockRepo(), newTestMapper(), ServiceOptions{BulkWorkers: 0}, zerolog.Nop())
	if svc.opts.BulkWorkers != 1 {
		t.Errorf("expected BulkWorkers clamped to 1, got %d", svc.opts.BulkWorkers)
	}
}

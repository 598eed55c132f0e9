package service

import (
	"cmp"
	"context"
	"slices"

	"docverify/internal/document/model"
	"docverify/internal/document/repository"

	"golang.org/x/sync/errgroup"
)

// QueryService is the read side used by dashboards and the verifier queue.
type QueryService struct {
	Docs repository.DocumentStore
}

func NewQueryService(docs repository.DocumentStore) *QueryService {
	return &QueryService{Docs: docs}
}

func (q *QueryService) CountsByStatus(ctx context.Context) (model.StatusCounts, error) {
	sizes := make([]int, len(model.AllStatuses))
	g, ctx := errgroup.WithContext(ctx)
	for i, st := range model.AllStatuses {
		g.Go(func() error {
			docs, err := q.Docs.ListByStatus(ctx, st)
			if err != nil {
				return err
			}
			sizes[i] = len(docs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.StatusCounts{}, err
	}

	var counts model.StatusCounts
	for i, st := range model.AllStatuses {
		counts.Add(st, sizes[i])
	}
	return counts, nil
}

// CountsByOwner breaks the status counts down per uploader, busiest first.
func (q *QueryService) CountsByOwner(ctx context.Context) ([]model.OwnerCounts, error) {
	lists := make([][]*model.Document, len(model.AllStatuses))
	g, ctx := errgroup.WithContext(ctx)
	for i, st := range model.AllStatuses {
		g.Go(func() error {
			docs, err := q.Docs.ListByStatus(ctx, st)
			if err != nil {
				return err
			}
			lists[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byOwner := make(map[string]*model.OwnerCounts)
	for i, st := range model.AllStatuses {
		for _, d := range lists[i] {
			oc, ok := byOwner[d.OwnerID]
			if !ok {
				oc = &model.OwnerCounts{OwnerID: d.OwnerID}
				byOwner[d.OwnerID] = oc
			}
			oc.Add(st, 1)
		}
	}

	out := make([]model.OwnerCounts, 0, len(byOwner))
	for _, oc := range byOwner {
		out = append(out, *oc)
	}
	slices.SortFunc(out, func(a, b model.OwnerCounts) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.OwnerID, b.OwnerID)
	})
	return out, nil
}

// PendingQueue lists pending documents oldest first.
func (q *QueryService) PendingQueue(ctx context.Context) ([]*model.Document, error) {
	docs, err := q.Docs.ListByStatus(ctx, model.StatusPending)
	if err != nil {
		return nil, err
	}
	slices.Reverse(docs)
	return docs, nil
}

func (q *QueryService) ListByOwner(ctx context.Context, ownerID string) ([]*model.Document, error) {
	return q.Docs.ListByOwner(ctx, ownerID)
}

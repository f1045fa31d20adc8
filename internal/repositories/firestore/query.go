package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"

	domain "github.com/aurelia-jewels/api/internal/domain"
)

// countDocuments runs a server-side count aggregation over the query.
func countDocuments(ctx context.Context, query firestore.Query) (int64, error) {
	results, err := query.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, err
	}
	raw, ok := results["total"]
	if !ok {
		return 0, errors.New("firestore: count aggregation missing total")
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("firestore: unexpected count aggregation type %T", raw)
	}
	return value.GetIntegerValue(), nil
}

// normalisePager guards against zero or negative paging values.
func normalisePager(pager domain.Pagination) domain.Pagination {
	if pager.Page < 1 {
		pager.Page = 1
	}
	if pager.Limit < 1 {
		pager.Limit = 12
	}
	return pager
}

// pageOf assembles an offset page together with its totals metadata.
func pageOf[T any](items []T, pager domain.Pagination, total int64) domain.Page[T] {
	pager = normalisePager(pager)
	pages := int((total + int64(pager.Limit) - 1) / int64(pager.Limit))
	if items == nil {
		items = []T{}
	}
	return domain.Page[T]{
		Items: items,
		Info: domain.PageInfo{
			Page:  pager.Page,
			Limit: pager.Limit,
			Total: total,
			Pages: pages,
		},
	}
}

// applyPager appends offset and limit clauses derived from page-based paging.
func applyPager(query firestore.Query, pager domain.Pagination) firestore.Query {
	pager = normalisePager(pager)
	return query.Offset((pager.Page - 1) * pager.Limit).Limit(pager.Limit)
}

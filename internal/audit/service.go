package audit

import (
	"context"
	"fmt"
)

// PagingInfo describes the position of a feed page.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result bundles a feed page with its paging info.
type Result struct {
	Events []Event
	Paging PagingInfo
}

// Service answers feed queries for external monitoring. It is read-only and
// lives outside the request/response path of protected endpoints.
type Service struct {
	store Store
}

// NewService constructs a feed Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Feed returns one page of the event feed, newest first.
func (s *Service) Feed(ctx context.Context, f Filters) (Result, error) {
	if s.store == nil {
		return Result{}, fmt.Errorf("audit: store not configured")
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	// Fetch one extra row to learn whether a next page exists.
	events, err := s.store.Window(ctx, f, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(events) > pageSize
	if hasNext {
		events = events[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Events: events, Paging: paging}, nil
}

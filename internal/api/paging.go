package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Page is one slice of a listing. Page numbers start at 1.
type Page[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

func newPage[T any](items []T, offset, limit, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Page: offset/limit + 1, PageSize: limit, Total: total}
}

// paging reads page and page_size. page_size above the maximum is clamped.
func paging(r *http.Request) (limit, offset int, err error) {
	page, err := positiveParam(r, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	size, err := positiveParam(r, "page_size", defaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	size = min(size, maxPageSize)
	return size, (page - 1) * size, nil
}

func positiveParam(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", model.ErrInvalidFilter, key)
	}
	return n, nil
}

// timeRange reads the RFC 3339 from and to parameters.
func timeRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, fmt.Errorf("%w: from: %v", model.ErrInvalidFilter, err)
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, fmt.Errorf("%w: to: %v", model.ErrInvalidFilter, err)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, fmt.Errorf("%w: to is before from", model.ErrInvalidFilter)
	}
	return from, to, nil
}

// orderFilter reads the order listing parameters. status takes a
// comma-separated list of status names.
func orderFilter(r *http.Request) (store.OrderFilter, error) {
	var f store.OrderFilter
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		for _, name := range strings.Split(v, ",") {
			st, err := model.ParseOrderStatus(strings.TrimSpace(name))
			if err != nil {
				return f, fmt.Errorf("%w: %v", model.ErrInvalidFilter, err)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if v := q.Get("side"); v != "" {
		side, err := model.ParseSide(v)
		if err != nil {
			return f, err
		}
		f.Side = side
	}
	if v := q.Get("type"); v != "" {
		typ, err := model.ParseOrderType(v)
		if err != nil {
			return f, err
		}
		f.Type = typ
	}

	var err error
	if f.From, f.To, err = timeRange(r); err != nil {
		return f, err
	}
	f.Limit, f.Offset, err = paging(r)
	return f, err
}

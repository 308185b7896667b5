package common

import "strconv"

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Page is a 1-based page of Limit rows.
type Page struct {
	Number int
	Limit  int
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// ParsePage reads raw query values. Invalid or missing values fall back to
// page 1 and DefaultPageSize; the limit is capped at MaxPageSize.
func ParsePage(rawPage, rawLimit string) Page {
	p := Page{Number: 1, Limit: DefaultPageSize}
	if n, err := strconv.Atoi(rawPage); err == nil && n > 0 {
		p.Number = n
	}
	if n, err := strconv.Atoi(rawLimit); err == nil && n > 0 {
		p.Limit = min(n, MaxPageSize)
	}
	return p
}

type PaginationResult struct {
	Message     string      `json:"message"`
	Data        interface{} `json:"data"`
	Count       int64       `json:"count"`
	CurrentPage int         `json:"currentPage"`
	NextPage    int         `json:"nextPage"`
	PrevPage    int         `json:"prevPage"`
	LastPage    int         `json:"lastPage"`
}

// PaginateResponse wraps one page of data. Next and previous pages are 0
// when they do not exist; message defaults to "success".
func PaginateResponse(data interface{}, total int64, p Page, message string) PaginationResult {
	if message == "" {
		message = "success"
	}
	res := PaginationResult{
		Message:     message,
		Data:        data,
		Count:       total,
		CurrentPage: p.Number,
	}
	if p.Limit > 0 {
		res.LastPage = int((total + int64(p.Limit) - 1) / int64(p.Limit))
	}
	if p.Number < res.LastPage {
		res.NextPage = p.Number + 1
	}
	if p.Number > 1 {
		res.PrevPage = p.Number - 1
	}
	return res
}

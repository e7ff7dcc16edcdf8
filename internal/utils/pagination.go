// Package utils holds small helpers shared by the HTTP layer.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as an int, returning def when s is blank or invalid.
// Surrounding whitespace is ignored.
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageBounds limits the page size a listing accepts.
type PageBounds struct {
	DefaultSize int
	MaxSize     int
}

// Page is a 1-based page request after clamping.
type Page struct {
	Number int
	Size   int
}

// ParsePage reads raw page and size values. Missing or invalid values fall
// back to page 1 and b.DefaultSize; the size is kept within [1, b.MaxSize].
func ParsePage(rawPage, rawSize string, b PageBounds) Page {
	p := Page{
		Number: AtoiDefault(rawPage, 1),
		Size:   AtoiDefault(rawSize, b.DefaultSize),
	}
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 1
	}
	if b.MaxSize > 0 && p.Size > b.MaxSize {
		p.Size = b.MaxSize
	}
	return p
}

// Offset is the number of rows before the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages is the page count needed for total rows.
func (p Page) TotalPages(total int64) int {
	if p.Size < 1 || total <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

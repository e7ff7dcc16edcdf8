package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		{"", 10, 10},
		{"   ", 3, 3},
		{"42", 0, 42},
		{" 42 ", 7, 42},
		{"-13", 1, -13},
		{"x", 5, 5},
		{"999999999999999999999999", -1, -1},
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestParsePage(t *testing.T) {
	b := PageBounds{DefaultSize: 50, MaxSize: 200}
	cases := []struct {
		page, size string
		want       Page
	}{
		{"", "", Page{1, 50}},
		{"3", "10", Page{3, 10}},
		{"0", "0", Page{1, 1}},
		{"-2", "-5", Page{1, 1}},
		{"2", "1000", Page{2, 200}},
		{"abc", "xyz", Page{1, 50}},
	}
	for _, tc := range cases {
		if got := ParsePage(tc.page, tc.size, b); got != tc.want {
			t.Fatalf("ParsePage(%q, %q) = %+v; want %+v", tc.page, tc.size, got, tc.want)
		}
	}

	if got := ParsePage("1", "5000", PageBounds{DefaultSize: 10}); got.Size != 5000 {
		t.Fatalf("zero MaxSize must not cap, got %d", got.Size)
	}
}

func TestPage_OffsetAndTotalPages(t *testing.T) {
	p := Page{Number: 3, Size: 20}
	if p.Offset() != 40 {
		t.Fatalf("offset = %d", p.Offset())
	}
	for total, want := range map[int64]int{0: 0, 1: 1, 20: 1, 21: 2, 60: 3} {
		if got := p.TotalPages(total); got != want {
			t.Fatalf("TotalPages(%d) = %d; want %d", total, got, want)
		}
	}
}

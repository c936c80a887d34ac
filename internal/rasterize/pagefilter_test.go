package rasterize

import (
	"reflect"
	"testing"
)

func TestParsePageFilter(t *testing.T) {
	cases := []struct {
		in      string
		want    PageFilter
		wantErr bool
	}{
		{"", nil, false},
		{"  ", nil, false},
		{"2", PageFilter{2}, false},
		{"0,2,5", PageFilter{0, 2, 5}, false},
		{"0, 2, 5", PageFilter{0, 2, 5}, false},
		{"abc", nil, true},
		{"1,x", nil, true},
	}
	for _, tc := range cases {
		got, err := ParsePageFilter(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePageFilter(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePageFilter(%q): %v", tc.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParsePageFilter(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSelectAllPages(t *testing.T) {
	var f PageFilter
	got, err := f.Select(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("got %v", got)
	}
}

func TestSelectValidatesRange(t *testing.T) {
	if _, err := (PageFilter{5}).Select(3); err == nil {
		t.Fatal("index past the last page must fail")
	}
	if _, err := (PageFilter{-1}).Select(3); err == nil {
		t.Fatal("negative index must fail")
	}
	if _, err := (PageFilter{2}).Select(3); err != nil {
		t.Fatalf("last page should be selectable: %v", err)
	}
}

func TestSelectDedupsAndSorts(t *testing.T) {
	got, err := (PageFilter{2, 0, 2}).Select(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []int{0, 2}) {
		t.Fatalf("got %v, want [0 2]", got)
	}
}

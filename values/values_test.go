package values_test

import (
	"reflect"
	"testing"

	"github.com/pgnotifyhub/hub/values"
)

func TestValues_Empty(t *testing.T) {
	var v values.Values[int]
	if v.Len() != 0 {
		t.Fatalf("expected len 0, got %d", v.Len())
	}
	if v.Slice() != nil {
		t.Fatalf("expected nil slice, got %v", v.Slice())
	}
}

func TestValues_SingleInline(t *testing.T) {
	var v values.Values[int]
	v.Append(42)
	if v.Len() != 1 {
		t.Fatalf("expected len 1, got %d", v.Len())
	}
	if got := v.Slice(); !reflect.DeepEqual(got, []int{42}) {
		t.Fatalf("expected [42], got %v", got)
	}
}

func TestValues_Overflow(t *testing.T) {
	v := values.From([]int{1, 2, 3, 4})
	if v.Len() != 4 {
		t.Fatalf("expected len 4, got %d", v.Len())
	}
	if got := v.Slice(); !reflect.DeepEqual(got, []int{1, 2, 3, 4}) {
		t.Fatalf("expected [1 2 3 4], got %v", got)
	}
}

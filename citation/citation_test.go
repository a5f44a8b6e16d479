package citation

import (
	"reflect"
	"testing"
)

func TestParseNoCite(t *testing.T) {
	r := Parse("I do not recall. [NO_CITE]")
	if r.Kind != NoCite {
		t.Errorf("expected NoCite, got %v", r.Kind)
	}
}

func TestParseCitedMultiple(t *testing.T) {
	r := Parse("Based on what you told me before. [0, 2]")
	if r.Kind != Cited {
		t.Fatalf("expected Cited, got %v", r.Kind)
	}
	if !reflect.DeepEqual(r.Indices, []int{0, 2}) {
		t.Errorf("expected [0 2], got %v", r.Indices)
	}
}

func TestParseCitedWithSpacing(t *testing.T) {
	r := Parse("Answer. [ 0 , 1 ]")
	if r.Kind != Cited {
		t.Fatalf("expected Cited, got %v", r.Kind)
	}
	if !reflect.DeepEqual(r.Indices, []int{0, 1}) {
		t.Errorf("expected [0 1], got %v", r.Indices)
	}
}

func TestParseCitedSingle(t *testing.T) {
	r := Parse("[3]")
	if r.Kind != Cited || !reflect.DeepEqual(r.Indices, []int{3}) {
		t.Errorf("expected Cited([3]), got %v %v", r.Kind, r.Indices)
	}
}

func TestParseMalformedNonNumeric(t *testing.T) {
	r := Parse("Sure. [abc]")
	if r.Kind != Malformed {
		t.Errorf("expected Malformed, got %v", r.Kind)
	}
}

func TestParseMalformedDoubleComma(t *testing.T) {
	r := Parse("[0,,1]")
	if r.Kind != Malformed {
		t.Errorf("expected Malformed, got %v", r.Kind)
	}
}

func TestParseMalformedEmpty(t *testing.T) {
	r := Parse("[]")
	if r.Kind != Malformed {
		t.Errorf("expected Malformed, got %v", r.Kind)
	}
}

func TestParseMalformedNoMarker(t *testing.T) {
	r := Parse("no brackets here at all")
	if r.Kind != Malformed {
		t.Errorf("expected Malformed, got %v", r.Kind)
	}
}

func TestParseSkipsNonCitationBrackets(t *testing.T) {
	r := Parse("As noted [see above], the answer is here. [1, 2]")
	if r.Kind != Cited || !reflect.DeepEqual(r.Indices, []int{1, 2}) {
		t.Errorf("expected Cited([1 2]) past the non-citation bracket, got %v %v", r.Kind, r.Indices)
	}
}

func TestParseFirstMatchOnly(t *testing.T) {
	r := Parse("[0] mentions something and also [1]")
	if r.Kind != Cited || !reflect.DeepEqual(r.Indices, []int{0}) {
		t.Errorf("expected Cited([0]) from first match, got %v %v", r.Kind, r.Indices)
	}
}

func TestValidateOutOfRange(t *testing.T) {
	r := ParseAndValidate("[0, 5]", 3)
	if r.Kind != Malformed {
		t.Errorf("expected Malformed for out-of-range index, got %v", r.Kind)
	}
}

func TestValidateDuplicate(t *testing.T) {
	r := ParseAndValidate("[1, 1]", 3)
	if r.Kind != Malformed {
		t.Errorf("expected Malformed for duplicate index, got %v", r.Kind)
	}
}

func TestValidateWithinRange(t *testing.T) {
	r := ParseAndValidate("[0, 2]", 3)
	if r.Kind != Cited {
		t.Errorf("expected Cited, got %v", r.Kind)
	}
}

func TestValidatePassesThroughNoCite(t *testing.T) {
	r := ParseAndValidate("[NO_CITE]", 3)
	if r.Kind != NoCite {
		t.Errorf("expected NoCite, got %v", r.Kind)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{Cited: "cited", NoCite: "no_cite", Malformed: "malformed"}
	for k, want := range cases {
		if k.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, k.String(), want)
		}
	}
}

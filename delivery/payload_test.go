package delivery

import (
	"errors"
	"testing"
)

func TestParsePayloadRejectsInvalidJSON(t *testing.T) {
	for _, body := range []string{"", "   ", "not json", `{"a":`, "a=1&b=2"} {
		if _, err := ParsePayload([]byte(body)); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("ParsePayload(%q) error = %v, want ErrInvalidPayload", body, err)
		}
	}
}

func TestPayloadQueryValues(t *testing.T) {
	p, err := ParsePayload([]byte(`{"a":1,"big":12345678901234567890,"s":"x y","ok":true,"tags":["t1","t2"],"nested":{"k":"<v>"},"gone":null}`))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if !p.IsObject() {
		t.Fatal("expected object payload")
	}

	q := p.QueryValues()
	checks := map[string]string{
		"a":      "1",
		"big":    "12345678901234567890",
		"s":      "x y",
		"ok":     "true",
		"nested": `{"k":"<v>"}`,
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("query %s = %q, want %q", k, got, want)
		}
	}
	if tags := q["tags"]; len(tags) != 2 || tags[0] != "t1" || tags[1] != "t2" {
		t.Errorf("tags = %v", tags)
	}
	if q.Has("gone") {
		t.Error("null members should be omitted")
	}
}

func TestPayloadNonObject(t *testing.T) {
	p, err := ParsePayload([]byte(` [1,2,3] `))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if p.IsObject() {
		t.Fatal("array payload reported as object")
	}
	if len(p.QueryValues()) != 0 {
		t.Fatal("array payload should produce no query values")
	}
	if string(p.Bytes()) != "[1,2,3]" {
		t.Fatalf("Bytes() = %s", p.Bytes())
	}
}

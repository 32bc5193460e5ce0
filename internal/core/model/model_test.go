package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func TestFeature_NullGeometryRoundTrip(t *testing.T) {
	var f Feature
	if err := json.Unmarshal([]byte(`{"type":"Feature","geometry":null,"properties":{"a":1}}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Geometry != nil || f.Properties["a"] != float64(1) {
		t.Fatalf("feature=%+v", f)
	}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"type":"Feature","geometry":null,"properties":{"a":1}}` {
		t.Fatalf("json=%s", b)
	}
}

func TestFeatureCollection_EmptyEncodesArray(t *testing.T) {
	b, _ := json.Marshal(FeatureCollection{})
	if string(b) != `{"type":"FeatureCollection","features":[]}` {
		t.Fatalf("json=%s", b)
	}
	var fc FeatureCollection
	if err := json.Unmarshal([]byte(`{"type":"Feature"}`), &fc); err == nil {
		t.Fatalf("expected type mismatch error")
	}
}

func TestClone_IsDeep(t *testing.T) {
	f := Feature{
		Geometry:   orb.LineString{{0, 0}, {1, 1}},
		Properties: map[string]any{"tags": []any{"a"}, "nested": map[string]any{"k": 1.0}},
	}
	c := f.Clone()
	c.Geometry.(orb.LineString)[0][0] = 9
	c.Properties["tags"].([]any)[0] = "b"
	c.Properties["nested"].(map[string]any)["k"] = 2.0
	if f.Geometry.(orb.LineString)[0][0] != 0 || f.Properties["tags"].([]any)[0] != "a" || f.Properties["nested"].(map[string]any)["k"] != 1.0 {
		t.Fatalf("clone aliased the original: %+v", f)
	}
}

func TestDecodeGeoJSON(t *testing.T) {
	cases := []struct {
		in   string
		kind GeoJSONKind
		n    int
	}{
		{`{"type":"Point","coordinates":[1,2]}`, GeoJSONGeometry, 1},
		{`{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}`, GeoJSONFeature, 1},
		{`{"type":"FeatureCollection","features":[]}`, GeoJSONFeatureCollection, 0},
	}
	for _, tc := range cases {
		fs, kind, err := DecodeGeoJSON([]byte(tc.in))
		if err != nil || kind != tc.kind || len(fs) != tc.n {
			t.Fatalf("%s: kind=%v n=%d err=%v", tc.in, kind, len(fs), err)
		}
	}
	for _, bad := range []string{`{}`, `{"type":"Topology"}`, `[1,2]`} {
		if _, _, err := DecodeGeoJSON([]byte(bad)); !errors.Is(err, ErrNotGeoJSON) {
			t.Fatalf("%s: err=%v", bad, err)
		}
	}
}

func TestResult_ExactlyOneOf(t *testing.T) {
	ok := Success(nil, nil, time.Second)
	if err := ok.Validate(); err != nil || string(ok.Output) != "null" || ok.Logs == nil {
		t.Fatalf("success=%+v err=%v", ok, err)
	}
	fail := Failed(KindTimeout, "slow", 0)
	if err := fail.Validate(); err != nil || fail.Kind() != KindTimeout || fail.OK() {
		t.Fatalf("failure=%+v err=%v", fail, err)
	}
	bad := ExecutionResult{Status: StatusFailure, Output: json.RawMessage("1"), Error: &ExecutionError{Kind: KindRuntime}}
	if bad.Validate() == nil {
		t.Fatalf("failure with output accepted")
	}
}

func TestResult_JSON(t *testing.T) {
	idx := 2
	r := Failure(&ExecutionError{Kind: KindGeometry, Message: "bad ring", Operation: "union", FeatureIndex: &idx}, nil, 1500*time.Microsecond)
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"status":"failure","error":{"kind":"geometry","message":"bad ring","operation":"union","featureIndex":2},"logs":[],"durationMs":1.5}`
	if string(b) != want {
		t.Fatalf("json=%s\nwant %s", b, want)
	}
	var back ExecutionResult
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Error.Operation != "union" || *back.Error.FeatureIndex != 2 || back.Duration != 1500*time.Microsecond {
		t.Fatalf("back=%+v", back)
	}
}

func TestBBox_Validate(t *testing.T) {
	if err := (BBox{West: -10, South: -5, East: 10, North: 5}).Validate(); err != nil {
		t.Fatalf("valid bbox rejected: %v", err)
	}
	if err := (BBox{West: 10, South: 0, East: -10, North: 1}).Validate(); err == nil {
		t.Fatalf("inverted bbox accepted")
	}
}

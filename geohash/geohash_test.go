package geohash_test

import (
	"testing"

	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/geohash"
	"github.com/datasift/datasift-go/mock"
	"github.com/datasift/datasift-go/test"
)

func located(lat, lon interface{}) datasift.Interaction {
	return datasift.Interaction{"interaction": map[string]interface{}{
		"id":  "1",
		"geo": map[string]interface{}{"latitude": lat, "longitude": lon},
	}}
}

func TestCell(t *testing.T) {
	tests := []struct {
		name        string
		interaction datasift.Interaction
		precision   uint
		exp         string
		expOK       bool
	}{
		{name: "london", interaction: located(51.5074, -0.1278), precision: 6, exp: "gcpvj0", expOK: true},
		{name: "strings", interaction: located("51.5074", "-0.1278"), precision: 4, exp: "gcpv", expOK: true},
		{name: "no geo", interaction: datasift.Interaction{"interaction": map[string]interface{}{"id": "1"}}},
		{name: "bad latitude", interaction: located("north", -0.1278), precision: 6},
	}
	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			cell, ok := geohash.Cell(tst.interaction, tst.precision)
			test.MustBe(t, tst.expOK, ok)
			test.MustBe(t, tst.exp, cell)
		})
	}
}

func TestTransformer(t *testing.T) {
	rec := &mock.RecordingHandler{}
	tr := geohash.NewTransformer(rec, 5)
	c := mock.NewConsumer("abc")

	orig := located(51.5074, -0.1278)
	tr.OnInteraction(c, orig, "abc")
	tr.OnInteraction(c, datasift.Interaction{"interaction": map[string]interface{}{"id": "2"}}, "abc")
	tr.OnWarning(c, "passed through")

	got := rec.Filter("interaction")
	test.MustBe(t, 2, len(got))
	ns := got[0].Interaction["interaction"].(map[string]interface{})
	test.MustBe(t, "gcpvj", ns["geohash"])
	if _, ok := orig["interaction"].(map[string]interface{})["geohash"]; ok {
		t.Fatalf("original interaction was modified")
	}
	_, ok := got[1].Interaction["interaction"].(map[string]interface{})["geohash"]
	test.MustBe(t, false, ok)
	test.MustBe(t, "passed through", rec.Filter("warning")[0].Message)
}

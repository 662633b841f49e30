package models

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDocumentCoordinateOrder(t *testing.T) {
	doc := []byte(`[{"id":"o1","vertices":[[0.1,0.3],[0.2,0.3],[0.2,0.4]],"link_id":"p7","manual_link":true}]`)

	rs, err := DecodeDocument(doc)
	require.NoError(t, err)
	require.Len(t, rs, 1)

	r := rs[0]
	assert.Equal(t, "o1", r.ID)
	// вершины хранятся как [y, x]
	assert.Equal(t, Vertex{X: 0.3, Y: 0.1}, r.Vertices[0])
	require.True(t, r.HasLink())
	assert.Equal(t, "p7", *r.LinkID)
	assert.True(t, r.IsManualLink())
	assert.False(t, r.IsEdited())
	assert.Nil(t, r.AvgIntensity)
}

func TestEncodeDocumentOmitsAbsentFields(t *testing.T) {
	rs := Regions{{ID: "a", Vertices: []Vertex{{X: 0.5, Y: 0.25}}}}

	out, err := EncodeDocument(rs)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a","vertices":[[0.25,0.5]]}]`, string(out))

	rs[0].SetLink("b")
	out, err = EncodeDocument(rs)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a","vertices":[[0.25,0.5]],"link_id":"b"}]`, string(out))
}

func TestEncodeDocumentEmpty(t *testing.T) {
	out, err := EncodeDocument(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))

	rs, err := DecodeDocument([]byte("null"))
	require.NoError(t, err)
	assert.NotNil(t, rs)
	assert.Empty(t, rs)
}

func TestDecodeDocumentRejectsBadVertex(t *testing.T) {
	_, err := DecodeDocument([]byte(`[{"id":"a","vertices":[[0.1]]}]`))
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	edited := true
	rs := Regions{{ID: "a", Vertices: []Vertex{{X: 1, Y: 2}}, Edited: &edited}}
	rs[0].SetLink("z")

	cp := rs.Clone()
	require.Empty(t, cmp.Diff(rs, cp))

	cp[0].Vertices[0].X = 9
	cp[0].SetLink("y")
	*cp[0].Edited = false

	assert.Equal(t, 1.0, rs[0].Vertices[0].X)
	assert.Equal(t, "z", *rs[0].LinkID)
	assert.True(t, rs[0].IsEdited())
}

func TestFilterDegenerate(t *testing.T) {
	tri := []Vertex{{0, 0}, {1, 0}, {0, 1}}
	rs := Regions{
		{ID: "ok", Vertices: tri},
		{ID: "line", Vertices: tri[:2]},
		{ID: "empty"},
	}

	valid, dropped := FilterDegenerate(rs)
	assert.Equal(t, []string{"ok"}, valid.IDs())
	assert.Equal(t, []string{"line", "empty"}, dropped)
}

func TestCountEdited(t *testing.T) {
	yes, no := true, false
	rs := Regions{{ID: "a", Edited: &yes}, {ID: "b", Edited: &no}, {ID: "c"}}
	assert.Equal(t, 1, rs.CountEdited())
}

func TestFilterInvalidIDs(t *testing.T) {
	tri := []Vertex{{0, 0}, {1, 0}, {0, 1}}
	rs := Regions{
		{ID: "a", Vertices: tri},
		{ID: "", Vertices: tri},
		{ID: "b", Vertices: tri},
		{ID: "a", Vertices: []Vertex{{0.5, 0.5}, {1, 0.5}, {0.5, 1}}},
	}

	valid, dropped := FilterInvalidIDs(rs)
	assert.Equal(t, []string{"a", "b"}, valid.IDs())
	assert.Equal(t, tri, valid[0].Vertices)
	assert.Equal(t, []string{"#1", "a"}, dropped)
}

func TestSanitize(t *testing.T) {
	tri := []Vertex{{0, 0}, {1, 0}, {0, 1}}
	rs := Regions{
		{ID: "a", Vertices: tri},
		{ID: "a", Vertices: tri},
		{ID: "line", Vertices: tri[:2]},
	}

	valid, dropped := Sanitize(rs)
	assert.Equal(t, []string{"a"}, valid.IDs())
	assert.Equal(t, []string{"a", "line"}, dropped)
}

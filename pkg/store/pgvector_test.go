package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docchat/internal/models"
)

func TestPointIDDeterministic(t *testing.T) {
	first := PointID("report.pdf", 3)
	second := PointID("report.pdf", 3)
	assert.Equal(t, first, second)
}

func TestPointIDDistinguishesInputs(t *testing.T) {
	base := PointID("report.pdf", 3)

	assert.NotEqual(t, base, PointID("report.pdf", 4))
	assert.NotEqual(t, base, PointID("notes.txt", 3))

	// The separator keeps ("a:1", 2) and ("a", 12) apart.
	assert.NotEqual(t, PointID("a:1", 2), PointID("a", 12))
}

func TestBuildPoints(t *testing.T) {
	chunks := []models.Chunk{
		{File: "notes.txt", ChunkIndex: 0, Text: "first", Embedding: []float32{0.1, 0.2}},
		{File: "notes.txt", ChunkIndex: 1, Text: "second", Embedding: []float32{0.3, 0.4}},
	}

	points := BuildPoints(chunks)
	require.Len(t, points, 2)

	assert.Equal(t, PointID("notes.txt", 0), points[0].ID)
	assert.Equal(t, "first", points[0].Payload.Text)
	assert.Equal(t, "notes.txt", points[0].Payload.File)
	assert.Equal(t, 0, points[0].Payload.ChunkIndex)
	assert.Equal(t, []float32{0.1, 0.2}, points[0].Embedding)

	assert.Equal(t, PointID("notes.txt", 1), points[1].ID)
	assert.Equal(t, 1, points[1].Payload.ChunkIndex)
}

func TestBuildPointsRerunYieldsSameIDs(t *testing.T) {
	chunks := []models.Chunk{
		{File: "guide.md", ChunkIndex: 0, Text: "alpha", Embedding: []float32{1}},
		{File: "guide.md", ChunkIndex: 1, Text: "beta", Embedding: []float32{2}},
	}

	first := BuildPoints(chunks)
	second := BuildPoints(chunks)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

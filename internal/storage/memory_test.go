package storage

import (
	"context"
	"testing"

	"github.com/sirosfoundation/go-ihe/pkg/xca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ xca.DocumentStore = (*Memory)(nil)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("https://documents.example.com/")

	ok, err := m.Exists(ctx, "cx/pt/doc.xml")
	require.NoError(t, err)
	assert.False(t, ok)

	data := []byte("<ClinicalDocument/>")
	require.NoError(t, m.Put(ctx, "cx/pt/doc.xml", data, "application/xml"))
	data[0] = 'X'

	ok, err = m.Exists(ctx, "cx/pt/doc.xml")
	require.NoError(t, err)
	assert.True(t, ok)

	obj, err := m.Get(ctx, "cx/pt/doc.xml")
	require.NoError(t, err)
	assert.Equal(t, "<ClinicalDocument/>", string(obj.Data))
	assert.Equal(t, "application/xml", obj.ContentType)
	assert.EqualValues(t, 19, obj.Size)
	assert.Equal(t, Checksum([]byte("<ClinicalDocument/>")), obj.Checksum)
	assert.Equal(t, 1, m.Len())

	assert.Equal(t, "https://documents.example.com/cx/pt/doc.xml", m.URL("cx/pt/doc.xml"))

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_DefaultURL(t *testing.T) {
	assert.Equal(t, "memory://cx/pt/doc.pdf", NewMemory("").URL("cx/pt/doc.pdf"))
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://a.example/b/c", JoinURL("https://a.example/", "/b/c"))
	assert.Equal(t, "https://a.example/b/c", JoinURL("https://a.example", "b/c"))
}

package archive

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type leaf struct {
	Vals []float64
	N    int
}

func (l *leaf) PersistenceName() string { return "Leaf" }

func (l *leaf) Write(h *OutputHandle) error {
	c := h.AddCatalog(Field{Name: "vals"}, Field{Name: "n"})
	return c.Add(Record{"vals": l.Vals, "n": l.N})
}

type node struct {
	Name  string
	Left  *leaf
	Right *leaf
}

func (n *node) PersistenceName() string { return "Node" }

func (n *node) Write(h *OutputHandle) error {
	l, err := h.Put(n.Left)
	if err != nil {
		return err
	}
	r, err := h.Put(n.Right)
	if err != nil {
		return err
	}
	c := h.AddCatalog(Field{Name: "name"}, Field{Name: "left"}, Field{Name: "right"})
	return c.Add(Record{"name": n.Name, "left": l, "right": r})
}

func testRegistry(t *testing.T) *Registry {
	reg := NewRegistry()
	require.NoError(t, reg.Register("Leaf", FactoryFunc(func(h *InputHandle) (Persistable, error) {
		c, err := h.Catalog(0)
		if err != nil {
			return nil, err
		}
		vals, err := c.Records[0].Floats("vals")
		if err != nil {
			return nil, err
		}
		n, err := c.Records[0].Int("n")
		if err != nil {
			return nil, err
		}
		return &leaf{Vals: vals, N: n}, nil
	})))
	require.NoError(t, reg.Register("Node", FactoryFunc(func(h *InputHandle) (Persistable, error) {
		c, err := h.Catalog(0)
		if err != nil {
			return nil, err
		}
		rec := c.Records[0]
		n := &node{}
		if n.Name, err = rec.String("name"); err != nil {
			return nil, err
		}
		for _, side := range []struct {
			key string
			dst **leaf
		}{{"left", &n.Left}, {"right", &n.Right}} {
			id, err := rec.Int(side.key)
			if err != nil {
				return nil, err
			}
			p, err := h.Get(id)
			if err != nil {
				return nil, err
			}
			if p != nil {
				*side.dst = p.(*leaf)
			}
		}
		return n, nil
	})))
	return reg
}

func TestRegistryDuplicate(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register("Leaf", FactoryFunc(nil))
	assert.ErrorIs(t, err, ErrDuplicateFactory)
	assert.Equal(t, []string{"Leaf", "Node"}, reg.Names())
}

func TestRoundTripSharedReferences(t *testing.T) {
	shared := &leaf{Vals: []float64{1.5, 2, math.Inf(1)}, N: 3}
	n := &node{Name: "top", Left: shared, Right: shared}

	out := NewOutputArchive()
	id, err := out.Put(n)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, 2, out.Len(), "shared leaf stored once")

	again, err := out.Put(shared)
	require.NoError(t, err)
	assert.Equal(t, 2, again)

	buf := bytes.Buffer{}
	require.NoError(t, out.Encode(&buf))

	in, err := Decode(&buf, testRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, in.IDs())

	p, err := in.Get(1)
	require.NoError(t, err)
	got := p.(*node)
	assert.Equal(t, "top", got.Name)
	assert.Same(t, got.Left, got.Right)
	assert.Equal(t, []float64{1.5, 2, math.Inf(1)}, got.Left.Vals)
	assert.Equal(t, 3, got.Left.N)

	p2, err := in.Get(1)
	require.NoError(t, err)
	assert.Same(t, got, p2.(*node))
}

func TestNilReference(t *testing.T) {
	out := NewOutputArchive()
	_, err := out.Put(&node{Name: "lonely"})
	require.NoError(t, err)

	buf := bytes.Buffer{}
	require.NoError(t, out.Encode(&buf))
	in, err := Decode(&buf, testRegistry(t))
	require.NoError(t, err)

	p, err := in.Get(1)
	require.NoError(t, err)
	assert.Nil(t, p.(*node).Left)

	p, err = in.Get(0)
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestPut_TypedNil(t *testing.T) {
	out := NewOutputArchive()
	var l *leaf
	id, err := out.Put(l)
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	assert.Equal(t, 0, out.Len())

	id, err = out.Put(&node{Name: "half", Right: &leaf{N: 3}})
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, 2, out.Len())
}

func TestDecodeErrors(t *testing.T) {
	out := NewOutputArchive()
	_, err := out.Put(&leaf{N: 1})
	require.NoError(t, err)
	buf := bytes.Buffer{}
	require.NoError(t, out.Encode(&buf))

	in, err := Decode(bytes.NewReader(buf.Bytes()), NewRegistry())
	require.NoError(t, err)
	_, err = in.Get(1)
	assert.ErrorIs(t, err, ErrUnknownFactory)

	_, err = in.Get(7)
	assert.ErrorIs(t, err, ErrNoSuchID)
}

func TestCatalogSchema(t *testing.T) {
	c := Catalog{Schema: []Field{{Name: "a"}}}
	assert.NoError(t, c.Add(Record{"a": 1}))
	assert.ErrorIs(t, c.Add(Record{"b": 1}), ErrField)

	f, err := c.Records[0].Float("a")
	assert.NoError(t, err)
	assert.Equal(t, 1.0, f)

	_, err = c.Records[0].String("a")
	assert.ErrorIs(t, err, ErrField)
	_, err = c.Records[0].Int("missing")
	assert.ErrorIs(t, err, ErrField)
}

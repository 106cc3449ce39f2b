package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func twoClusterNode(t *testing.T, sizeEach int) *InternalNode {
	t.Helper()
	return newInternalNode([]node{
		NewCluster(sizeEach),
		NewCluster(sizeEach),
	})
}

func TestInternalNodeLocateAndBasicAccess(t *testing.T) {
	n := twoClusterNode(t, 20)
	require.Equal(t, 40, n.BitSize())

	n.UpdateBit(0, true)
	n.UpdateBit(25, true) // second child, local index 5
	require.True(t, n.IsBitSet(0))
	require.True(t, n.IsBitSet(25))
	require.Equal(t, 2, n.PopCount())
}

func TestInternalNodeEmptyFullPropagation(t *testing.T) {
	n := twoClusterNode(t, 4)
	require.True(t, n.IsEmpty())

	for i := 0; i < 4; i++ {
		n.UpdateBit(i, true)
	}
	require.True(t, n.IsSegmentFull(0))
	require.False(t, n.IsSegmentEmpty(0))
	require.True(t, n.IsSegmentEmpty(1))
	require.False(t, n.IsEmpty())
}

func TestInternalNodeInsertRemoveAcrossChildren(t *testing.T) {
	n := twoClusterNode(t, 4)
	n.UpdateBit(3, true) // last bit of first child
	n.UpdateBit(4, true) // first bit of second child

	overflow := n.InsertBitAt(0, true)
	require.False(t, overflow)
	// the carried bit out of child0 (old bit3) should now sit at index4
	require.True(t, n.IsBitSet(4))
	require.True(t, n.IsBitSet(5)) // old index4 shifted to 5

	removed := n.RemoveBitAt(0, false)
	require.True(t, removed)
	require.True(t, n.IsBitSet(3))
	require.True(t, n.IsBitSet(4))
}

func TestInternalNodeGrowAddsChildren(t *testing.T) {
	n := newInternalNode([]node{NewCluster(MaxSegmentsPerCluster * PayloadBits)}) // one full-capacity child
	absorbed := n.Grow(10)
	require.Equal(t, 10, absorbed)
	require.Equal(t, 2, len(n.children))
}

func TestInternalNodeShrinkRemovesChildren(t *testing.T) {
	n := twoClusterNode(t, 10)
	removed := n.Shrink(15)
	require.Equal(t, 15, removed)
	require.Equal(t, 1, len(n.children))
	require.Equal(t, 5, n.BitSize())
}

func TestInternalNodeSingleChild(t *testing.T) {
	n := newInternalNode([]node{NewCluster(5)})
	child, ok := n.singleChild()
	require.True(t, ok)
	require.NotNil(t, child)

	n2 := twoClusterNode(t, 5)
	_, ok = n2.singleChild()
	require.False(t, ok)
}

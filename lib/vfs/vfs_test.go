// SPDX-License-Identifier: GPL-2.0-or-later

package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamrec/tev/lib/manifest"
	"github.com/steamrec/tev/lib/sku"
)

func fm(name string, flags uint32) manifest.FileMapping {
	return manifest.FileMapping{Filename: name, Flags: flags}
}

func TestAssembleBasic(t *testing.T) {
	s := &sku.SKU{Depots: []uint32{1234}}
	manifests := map[uint32]*manifest.Manifest{
		1234: {
			Metadata: manifest.Metadata{DepotID: 1234, CreationTime: 100},
			Payload: manifest.Payload{Mappings: []manifest.FileMapping{
				fm("dir/a.txt", 0),
				fm("dir/sub/b.txt", 0),
			}},
		},
	}

	tree, err := Assemble(s, manifests)
	require.NoError(t, err)

	rootChildren := tree.Children(RootInode)
	require.Len(t, rootChildren, 1)
	dirInode := rootChildren[0]
	dirNode, ok := tree.Node(dirInode)
	require.True(t, ok)
	assert.Equal(t, "dir", dirNode.Name())
	assert.True(t, dirNode.IsDir())

	aInode, ok := tree.Lookup(dirInode, "a.txt")
	require.True(t, ok)
	aNode, ok := tree.Node(aInode)
	require.True(t, ok)
	assert.Equal(t, KindReal, aNode.Kind)
	assert.False(t, aNode.IsDir())

	subInode, ok := tree.Lookup(dirInode, "sub")
	require.True(t, ok)
	subNode, ok := tree.Node(subInode)
	require.True(t, ok)
	assert.Equal(t, KindSynthetic, subNode.Kind)
	assert.True(t, subNode.IsDir())

	bInode, ok := tree.Lookup(subInode, "b.txt")
	require.True(t, ok)
	_, ok = tree.Node(bInode)
	require.True(t, ok)
}

func TestAssembleDedupDuplicatePaths(t *testing.T) {
	s := &sku.SKU{Depots: []uint32{1, 2}}
	manifests := map[uint32]*manifest.Manifest{
		1: {
			Metadata: manifest.Metadata{DepotID: 1},
			Payload:  manifest.Payload{Mappings: []manifest.FileMapping{fm("shared.txt", 0)}},
		},
		2: {
			Metadata: manifest.Metadata{DepotID: 2},
			Payload:  manifest.Payload{Mappings: []manifest.FileMapping{fm("shared.txt", 0)}},
		},
	}

	tree, err := Assemble(s, manifests)
	require.NoError(t, err)
	assert.Equal(t, 1, tree.Len())
}

func TestAssembleBackslashSplit(t *testing.T) {
	s := &sku.SKU{Depots: []uint32{1}}
	manifests := map[uint32]*manifest.Manifest{
		1: {
			Metadata: manifest.Metadata{DepotID: 1},
			Payload:  manifest.Payload{Mappings: []manifest.FileMapping{fm(`bin\game.exe`, 0)}},
		},
	}

	tree, err := Assemble(s, manifests)
	require.NoError(t, err)

	binInode, ok := tree.Lookup(RootInode, "bin")
	require.True(t, ok)
	_, ok = tree.Lookup(binInode, "game.exe")
	require.True(t, ok)
}

func TestAssembleDepotMismatchFails(t *testing.T) {
	s := &sku.SKU{Depots: []uint32{1234}}
	manifests := map[uint32]*manifest.Manifest{
		1234: {Metadata: manifest.Metadata{DepotID: 9999}},
	}
	_, err := Assemble(s, manifests)
	require.Error(t, err)
}

func TestAssembleMissingManifestFails(t *testing.T) {
	s := &sku.SKU{Depots: []uint32{1234}}
	_, err := Assemble(s, map[uint32]*manifest.Manifest{})
	require.Error(t, err)
}

func TestAssembleRootNeverInNodeTable(t *testing.T) {
	s := &sku.SKU{Depots: []uint32{1234}}
	manifests := map[uint32]*manifest.Manifest{
		1234: {
			Metadata: manifest.Metadata{DepotID: 1234},
			Payload:  manifest.Payload{Mappings: []manifest.FileMapping{fm("a.txt", 0)}},
		},
	}
	tree, err := Assemble(s, manifests)
	require.NoError(t, err)
	_, ok := tree.Node(RootInode)
	assert.False(t, ok)
}

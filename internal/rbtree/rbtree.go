// Package rbtree implements a red-black ordered set of int64 keys stored in
// STM heap memory.
//
// All node accesses go through an engine.Memory, so every operation can run
// inside a transaction (*engine.Tx) or plainly (*engine.Engine). Deletion
// swaps keys with the in-order successor and frees the removed node through
// the same Memory, so a transactional delete frees its node only if the
// transaction commits.
//
// Layout:
//
//	root cell: [ root ]
//	node:      [ key ][ color ][ left ][ right ][ parent ]
//
// Fresh allocations are zeroed, so a new node starts red with no links.
package rbtree

import (
	"github.com/pingcap/errors"

	"github.com/kolkov/gostm/internal/stm/engine"
)

// Node field offsets.
const (
	fieldKey = iota
	fieldColor
	fieldLeft
	fieldRight
	fieldParent
	nodeWords
)

// Node colors. Red is the zero value.
const (
	red   engine.Word = 0
	black engine.Word = 1
)

const null = engine.Nil

// Tree is a handle to a red-black tree in heap memory. It holds only the
// address of the root cell and is safe to copy and share.
type Tree struct {
	cell engine.Addr
}

// New allocates an empty tree through m.
func New(m engine.Memory) Tree {
	return Tree{cell: m.Alloc(1)}
}

// Attach returns a handle to the tree whose root cell is at cell.
func Attach(cell engine.Addr) Tree {
	return Tree{cell: cell}
}

// Cell returns the address of the root cell.
func (t Tree) Cell() engine.Addr {
	return t.cell
}

// Insert adds key and reports whether it was absent.
func (t Tree) Insert(m engine.Memory, key int64) bool {
	return t.on(m).insert(key)
}

// Delete removes key and reports whether it was present.
func (t Tree) Delete(m engine.Memory, key int64) bool {
	return t.on(m).deleteKey(key)
}

// Contains reports whether key is present.
func (t Tree) Contains(m engine.Memory, key int64) bool {
	o := t.on(m)
	n := o.root()
	for n != null {
		k := o.key(n)
		switch {
		case key == k:
			return true
		case key < k:
			n = o.left(n)
		default:
			n = o.right(n)
		}
	}
	return false
}

// Len returns the number of keys.
func (t Tree) Len(m engine.Memory) int {
	o := t.on(m)
	var size func(n engine.Addr) int
	size = func(n engine.Addr) int {
		if n == null {
			return 0
		}
		return 1 + size(o.left(n)) + size(o.right(n))
	}
	return size(o.root())
}

// Keys returns all keys in ascending order.
func (t Tree) Keys(m engine.Memory) []int64 {
	o := t.on(m)
	var keys []int64
	var walk func(n engine.Addr)
	walk = func(n engine.Addr) {
		if n == null {
			return
		}
		walk(o.left(n))
		keys = append(keys, o.key(n))
		walk(o.right(n))
	}
	walk(o.root())
	return keys
}

// Verify checks the red-black and binary-search-tree invariants and the
// parent links.
func (t Tree) Verify(m engine.Memory) error {
	o := t.on(m)
	root := o.root()
	if root == null {
		return nil
	}
	if o.parent(root) != null {
		return errors.Errorf("rbtree: root %s has parent %s", root, o.parent(root))
	}
	if o.color(root) != black {
		return errors.New("rbtree: root is red")
	}
	_, err := o.verify(root, nil, nil)
	return err
}

// Destroy frees every node and the root cell.
func (t Tree) Destroy(m engine.Memory) {
	o := t.on(m)
	var free func(n engine.Addr)
	free = func(n engine.Addr) {
		if n == null {
			return
		}
		free(o.left(n))
		free(o.right(n))
		m.Free(n)
	}
	free(o.root())
	m.Free(t.cell)
}

// ops binds a tree to the memory an operation runs on.
type ops struct {
	m    engine.Memory
	cell engine.Addr
}

func (t Tree) on(m engine.Memory) ops {
	return ops{m: m, cell: t.cell}
}

func (o ops) root() engine.Addr { return engine.Addr(o.m.Load(o.cell)) }

func (o ops) setRoot(n engine.Addr) { o.m.Store(o.cell, engine.Word(n)) }

func (o ops) key(n engine.Addr) int64 { return int64(o.m.Load(n.Offset(fieldKey))) }

func (o ops) left(n engine.Addr) engine.Addr {
	return engine.Addr(o.m.Load(n.Offset(fieldLeft)))
}

func (o ops) right(n engine.Addr) engine.Addr {
	return engine.Addr(o.m.Load(n.Offset(fieldRight)))
}

func (o ops) parent(n engine.Addr) engine.Addr {
	return engine.Addr(o.m.Load(n.Offset(fieldParent)))
}

func (o ops) setKey(n engine.Addr, k int64) { o.m.Store(n.Offset(fieldKey), engine.Word(k)) }

func (o ops) setLeft(n, c engine.Addr) { o.m.Store(n.Offset(fieldLeft), engine.Word(c)) }

func (o ops) setRight(n, c engine.Addr) { o.m.Store(n.Offset(fieldRight), engine.Word(c)) }

func (o ops) setParent(n, p engine.Addr) { o.m.Store(n.Offset(fieldParent), engine.Word(p)) }

// color treats the null leaf as black.
func (o ops) color(n engine.Addr) engine.Word {
	if n == null {
		return black
	}
	return o.m.Load(n.Offset(fieldColor))
}

func (o ops) setColor(n engine.Addr, c engine.Word) { o.m.Store(n.Offset(fieldColor), c) }

func (o ops) isOnLeft(n engine.Addr) bool {
	return n == o.left(o.parent(n))
}

func (o ops) sibling(n engine.Addr) engine.Addr {
	p := o.parent(n)
	if p == null {
		return null
	}
	if o.isOnLeft(n) {
		return o.right(p)
	}
	return o.left(p)
}

func (o ops) uncle(n engine.Addr) engine.Addr {
	p := o.parent(n)
	if p == null || o.parent(p) == null {
		return null
	}
	return o.sibling(p)
}

func (o ops) hasRedChild(n engine.Addr) bool {
	l, r := o.left(n), o.right(n)
	return (l != null && o.color(l) == red) || (r != null && o.color(r) == red)
}

// moveDown puts np in n's place and makes it n's parent.
func (o ops) moveDown(n, np engine.Addr) {
	p := o.parent(n)
	if p != null {
		if o.isOnLeft(n) {
			o.setLeft(p, np)
		} else {
			o.setRight(p, np)
		}
	}
	o.setParent(np, p)
	o.setParent(n, np)
}

func (o ops) leftRotate(x engine.Addr) {
	np := o.right(x)
	if x == o.root() {
		o.setRoot(np)
	}
	o.moveDown(x, np)
	o.setRight(x, o.left(np))
	if l := o.left(np); l != null {
		o.setParent(l, x)
	}
	o.setLeft(np, x)
}

func (o ops) rightRotate(x engine.Addr) {
	np := o.left(x)
	if x == o.root() {
		o.setRoot(np)
	}
	o.moveDown(x, np)
	o.setLeft(x, o.right(np))
	if r := o.right(np); r != null {
		o.setParent(r, x)
	}
	o.setRight(np, x)
}

func (o ops) swapColors(a, b engine.Addr) {
	ca, cb := o.color(a), o.color(b)
	o.setColor(a, cb)
	o.setColor(b, ca)
}

func (o ops) swapKeys(a, b engine.Addr) {
	ka, kb := o.key(a), o.key(b)
	o.setKey(a, kb)
	o.setKey(b, ka)
}

// search returns the node holding key, or the node under which key would be
// inserted. Returns null only for an empty tree.
func (o ops) search(key int64) engine.Addr {
	n := o.root()
	for n != null {
		k := o.key(n)
		var next engine.Addr
		switch {
		case key == k:
			return n
		case key < k:
			next = o.left(n)
		default:
			next = o.right(n)
		}
		if next == null {
			return n
		}
		n = next
	}
	return null
}

func (o ops) insert(key int64) bool {
	at := o.search(key)
	if at != null && o.key(at) == key {
		return false
	}

	n := o.m.Alloc(nodeWords)
	o.setKey(n, key)
	if at == null {
		o.setColor(n, black)
		o.setRoot(n)
		return true
	}

	o.setParent(n, at)
	if key < o.key(at) {
		o.setLeft(at, n)
	} else {
		o.setRight(at, n)
	}
	o.fixRedRed(n)
	return true
}

func (o ops) fixRedRed(x engine.Addr) {
	if x == o.root() {
		o.setColor(x, black)
		return
	}

	p := o.parent(x)
	if o.color(p) == black {
		return
	}
	g, u := o.parent(p), o.uncle(x)

	if u != null && o.color(u) == red {
		o.setColor(p, black)
		o.setColor(u, black)
		o.setColor(g, red)
		o.fixRedRed(g)
		return
	}

	if o.isOnLeft(p) {
		if o.isOnLeft(x) {
			o.swapColors(p, g)
		} else {
			o.leftRotate(p)
			o.swapColors(x, g)
		}
		o.rightRotate(g)
	} else {
		if o.isOnLeft(x) {
			o.rightRotate(p)
			o.swapColors(x, g)
		} else {
			o.swapColors(p, g)
		}
		o.leftRotate(g)
	}
}

// successor returns the leftmost node of the subtree at n.
func (o ops) successor(n engine.Addr) engine.Addr {
	for l := o.left(n); l != null; l = o.left(n) {
		n = l
	}
	return n
}

// replacement returns the node that takes n's place when n is deleted.
func (o ops) replacement(n engine.Addr) engine.Addr {
	l, r := o.left(n), o.right(n)
	switch {
	case l != null && r != null:
		return o.successor(r)
	case l != null:
		return l
	default:
		return r
	}
}

func (o ops) deleteKey(key int64) bool {
	n := o.search(key)
	if n == null || o.key(n) != key {
		return false
	}
	o.deleteNode(n)
	return true
}

func (o ops) deleteNode(v engine.Addr) {
	u := o.replacement(v)
	bothBlack := o.color(u) == black && o.color(v) == black
	p := o.parent(v)

	if u == null {
		// v is a leaf.
		if v == o.root() {
			o.setRoot(null)
		} else {
			if bothBlack {
				o.fixDoubleBlack(v)
			} else if s := o.sibling(v); s != null {
				o.setColor(s, red)
			}
			if o.isOnLeft(v) {
				o.setLeft(p, null)
			} else {
				o.setRight(p, null)
			}
		}
		o.m.Free(v)
		return
	}

	if o.left(v) == null || o.right(v) == null {
		// v has exactly one child, u.
		if v == o.root() {
			o.setKey(v, o.key(u))
			o.setLeft(v, null)
			o.setRight(v, null)
			o.m.Free(u)
			return
		}
		if o.isOnLeft(v) {
			o.setLeft(p, u)
		} else {
			o.setRight(p, u)
		}
		o.m.Free(v)
		o.setParent(u, p)
		if bothBlack {
			o.fixDoubleBlack(u)
		} else {
			o.setColor(u, black)
		}
		return
	}

	// Two children: take the successor's key and delete the successor.
	o.swapKeys(u, v)
	o.deleteNode(u)
}

func (o ops) fixDoubleBlack(x engine.Addr) {
	if x == o.root() {
		return
	}

	s, p := o.sibling(x), o.parent(x)
	if s == null {
		o.fixDoubleBlack(p)
		return
	}

	if o.color(s) == red {
		o.setColor(p, red)
		o.setColor(s, black)
		if o.isOnLeft(s) {
			o.rightRotate(p)
		} else {
			o.leftRotate(p)
		}
		o.fixDoubleBlack(x)
		return
	}

	if !o.hasRedChild(s) {
		o.setColor(s, red)
		if o.color(p) == black {
			o.fixDoubleBlack(p)
		} else {
			o.setColor(p, black)
		}
		return
	}

	if l := o.left(s); l != null && o.color(l) == red {
		if o.isOnLeft(s) {
			// left left
			o.setColor(l, o.color(s))
			o.setColor(s, o.color(p))
			o.rightRotate(p)
		} else {
			// right left
			o.setColor(l, o.color(p))
			o.rightRotate(s)
			o.leftRotate(p)
		}
	} else {
		r := o.right(s)
		if o.isOnLeft(s) {
			// left right
			o.setColor(r, o.color(p))
			o.leftRotate(s)
			o.rightRotate(p)
		} else {
			// right right
			o.setColor(r, o.color(s))
			o.setColor(s, o.color(p))
			o.leftRotate(p)
		}
	}
	o.setColor(p, black)
}

// verify checks the subtree at n against the open key bounds and returns its
// black height.
func (o ops) verify(n engine.Addr, lo, hi *int64) (int, error) {
	if n == null {
		return 1, nil
	}
	k := o.key(n)
	if (lo != nil && k <= *lo) || (hi != nil && k >= *hi) {
		return 0, errors.Errorf("rbtree: key %d out of order", k)
	}
	l, r := o.left(n), o.right(n)
	for _, c := range []engine.Addr{l, r} {
		if c != null && o.parent(c) != n {
			return 0, errors.Errorf("rbtree: node %s has wrong parent link", c)
		}
	}
	if o.color(n) == red && (o.color(l) == red || o.color(r) == red) {
		return 0, errors.Errorf("rbtree: red node %d has a red child", k)
	}

	lh, err := o.verify(l, lo, &k)
	if err != nil {
		return 0, err
	}
	rh, err := o.verify(r, &k, hi)
	if err != nil {
		return 0, err
	}
	if lh != rh {
		return 0, errors.Errorf("rbtree: black height mismatch under %d: %d vs %d", k, lh, rh)
	}
	if o.color(n) == black {
		lh++
	}
	return lh, nil
}

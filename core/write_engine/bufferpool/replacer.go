package bufferpool

import "container/list"

// freeList orders unpinned frames by the time they became free. The front is
// the frame that has been free the longest and is the next victim.
type freeList struct {
	order *list.List            // slot ids
	index map[int]*list.Element // slot id to its element in order
}

// newFreeList returns a list holding slots 0..n-1, lowest slot first.
func newFreeList(n int) *freeList {
	fl := &freeList{
		order: list.New(),
		index: make(map[int]*list.Element, n),
	}
	for slot := 0; slot < n; slot++ {
		fl.pushBack(slot)
	}
	return fl
}

func (fl *freeList) len() int { return fl.order.Len() }

func (fl *freeList) contains(slot int) bool {
	_, ok := fl.index[slot]
	return ok
}

// pushBack records slot as the most recently freed frame.
func (fl *freeList) pushBack(slot int) {
	if fl.contains(slot) {
		return
	}
	fl.index[slot] = fl.order.PushBack(slot)
}

// pushFront returns a victim that could not be used to the head of the queue.
func (fl *freeList) pushFront(slot int) {
	if fl.contains(slot) {
		return
	}
	fl.index[slot] = fl.order.PushFront(slot)
}

func (fl *freeList) remove(slot int) {
	if e, ok := fl.index[slot]; ok {
		fl.order.Remove(e)
		delete(fl.index, slot)
	}
}

// victim removes and returns the longest-free slot.
func (fl *freeList) victim() (int, bool) {
	e := fl.order.Front()
	if e == nil {
		return -1, false
	}
	slot := e.Value.(int)
	fl.order.Remove(e)
	delete(fl.index, slot)
	return slot, true
}

// slots lists the free slots in victim order.
func (fl *freeList) slots() []int {
	out := make([]int, 0, fl.order.Len())
	for e := fl.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(int))
	}
	return out
}

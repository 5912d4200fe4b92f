package cache

// node represents an element in the doubly linked list.
type node[T any] struct {
	data T
	prev *node[T]
	next *node[T]
}

// doublyLinkedList keeps recency order: head is the most recently used, tail the least.
type doublyLinkedList[T any] struct {
	head *node[T]
	tail *node[T]
	size int
}

func newDoublyLinkedList[T any]() *doublyLinkedList[T] {
	return &doublyLinkedList[T]{}
}

func (dll *doublyLinkedList[T]) count() int {
	return dll.size
}

func (dll *doublyLinkedList[T]) isEmpty() bool {
	return dll.head == nil
}

// addToHead inserts a new node with data at the head of the list and returns it.
func (dll *doublyLinkedList[T]) addToHead(data T) *node[T] {
	n := &node[T]{data: data, next: dll.head}
	if dll.head != nil {
		dll.head.prev = n
	} else {
		dll.tail = n
	}
	dll.head = n
	dll.size++
	return n
}

// moveToHead relinks an existing node at the head without allocating.
func (dll *doublyLinkedList[T]) moveToHead(n *node[T]) {
	if n == nil || n == dll.head {
		return
	}
	dll.unlink(n)
	n.next = dll.head
	n.prev = nil
	if dll.head != nil {
		dll.head.prev = n
	} else {
		dll.tail = n
	}
	dll.head = n
	dll.size++
}

// deleteFromTail removes and returns the tail node's data.
func (dll *doublyLinkedList[T]) deleteFromTail() (T, bool) {
	var d T
	if dll.isEmpty() {
		return d, false
	}
	n := dll.tail
	dll.unlink(n)
	return n.data, true
}

// delete unchains the node n from the list.
func (dll *doublyLinkedList[T]) delete(n *node[T]) bool {
	if n == nil {
		return false
	}
	dll.unlink(n)
	return true
}

func (dll *doublyLinkedList[T]) unlink(n *node[T]) {
	if n == dll.head {
		dll.head = n.next
	}
	if n == dll.tail {
		dll.tail = n.prev
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.next = nil
	n.prev = nil
	dll.size--
}

package deque

type ListDeque[T any] struct {
	head *node[T]
	tail *node[T]

	size     int
	capacity int
}

type node[T any] struct {
	val  T
	pre  *node[T]
	next *node[T]
}

// 工厂方法
func NewListDeque[T any](capacity int) *ListDeque[T] {
	head := &node[T]{}
	tail := &node[T]{}
	head.next = tail
	tail.pre = head

	return &ListDeque[T]{
		head:     head,
		tail:     tail,
		size:     0,
		capacity: capacity,
	}
}

func (ld *ListDeque[T]) Size() int {
	return ld.size
}

// Slice 按顺序拷贝出所有元素
func (ld *ListDeque[T]) Slice() []T {
	items := make([]T, 0, ld.size)
	for iter := ld.head.next; iter != ld.tail; iter = iter.next {
		items = append(items, iter.val)
	}
	return items
}

func (ld *ListDeque[T]) addLast(item T) {
	if ld.IsFull() {
		return
	}
	newNode := &node[T]{
		val: item,
	}
	tmp := ld.tail.pre
	ld.tail.pre = newNode
	newNode.next = ld.tail
	newNode.pre = tmp
	tmp.next = newNode
	ld.size++
}

func (ld *ListDeque[T]) removeFirst() {
	if ld.size > 0 {
		ld.head.next = ld.head.next.next
		ld.head.next.pre = ld.head
		ld.size--
	}
}

// Push 追加到结尾，满了就先丢掉最旧的
func (ld *ListDeque[T]) Push(item T) {
	if ld.capacity <= 0 {
		return
	}
	if ld.IsFull() {
		ld.removeFirst()
	}
	ld.addLast(item)
}

func (ld *ListDeque[T]) IsFull() bool {
	return ld.size == ld.capacity
}

func (ld *ListDeque[T]) IsEmpty() bool {
	return ld.size == 0
}

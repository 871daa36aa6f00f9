/**
 *
 * 有界队列，元素类型由调用方决定，满了之后丢掉最旧的元素
 * 监控服务用它保存最近若干个时间步的推理报告，新连接的客户端先收到这些历史
 *
 */

package deque

type Deque[T any] interface {
	// 队列的长度
	Size() int

	// 追加到结尾，队列满时先删除头部元素
	Push(item T)

	// 从头到尾拷贝出所有元素
	Slice() []T

	IsFull() bool

	IsEmpty() bool
}

package storage

// Engine 是对象存储引擎的抽象接口
// 键为字节切片，值为任意类型 T，由具体实现负责值的编解码
//
// Engine 不保证并发安全：同一实例只允许一个调用方顺序访问，
// 需要并发时由调用方在外部串行化（参见 api/http 中的互斥锁）
type Engine[T any] interface {
	// Insert 写入一个新键
	// 返回：
	//   - error: 键已存在返回 ErrDuplicateKey
	Insert(key []byte, value T) error

	// Retrieve 根据键读取值
	// 返回：
	//   - T: 值
	//   - error: 键不存在返回 ErrKeyNotFound
	Retrieve(key []byte) (T, error)

	// Update 更新已存在的键
	// 新值放得下则原地覆盖，否则迁移到文件末尾
	Update(key []byte, value T) error

	// Delete 删除键，释放的槽位并入相邻记录
	Delete(key []byte) error

	// RecordCount 返回当前存活的记录数
	RecordCount() int

	// Close 关闭存储引擎，释放资源
	Close() error
}

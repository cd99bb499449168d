package keylock

import "sync"

// KeyLock 按 key 互斥：同一个实体 id 的读改写串行，不同 id 互不影响。
// 条目按引用计数回收，map 不会随 id 数量无限增长。
type KeyLock struct {
	mu sync.Mutex
	m  map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	ref int
}

func New() *KeyLock {
	return &KeyLock{m: make(map[string]*entry)}
}

// Lock 阻塞直到拿到 key，返回的函数用于释放（只能调用一次）
func (k *KeyLock) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.m[key]
	if !ok {
		e = &entry{}
		k.m[key] = e
	}
	e.ref++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.ref--
		if e.ref == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}

// Len 当前持有或等待中的 key 数
func (k *KeyLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}

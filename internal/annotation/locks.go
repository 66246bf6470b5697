// Package annotation 条目分配与审核
//
// 同一个条目池上的领取、提交、审核决定都要经过任务级互斥，
// 保证"检查再更新"的读改写序列不交错。锁粒度是 AnnoTask：
// 不同任务互不阻塞，单个任务内的竞争由先到者胜出。
package annotation

import "sync"

// lockTable 任务级互斥表
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// get 返回任务对应的互斥锁（不存在则创建）
func (t *lockTable) get(taskID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[taskID] = l
	}
	return l
}

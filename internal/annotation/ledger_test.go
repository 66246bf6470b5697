// Package annotation 分配与审核测试
package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/storage/repository"
	sqlitedriver "anno-admin/internal/shared/storage/driver/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLedger 建一个 SQLite 内存库上的账本，附带一个开放任务
func newTestLedger(t *testing.T, reviewEnabled bool, itemCount int) (*Ledger, *repository.Store, *model.AnnoTask) {
	t.Helper()
	ctx := context.Background()

	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	now := time.Now().Truncate(time.Second)
	pipe := &model.Pipe{ID: "pipe-t", Name: "t", OwnerID: "designer", State: model.PipeStateRunning, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreatePipe(ctx, pipe))
	pe := &model.PipeElement{ID: "pe-t", PipeID: pipe.ID, Type: model.ElementTypeAnnoTask, State: model.ElementStateRunning, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateElement(ctx, pe))
	task := &model.AnnoTask{
		ID: "at-t", ElementID: pe.ID, Name: "t", State: model.AnnoTaskStateInProgress,
		SourcePrefix: "data/", ReviewEnabled: reviewEnabled, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateAnnoTask(ctx, task))

	items := make([]*model.Item, 0, itemCount)
	for i := 0; i < itemCount; i++ {
		items = append(items, &model.Item{
			ID: fmt.Sprintf("item-%02d", i), AnnoTaskID: task.ID, Seq: i,
			MediaPath: fmt.Sprintf("data/img-%02d.jpg", i), State: model.ItemStateUntouched,
			CreatedAt: now, UpdatedAt: now,
		})
	}
	require.NoError(t, store.CreateItems(ctx, items))

	return NewLedger(store, nil), store, task
}

func TestNextItemAssignsInOrder(t *testing.T) {
	ledger, _, task := newTestLedger(t, false, 3)
	ctx := context.Background()

	// 两名标注员领到不同的条目，顺序按物化序号
	a, err := ledger.NextItem(ctx, task.ID, "user-a")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 0, a.Seq)
	assert.Equal(t, model.ItemStateInProgress, a.State)
	assert.Equal(t, "user-a", *a.LockedBy)

	b, err := ledger.NextItem(ctx, task.ID, "user-b")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 1, b.Seq)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNextItemIsStableForHolder(t *testing.T) {
	ledger, _, task := newTestLedger(t, false, 3)
	ctx := context.Background()

	a1, err := ledger.NextItem(ctx, task.ID, "user-a")
	require.NoError(t, err)
	// 刷新不换牌：同一用户重复领取拿回同一条目
	a2, err := ledger.NextItem(ctx, task.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID)
}

func TestNextItemExhausted(t *testing.T) {
	ledger, _, task := newTestLedger(t, false, 1)
	ctx := context.Background()

	item, err := ledger.NextItem(ctx, task.ID, "user-a")
	require.NoError(t, err)
	_, err = ledger.Submit(ctx, task.ID, item.ID, "user-a", json.RawMessage(`{"label":"cat"}`))
	require.NoError(t, err)

	// 条目耗尽不是错误
	got, err := ledger.NextItem(ctx, task.ID, "user-b")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNextItemConcurrentNoDoubleAssign(t *testing.T) {
	ledger, _, task := newTestLedger(t, false, 4)
	ctx := context.Background()

	const workers = 4
	got := make([]*model.Item, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item, err := ledger.NextItem(ctx, task.ID, fmt.Sprintf("user-%d", i))
			require.NoError(t, err)
			got[i] = item
		}(i)
	}
	wg.Wait()

	// 每人拿到一个条目，互不重复
	seen := make(map[string]bool)
	for _, item := range got {
		require.NotNil(t, item)
		assert.False(t, seen[item.ID], "item %s assigned twice", item.ID)
		seen[item.ID] = true
	}
}

func TestSubmitWithoutLease(t *testing.T) {
	ledger, _, task := newTestLedger(t, false, 2)
	ctx := context.Background()

	item, err := ledger.NextItem(ctx, task.ID, "user-a")
	require.NoError(t, err)

	// 非持有人提交被拒
	_, err = ledger.Submit(ctx, task.ID, item.ID, "user-b", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	// 持有人正常提交
	_, err = ledger.Submit(ctx, task.ID, item.ID, "user-a", json.RawMessage(`{}`))
	require.NoError(t, err)

	// 已提交的条目再提交是过期状态
	_, err = ledger.Submit(ctx, task.ID, item.ID, "user-a", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestSubmitTargetsDependOnReview(t *testing.T) {
	ctx := context.Background()

	// 审核关闭：直接 accepted
	ledger, _, task := newTestLedger(t, false, 1)
	item, _ := ledger.NextItem(ctx, task.ID, "user-a")
	got, err := ledger.Submit(ctx, task.ID, item.ID, "user-a", json.RawMessage(`{"label":"cat"}`))
	require.NoError(t, err)
	assert.Equal(t, model.ItemStateAccepted, got.State)
	assert.False(t, got.IsLocked())

	// 审核开启：落在 annotated 等待审核
	ledger2, _, task2 := newTestLedger(t, true, 1)
	item2, _ := ledger2.NextItem(ctx, task2.ID, "user-a")
	got2, err := ledger2.Submit(ctx, task2.ID, item2.ID, "user-a", json.RawMessage(`{"label":"dog"}`))
	require.NoError(t, err)
	assert.Equal(t, model.ItemStateAnnotated, got2.State)
}

func TestReleaseAllRoundTrip(t *testing.T) {
	ledger, store, task := newTestLedger(t, false, 2)
	ctx := context.Background()

	item, err := ledger.NextItem(ctx, task.ID, "user-a")
	require.NoError(t, err)

	// 登出回收：释放租约但不动标注状态
	n, err := ledger.ReleaseAll(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, got.IsLocked())
	assert.Equal(t, model.ItemStateInProgress, got.State)

	// 释放后条目可被其他人领取
	next, err := ledger.NextItem(ctx, task.ID, "user-b")
	require.NoError(t, err)
	assert.Equal(t, item.ID, next.ID)
}

func TestMarkFinished(t *testing.T) {
	ledger, store, task := newTestLedger(t, false, 2)
	ctx := context.Background()

	_, err := ledger.NextItem(ctx, task.ID, "user-a")
	require.NoError(t, err)

	require.NoError(t, ledger.MarkFinished(ctx, task.ID, "user-a"))

	done, err := store.IsUserFinished(ctx, task.ID, "user-a")
	require.NoError(t, err)
	assert.True(t, done)

	// 完成时顺带释放租约
	n, _ := store.ReleaseItemsLockedBy(ctx, "user-a")
	assert.Equal(t, int64(0), n)
}

func TestHistoryNavigation(t *testing.T) {
	ledger, _, task := newTestLedger(t, false, 3)
	ctx := context.Background()

	first, _ := ledger.NextItem(ctx, task.ID, "user-a")
	_, err := ledger.Submit(ctx, task.ID, first.ID, "user-a", json.RawMessage(`{}`))
	require.NoError(t, err)
	second, _ := ledger.NextItem(ctx, task.ID, "user-a")
	_, err = ledger.Submit(ctx, task.ID, second.ID, "user-a", json.RawMessage(`{}`))
	require.NoError(t, err)

	// FirstItem 回到自己触碰过的第一个条目
	got, err := ledger.FirstItem(ctx, task.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	// PrevItem 只回看自己的历史
	prev, err := ledger.PrevItem(ctx, task.ID, "user-a", second.ID)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, first.ID, prev.ID)

	prev, err = ledger.PrevItem(ctx, task.ID, "user-a", first.ID)
	require.NoError(t, err)
	assert.Nil(t, prev)

	// 其他用户没有历史
	prev, err = ledger.PrevItem(ctx, task.ID, "user-b", second.ID)
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestTaskProgress(t *testing.T) {
	ledger, _, task := newTestLedger(t, false, 3)
	ctx := context.Background()

	item, _ := ledger.NextItem(ctx, task.ID, "user-a")
	_, err := ledger.Submit(ctx, task.ID, item.ID, "user-a", json.RawMessage(`{}`))
	require.NoError(t, err)

	p, err := ledger.TaskProgress(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 2, p.Untouched)
	assert.Equal(t, 1, p.Accepted)
	assert.False(t, p.Complete(false))
}

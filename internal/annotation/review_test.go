// Package annotation 审核流程测试
package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReviewAcceptFlow(t *testing.T) {
	ledger, _, task := newTestLedger(t, true, 2)
	reviewer := NewReviewer(ledger)
	ctx := context.Background()

	item, _ := ledger.NextItem(ctx, task.ID, "anno")
	_, err := ledger.Submit(ctx, task.ID, item.ID, "anno", json.RawMessage(`{"label":"cat"}`))
	require.NoError(t, err)

	// 审核者打开条目
	open, err := reviewer.NextReview(ctx, task.ID, "designer")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, item.ID, open.ID)
	assert.Equal(t, model.ItemStateInReview, open.State)

	// 刷新拿回同一条目
	again, err := reviewer.NextReview(ctx, task.ID, "designer")
	require.NoError(t, err)
	assert.Equal(t, open.ID, again.ID)

	// 接受：终止态，拒绝原因清空
	decided, err := reviewer.Decide(ctx, task.ID, item.ID, "designer", DecisionAccept, "")
	require.NoError(t, err)
	assert.Equal(t, model.ItemStateAccepted, decided.State)
	assert.Nil(t, decided.RejectReason)
}

func TestReviewRejectReturnsToPool(t *testing.T) {
	ledger, _, task := newTestLedger(t, true, 1)
	reviewer := NewReviewer(ledger)
	ctx := context.Background()

	item, _ := ledger.NextItem(ctx, task.ID, "anno")
	_, err := ledger.Submit(ctx, task.ID, item.ID, "anno", json.RawMessage(`{"label":"cat"}`))
	require.NoError(t, err)

	// 拒绝：回到 in_progress，带原因，重新进入分配池
	decided, err := reviewer.Decide(ctx, task.ID, item.ID, "designer", DecisionReject, "wrong label")
	require.NoError(t, err)
	assert.Equal(t, model.ItemStateInProgress, decided.State)
	require.NotNil(t, decided.RejectReason)
	assert.Equal(t, "wrong label", *decided.RejectReason)
	assert.False(t, decided.IsLocked())

	// 返工：重新领取、重新提交后拒绝原因被清除
	rework, err := ledger.NextItem(ctx, task.ID, "anno")
	require.NoError(t, err)
	assert.Equal(t, item.ID, rework.ID)
	resubmitted, err := ledger.Submit(ctx, task.ID, item.ID, "anno", json.RawMessage(`{"label":"dog"}`))
	require.NoError(t, err)
	assert.Equal(t, model.ItemStateAnnotated, resubmitted.State)
	assert.Nil(t, resubmitted.RejectReason)
}

func TestReviewStaleDecision(t *testing.T) {
	ledger, _, task := newTestLedger(t, true, 1)
	reviewer := NewReviewer(ledger)
	ctx := context.Background()

	item, _ := ledger.NextItem(ctx, task.ID, "anno")
	_, err := ledger.Submit(ctx, task.ID, item.ID, "anno", json.RawMessage(`{}`))
	require.NoError(t, err)

	// 第一个决定生效
	_, err = reviewer.Decide(ctx, task.ID, item.ID, "designer-a", DecisionReject, "redo")
	require.NoError(t, err)

	// 第二个决定基于过期状态，拒绝执行
	_, err = reviewer.Decide(ctx, task.ID, item.ID, "designer-b", DecisionAccept, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestReviewDisabledTask(t *testing.T) {
	ledger, _, task := newTestLedger(t, false, 1)
	reviewer := NewReviewer(ledger)
	ctx := context.Background()

	_, err := reviewer.NextReview(ctx, task.ID, "designer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestListForReview(t *testing.T) {
	ledger, _, task := newTestLedger(t, true, 3)
	reviewer := NewReviewer(ledger)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		item, err := ledger.NextItem(ctx, task.ID, "anno")
		require.NoError(t, err)
		_, err = ledger.Submit(ctx, task.ID, item.ID, "anno", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	// 待审清单按物化序号返回，不流转状态
	pending, err := reviewer.ListForReview(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 0, pending[0].Seq)
	assert.Equal(t, 1, pending[1].Seq)
	for _, item := range pending {
		assert.Equal(t, model.ItemStateAnnotated, item.State)
	}

	// 打开一条后仍在清单里（in_review 也算待审）
	_, err = reviewer.NextReview(ctx, task.ID, "designer")
	require.NoError(t, err)
	pending, err = reviewer.ListForReview(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestReviewOptions(t *testing.T) {
	ledger, _, task := newTestLedger(t, true, 2)
	reviewer := NewReviewer(ledger)
	ctx := context.Background()

	opts, err := reviewer.Options(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, opts.Pending)
	assert.False(t, opts.CanAccept)

	item, _ := ledger.NextItem(ctx, task.ID, "anno")
	_, err = ledger.Submit(ctx, task.ID, item.ID, "anno", json.RawMessage(`{}`))
	require.NoError(t, err)

	opts, err = reviewer.Options(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, opts.Pending)
	assert.True(t, opts.CanAccept)
	assert.True(t, opts.CanReject)
}

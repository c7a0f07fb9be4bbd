package run

import (
	"time"

	"github.com/John-Robertt/harvest/internal/config"
	"github.com/John-Robertt/harvest/internal/domain"
)

// Observer 用于把“运行进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - 事件都在调用 Execute* 的 goroutine 上发出；实现若自带 ticker，需要自行加锁。
type Observer interface {
	// OnStart 在运行开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig, runID string)
	// OnPhaseDone 在阶段结束时调用（listing/market/close）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某个条目处理完成时调用。total 是当前列表的条目数。
	OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration)
	// OnFlush 在每次成功落盘后调用。
	OnFlush(f domain.FlushResult)
}

// nopObserver 让执行流程不必到处判空。
type nopObserver struct{}

func (nopObserver) OnStart(config.EffectiveConfig, string) {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration) {}
func (nopObserver) OnItemDone(int, int, domain.ItemResult, time.Duration) {}
func (nopObserver) OnFlush(domain.FlushResult) {}

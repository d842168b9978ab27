// Package loop 提供持有全部客户端播放状态的单一 goroutine。
// 其他 goroutine 的工作（网络应答、定时器、音频回调）都投递回循环执行，
// Player 与 Streamer 因此不需要加锁。
package loop

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"SliceFM/logger"
)

// Loop 是在单个 goroutine 上执行的无界 FIFO 任务队列
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// New 创建循环，需调用 Run（通常在独立 goroutine 中）启动
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run 执行投递的任务直到 Stop
func (l *Loop) Run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			task := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			l.exec(task)

			select {
			case <-l.done:
				return
			default:
			}
		}
	}
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("loop task panicked",
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
	}()
	task()
}

// Stop 结束 Run，未执行的任务被丢弃
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Done 在循环停止后关闭
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post 投递 fn，循环已停止时返回 false
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call 在循环上执行 fn 并等待返回，不能在循环 goroutine 内调用
func (l *Loop) Call(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Timer 可取消的定时器，回调在循环上执行
type Timer struct {
	t         *time.Timer
	cancelled atomic.Bool
}

// Stop 取消定时器，已排队的回调也会跳过；nil Timer 上调用安全
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.t.Stop()
}

// AfterFunc 在 d 之后于循环上执行 fn
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if !tm.cancelled.Load() {
				fn()
			}
		})
	})
	return tm
}

// Ticker 周期性地在循环上执行回调
type Ticker struct {
	stop chan struct{}
	once sync.Once
}

// Stop 停止 ticker；nil Ticker 上调用安全
func (t *Ticker) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
}

// Every 每隔 d 在循环上执行 fn，直到 ticker 或循环停止。
// 上一次回调仍在排队时跳过本次。
func (l *Loop) Every(d time.Duration, fn func()) *Ticker {
	tk := &Ticker{stop: make(chan struct{})}
	var queued atomic.Bool
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !queued.CompareAndSwap(false, true) {
					continue
				}
				l.Post(func() {
					queued.Store(false)
					select {
					case <-tk.stop:
						return
					default:
					}
					fn()
				})
			case <-tk.stop:
				return
			case <-l.done:
				return
			}
		}
	}()
	return tk
}

// Go 在独立 goroutine 上执行 work，结果交给循环上的 then
func Go[T any](l *Loop, work func() (T, error), then func(T, error)) {
	go func() {
		v, err := work()
		l.Post(func() { then(v, err) })
	}()
}

package loop

// Flight 串行化一个逻辑操作：运行期间的后续请求挂到当前这次上，
// 结束时一并回调，不会启动第二次。只能在循环 goroutine 上使用。
type Flight struct {
	running bool
	waiters []func(error)
}

// Running 操作是否正在进行
func (f *Flight) Running() bool {
	return f.running
}

// Do 在未运行时启动 run；无论哪种情况，then 都会收到当前这次运行的结果。
// run 必须恰好调用一次 finish。
func (f *Flight) Do(run func(finish func(error)), then func(error)) {
	if then != nil {
		f.waiters = append(f.waiters, then)
	}
	if f.running {
		return
	}
	f.running = true
	finished := false
	run(func(err error) {
		if finished {
			return
		}
		finished = true
		f.running = false
		waiters := f.waiters
		f.waiters = nil
		for _, w := range waiters {
			w(err)
		}
	})
}

// Hooks 一次性回调列表，统一触发
type Hooks []func()

// Add 追加回调
func (h *Hooks) Add(fn func()) {
	*h = append(*h, fn)
}

// Fire 执行并清空所有回调，触发期间新加入的回调留到下一次 Fire
func (h *Hooks) Fire() {
	hooks := *h
	*h = nil
	for _, fn := range hooks {
		fn()
	}
}

// Len 待触发回调数
func (h Hooks) Len() int {
	return len(h)
}

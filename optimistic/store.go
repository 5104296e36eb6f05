package optimistic

// Store 单个地图会话的状态容器，单线程使用
type Store struct {
	state     State
	listeners []func(Action, State)
}

// NewStore 创建空状态容器
func NewStore() *Store {
	return &Store{state: NewState()}
}

// Dispatch 应用动作并通知订阅者
func (s *Store) Dispatch(a Action) State {
	s.state = Reduce(s.state, a)
	for _, fn := range s.listeners {
		fn(a, s.state)
	}
	return s.state
}

// Subscribe 订阅状态变化
func (s *Store) Subscribe(fn func(Action, State)) {
	s.listeners = append(s.listeners, fn)
}

func (s *Store) State() State             { return s.state }
func (s *Store) IsDeleted(id string) bool { return s.state.IsDeleted(id) }
func (s *Store) IsUpdated(id string) bool { return s.state.IsUpdated(id) }

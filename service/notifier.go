package service

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"zh.xyz/dv/glidesync/models"
)

// ChangeFeed 变更事件源，由dbconn的LISTEN/NOTIFY适配器实现
type ChangeFeed interface {
	Events() <-chan models.ChangeEvent
	Close() error
}

// ChangeNotifier 变更通知器：把事件源的行级变更分发给注册的回调
// 投递语义为至少一次，跨行无序；去抖是调用方的责任
type ChangeNotifier struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	logger *logrus.Logger
}

// Subscription 订阅句柄，Unsubscribe后回调不再被调用
type Subscription struct {
	id        uint64
	table     string
	event     string
	predicate string
	callback  func(models.ChangeEvent)
	notifier  *ChangeNotifier
}

func NewChangeNotifier(logger *logrus.Logger) *ChangeNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &ChangeNotifier{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

// Subscribe 注册对某个表的行级变更的兴趣，table为空表示订阅所有表
// event 取 insert/update/delete/*；predicate 为可选的 "列=值" 过滤条件，空表示不过滤
func (n *ChangeNotifier) Subscribe(table, event, predicate string, callback func(models.ChangeEvent)) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	sub := &Subscription{
		id:        n.nextID,
		table:     table,
		event:     event,
		predicate: predicate,
		callback:  callback,
		notifier:  n,
	}
	n.subs[sub.id] = sub
	return sub
}

// Unsubscribe 注销订阅
func (s *Subscription) Unsubscribe() {
	s.notifier.mu.Lock()
	defer s.notifier.mu.Unlock()
	delete(s.notifier.subs, s.id)
}

// Dispatch 把一个事件分发给所有匹配的订阅
func (n *ChangeNotifier) Dispatch(ev models.ChangeEvent) {
	n.mu.RLock()
	matched := make([]*Subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		if sub.matches(ev) {
			matched = append(matched, sub)
		}
	}
	n.mu.RUnlock()

	for _, sub := range matched {
		sub.callback(ev)
	}
}

// Run 消费事件源直到ctx结束或事件通道关闭
func (n *ChangeNotifier) Run(ctx context.Context, feed ChangeFeed) error {
	for {
		select {
		case <-ctx.Done():
			return feed.Close()
		case ev, ok := <-feed.Events():
			if !ok {
				return nil
			}
			n.Dispatch(ev)
		}
	}
}

func (s *Subscription) matches(ev models.ChangeEvent) bool {
	if s.table != "" && s.table != ev.Table {
		return false
	}
	if s.event != models.ChangeAll && s.event != ev.Kind {
		return false
	}
	if s.predicate == "" {
		return true
	}
	return matchPredicate(s.predicate, ev.Row)
}

// matchPredicate 解析 "列=值" 形式的过滤条件并与行数据比对
func matchPredicate(predicate string, row map[string]interface{}) bool {
	parts := strings.SplitN(predicate, "=", 2)
	if len(parts) != 2 {
		return false
	}
	column := strings.TrimSpace(parts[0])
	want := strings.TrimSpace(parts[1])

	value, ok := row[column]
	if !ok {
		return false
	}
	if str, ok := value.(string); ok {
		return str == want
	}
	coerced, err := CoerceValue(value, models.DataTypeString)
	if err != nil || coerced == nil {
		return false
	}
	return coerced.(string) == want
}

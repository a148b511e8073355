package dbconn

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"zh.xyz/dv/glidesync/models"
)

// PGChangeFeed 基于LISTEN/NOTIFY的变更事件源，实现service.ChangeFeed
// 约定：Supabase侧触发器把行级变更以JSON负载NOTIFY到指定通道
// {"table": "...", "kind": "insert|update|delete", "id": "...", "row": {...}}
type PGChangeFeed struct {
	listener *pq.Listener
	events   chan models.ChangeEvent
	logger   *logrus.Logger
}

func NewPGChangeFeed(dsn, channel string, logger *logrus.Logger) (*PGChangeFeed, error) {
	if logger == nil {
		logger = logrus.New()
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, nil)
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, err
	}

	feed := &PGChangeFeed{
		listener: listener,
		events:   make(chan models.ChangeEvent, 64),
		logger:   logger,
	}
	go feed.loop()
	return feed, nil
}

// loop 把NOTIFY负载解析为变更事件；Close后通道关闭、循环退出
func (f *PGChangeFeed) loop() {
	defer close(f.events)

	for notification := range f.listener.Notify {
		// 重连后listener会发送nil通知
		if notification == nil {
			continue
		}

		var ev models.ChangeEvent
		if err := json.Unmarshal([]byte(notification.Extra), &ev); err != nil {
			f.logger.WithError(err).Warn("无法解析变更事件负载")
			continue
		}
		f.events <- ev
	}
}

func (f *PGChangeFeed) Events() <-chan models.ChangeEvent {
	return f.events
}

func (f *PGChangeFeed) Close() error {
	return f.listener.Close()
}

package events

import (
	"fmt"

	"github.com/HypocriteSnow/UandUTDD/internal/logging"
)

// StartLoggingListener подписывается на указанные типы и пишет события в лог (DEBUG).
// Возвращает подписки для последующей отписки.
func StartLoggingListener(ch *Channel, kinds ...Kind) []Subscription {
	subs := make([]Subscription, 0, len(kinds))
	for _, kind := range kinds {
		subs = append(subs, ch.Subscribe(kind, func(ev Event) error {
			logging.Debug("[Events] %s %s", ev.Kind(), describe(ev))
			return nil
		}))
	}
	logging.Info("🪵 LoggingListener: подписка на %d типов событий активирована", len(kinds))
	return subs
}

func describe(ev Event) string {
	if s, ok := ev.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%+v", ev)
}

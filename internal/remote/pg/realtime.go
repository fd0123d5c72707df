package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/queuecx/dashboard/internal/remote"
)

// Subscribe listens for row changes on filter.Table. Each subscription holds
// its own connection outside the pool so long-lived listeners never starve
// queries. Notifications come from the notify_row_change trigger.
func (c *Client) Subscribe(ctx context.Context, name string, filter remote.Filter, onChange func(remote.ChangeEvent), onStatus func(remote.ChannelStatus, error)) (remote.Channel, error) {
	conn, err := pgx.ConnectConfig(ctx, c.pool.Config().ConnConfig.Copy())
	if err != nil {
		return nil, fmt.Errorf("connect listener %s: %w", name, err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{filter.Table}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", filter.Table, err)
	}

	lctx, cancel := context.WithCancel(ctx)
	ch := &channel{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(ch.done)
		defer conn.Close(context.Background()) //nolint:errcheck

		log := c.log.With().Str("channel", name).Logger()
		onStatus(remote.StatusSubscribed, nil)
		for {
			n, err := conn.WaitForNotification(lctx)
			if err != nil {
				if lctx.Err() != nil {
					onStatus(remote.StatusClosed, nil)
					return
				}
				onStatus(remote.StatusChannelError, err)
				return
			}
			ev, ok, err := parseNotification([]byte(n.Payload), filter)
			if err != nil {
				log.Warn().Err(err).Msg("skipping malformed notification")
				continue
			}
			if ok {
				onChange(ev)
			}
		}
	}()
	return ch, nil
}

type channel struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe stops listening and waits for the listener to exit.
func (ch *channel) Unsubscribe() error {
	ch.once.Do(ch.cancel)
	<-ch.done
	return nil
}

// parseNotification decodes a trigger payload and reports whether it matches
// filter. DELETE events are matched on the old row.
func parseNotification(payload []byte, filter remote.Filter) (remote.ChangeEvent, bool, error) {
	var ev remote.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, false, fmt.Errorf("decode notification: %w", err)
	}
	if filter.Schema != "" && ev.Schema != filter.Schema {
		return ev, false, nil
	}
	if filter.Table != "" && ev.Table != filter.Table {
		return ev, false, nil
	}
	if filter.Column == "" {
		return ev, true, nil
	}

	row := ev.New
	if ev.Type == remote.ChangeDelete || len(row) == 0 || string(row) == "null" {
		row = ev.Old
	}
	var fields map[string]any
	if err := json.Unmarshal(row, &fields); err != nil {
		return ev, false, fmt.Errorf("decode record: %w", err)
	}
	v, ok := fields[filter.Column]
	if !ok || v == nil {
		return ev, false, nil
	}
	return ev, fmt.Sprint(v) == filter.Value, nil
}

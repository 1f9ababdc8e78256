package offline

import (
	"context"
	"encoding/json"
)

// MessageType identifies a control message between pages and coordinator.
type MessageType string

const (
	// MessageSkipWaiting asks a waiting coordinator to activate now.
	MessageSkipWaiting MessageType = "SKIP_WAITING"

	// MessageCacheMenuData carries a menu payload to store in the dynamic bucket.
	MessageCacheMenuData MessageType = "CACHE_MENU_DATA"

	// MessageQueueChange carries an offline change for the next background sync.
	MessageQueueChange MessageType = "QUEUE_CHANGE"

	// MessageCacheUpdated tells pages a pushed payload was cached.
	MessageCacheUpdated MessageType = "CACHE_UPDATED"

	// MessageSyncComplete tells pages the pending-change queue was drained.
	MessageSyncComplete MessageType = "SYNC_COMPLETE"

	// MessageControllerChanged tells pages a new coordinator version controls them.
	MessageControllerChanged MessageType = "CONTROLLER_CHANGED"

	// MessageOpenWindow asks a page host to open a URL.
	MessageOpenWindow MessageType = "OPEN_WINDOW"

	// MessageNotification carries a rendered push notification.
	MessageNotification MessageType = "NOTIFICATION"

	// MessageNotificationClick reports a click on a notification action.
	MessageNotificationClick MessageType = "NOTIFICATION_CLICK"
)

// Message is a control message. Data is type-specific.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Clients are the page contexts controlled by a coordinator.
type Clients interface {
	// Claim takes control of every open page context for version.
	Claim(ctx context.Context, version string) error

	// PostAll sends msg to every open page context.
	PostAll(ctx context.Context, msg Message) error

	// OpenWindow asks a page host to open url.
	OpenWindow(ctx context.Context, url string) error
}

// NotificationAction is a button on a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is a rendered push notification.
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Vibrate []int                `json:"vibrate"`
	Data    map[string]any       `json:"data,omitempty"`
	Actions []NotificationAction `json:"actions"`
}

// NotificationClickData is the payload of MessageNotificationClick.
type NotificationClickData struct {
	Action string `json:"action"`
}

// Notifier displays notifications to the user.
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
}

// NopClients discards everything. It is the default when no page hub is wired.
type NopClients struct{}

// Claim implements Clients.
func (NopClients) Claim(context.Context, string) error { return nil }

// PostAll implements Clients.
func (NopClients) PostAll(context.Context, Message) error { return nil }

// OpenWindow implements Clients.
func (NopClients) OpenWindow(context.Context, string) error { return nil }

// ShowNotification implements Notifier.
func (NopClients) ShowNotification(context.Context, Notification) error { return nil }

package statesync

import (
	"context"
	"fmt"
)

// DriverNotification is a request sent by a DriverClient.
type DriverNotification struct {
	// callback receives nil once the node has bootstrapped.
	callback chan error
}

// DriverClient lets other components wait on state sync.
type DriverClient struct {
	notifications chan<- *DriverNotification
}

// ClientNotificationListener is the driver side of a DriverClient.
type ClientNotificationListener struct {
	notifications <-chan *DriverNotification
}

// NewDriverClientAndListener returns a connected client and listener.
func NewDriverClientAndListener() (*DriverClient, *ClientNotificationListener) {
	ch := make(chan *DriverNotification, 10)
	return &DriverClient{notifications: ch}, &ClientNotificationListener{notifications: ch}
}

// NotifyOnceBootstrapped blocks until the node has bootstrapped or ctx is
// done.
func (c *DriverClient) NotifyOnceBootstrapped(ctx context.Context) error {
	notification := &DriverNotification{callback: make(chan error, 1)}

	select {
	case c.notifications <- notification:
	case <-ctx.Done():
		return fmt.Errorf("sending bootstrap notification request: %w", ctx.Err())
	}

	select {
	case err := <-notification.callback:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for bootstrap notification: %w", ctx.Err())
	}
}

// Notifications returns the channel client notifications are delivered on.
func (l *ClientNotificationListener) Notifications() <-chan *DriverNotification {
	return l.notifications
}

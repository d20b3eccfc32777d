// Package gateway defines the outbound text-messaging boundary. Message
// formatting and segmentation are the carrier's concern.
package gateway

import "context"

// Gateway delivers assistant replies to users.
type Gateway interface {
	// SendText sends one message and returns the carrier's delivery id.
	SendText(ctx context.Context, userID, text string) (string, error)
}

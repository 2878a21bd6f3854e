package solana

import "context"

// SignatureSubscriber pushes confirmation notifications for submitted signatures.
type SignatureSubscriber interface {
	// SubscribeSignature delivers at most one notification once the signature
	// reaches the subscription commitment, then closes the channel.
	// The subscription is dropped when ctx is done.
	SubscribeSignature(ctx context.Context, signature string) (<-chan SignatureNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// SignatureNotification represents a signatureSubscribe message.
type SignatureNotification struct {
	Signature string
	Slot      uint64
	Err       interface{} // execution error, nil on success
}

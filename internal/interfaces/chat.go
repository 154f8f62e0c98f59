package interfaces

import "context"

// ChatClient sends one system + user exchange to a text-generation model.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

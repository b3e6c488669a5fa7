package out

import "context"

// AttachmentStore is the document-store abstraction that attachment
// bytes are written to, instead of inlining them in relational columns.
type AttachmentStore interface {
	Put(ctx context.Context, id string, contentType string, data []byte) (storageRef string, err error)
	Get(ctx context.Context, storageRef string) ([]byte, error)
	Delete(ctx context.Context, storageRef string) error
}

// SpamScanner drives the external spamc binary; the wire protocol to
// spamd has no Go ecosystem client in the retrieved examples, so this
// port is backed by os/exec rather than a library (see DESIGN.md).
type SpamScanner interface {
	// Scan pipes message to spamc and returns its raw response headers
	// (including X-Spam-Status).
	Scan(ctx context.Context, message []byte) (response []byte, err error)
}

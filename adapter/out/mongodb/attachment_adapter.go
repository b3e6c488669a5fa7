// Package mongodb implements the document-store adapters for the
// application.
package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/frappe/mail/core/port/out"
	"github.com/frappe/mail/pkg/apperr"
)

const collectionAttachments = "attachments"

// compressionThreshold mirrors the mail-body adapter's cutoff: only
// compress blobs large enough for gzip to pay for its own overhead.
const compressionThreshold = 1024

// AttachmentAdapter implements out.AttachmentStore using MongoDB,
// repurposed from the mail-body cache's compress-on-write document
// shape into a flat blob store keyed by the caller-supplied id.
type AttachmentAdapter struct {
	collection *mongo.Collection
}

func NewAttachmentAdapter(db *mongo.Database) *AttachmentAdapter {
	return &AttachmentAdapter{collection: db.Collection(collectionAttachments)}
}

func (a *AttachmentAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "storage_ref", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type attachmentDocument struct {
	StorageRef     string `bson:"storage_ref"`
	ContentType    string `bson:"content_type"`
	Data           []byte `bson:"data"`
	IsCompressed   bool   `bson:"is_compressed"`
	OriginalSize   int    `bson:"original_size"`
	CompressedSize int    `bson:"compressed_size"`
}

// Put stores data under id, returning id itself as the storage
// reference — the reference the relational Attachment row keeps
// alongside its filename/size/content-type metadata.
func (a *AttachmentAdapter) Put(ctx context.Context, id string, contentType string, data []byte) (string, error) {
	stored := data
	isCompressed := false
	if len(data) > compressionThreshold {
		compressed, err := compress(data)
		if err != nil {
			return "", fmt.Errorf("compress attachment: %w", err)
		}
		stored = compressed
		isCompressed = true
	}

	doc := attachmentDocument{
		StorageRef: id, ContentType: contentType, Data: stored,
		IsCompressed: isCompressed, OriginalSize: len(data), CompressedSize: len(stored),
	}

	opts := options.Replace().SetUpsert(true)
	_, err := a.collection.ReplaceOne(ctx, bson.M{"storage_ref": id}, doc, opts)
	if err != nil {
		return "", fmt.Errorf("save attachment: %w", err)
	}
	return id, nil
}

func (a *AttachmentAdapter) Get(ctx context.Context, storageRef string) ([]byte, error) {
	var doc attachmentDocument
	err := a.collection.FindOne(ctx, bson.M{"storage_ref": storageRef}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.NotFound("attachment")
		}
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	if !doc.IsCompressed {
		return doc.Data, nil
	}
	return decompress(doc.Data)
}

func (a *AttachmentAdapter) Delete(ctx context.Context, storageRef string) error {
	_, err := a.collection.DeleteOne(ctx, bson.M{"storage_ref": storageRef})
	return err
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

var _ out.AttachmentStore = (*AttachmentAdapter)(nil)

// Package mongodb implements storage.ObjectStore using MongoDB GridFS
package mongodb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-ihe/internal/storage"
)

// Store implements storage.ObjectStore on a GridFS bucket. Object keys
// are stored as GridFS file names.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	bucket *gridfs.Bucket
	files  *mongo.Collection

	name      string
	chunkSize int32
	publicURL string
	// owner is false for stores sharing another store's client
	owner bool
}

// Config holds MongoDB connection settings
type Config struct {
	URI            string
	Database       string
	GridFSBucket   string
	ChunkSizeBytes int32
	// PublicURL prefixes keys in URL; empty yields gridfs://{bucket}/{key}
	PublicURL string
}

// NewStore connects to MongoDB and opens the configured bucket
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	// Connect to MongoDB
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	chunkSize := cfg.ChunkSizeBytes
	if chunkSize == 0 {
		chunkSize = 261120 // 255KB
	}
	s := &Store{
		client:    client,
		db:        client.Database(cfg.Database),
		chunkSize: chunkSize,
		publicURL: cfg.PublicURL,
		owner:     true,
	}

	name := cfg.GridFSBucket
	if name == "" {
		name = "documents"
	}
	if err := s.open(ctx, name); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Bucket returns a store on another bucket of the same database. The
// returned store shares the connection; closing it is a no-op.
func (s *Store) Bucket(ctx context.Context, name string) (*Store, error) {
	other := &Store{
		client:    s.client,
		db:        s.db,
		chunkSize: s.chunkSize,
		publicURL: s.publicURL,
	}
	if err := other.open(ctx, name); err != nil {
		return nil, err
	}
	return other, nil
}

func (s *Store) open(ctx context.Context, name string) error {
	bucket, err := gridfs.NewBucket(s.db, options.GridFSBucket().
		SetName(name).
		SetChunkSizeBytes(s.chunkSize))
	if err != nil {
		return fmt.Errorf("creating GridFS bucket: %w", err)
	}
	s.bucket = bucket
	s.files = bucket.GetFilesCollection()
	s.name = name

	// Exists and Get look files up by name
	_, err = s.files.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "filename", Value: 1}, {Key: "uploadDate", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("creating filename index: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	if !s.owner {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Exists reports whether a file named key exists
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.files.CountDocuments(ctx, bson.M{"filename": key}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("looking up %s: %w", key, err)
	}
	return n > 0, nil
}

// Put uploads data as a new file named key
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	uploadOpts := options.GridFSUpload().SetMetadata(bson.M{
		"content_type": contentType,
		"checksum":     storage.Checksum(data),
	})

	if deadline, ok := ctx.Deadline(); ok {
		uploadStream, err := s.bucket.OpenUploadStream(key, uploadOpts)
		if err != nil {
			return fmt.Errorf("opening upload stream: %w", err)
		}
		if err := uploadStream.SetWriteDeadline(deadline); err != nil {
			_ = uploadStream.Abort()
			return fmt.Errorf("setting write deadline: %w", err)
		}
		if _, err := uploadStream.Write(data); err != nil {
			_ = uploadStream.Abort()
			return fmt.Errorf("writing object: %w", err)
		}
		if err := uploadStream.Close(); err != nil {
			return fmt.Errorf("closing upload stream: %w", err)
		}
		return nil
	}

	if _, err := s.bucket.UploadFromStream(key, bytes.NewReader(data), uploadOpts); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	return nil
}

// Get downloads the newest file named key
func (s *Store) Get(ctx context.Context, key string) (*storage.Object, error) {
	downloadStream, err := s.bucket.OpenDownloadStreamByName(key)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("opening download stream: %w", err)
	}
	defer downloadStream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := downloadStream.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("setting read deadline: %w", err)
		}
	}

	data, err := io.ReadAll(downloadStream)
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}

	file := downloadStream.GetFile()
	contentType, _ := file.Metadata.Lookup("content_type").StringValueOK()
	checksum, _ := file.Metadata.Lookup("checksum").StringValueOK()

	return &storage.Object{
		Key:         key,
		ContentType: contentType,
		Data:        data,
		Size:        file.Length,
		Checksum:    checksum,
		UploadedAt:  file.UploadDate,
	}, nil
}

// URL returns the public location of key
func (s *Store) URL(key string) string {
	if s.publicURL != "" {
		return storage.JoinURL(s.publicURL, key)
	}
	return storage.JoinURL("gridfs://"+s.name, key)
}

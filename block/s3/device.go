package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mwantia/kernos/block"
	"github.com/mwantia/kernos/data"
)

// S3Device is a sector store on S3-compatible object storage, one
// object per written sector under a fixed key prefix.
type S3Device struct {
	mu sync.RWMutex

	client     *minio.Client
	bucketName string
	prefix     string
	count      data.Sector
}

func NewS3Device(endpoint, bucketName, accessKey, secretKey string, useSsl bool, count data.Sector) (*S3Device, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSsl,
	})
	if err != nil {
		return nil, err
	}

	return &S3Device{
		client:     client,
		bucketName: bucketName,
		prefix:     "kernos/disk",
		count:      count,
	}, nil
}

func (sd *S3Device) buildKey(sec data.Sector) string {
	return fmt.Sprintf("%s/%08d", sd.prefix, sec)
}

// Returns the identifier name defined for this backend
func (*S3Device) Name() string {
	return "s3"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (sd *S3Device) Open(ctx context.Context) error {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	exists, err := sd.client.BucketExists(ctx, sd.bucketName)
	if err != nil {
		return err
	}

	if !exists {
		return fmt.Errorf("%w: bucket %q not found", data.ErrDeviceBounds, sd.bucketName)
	}

	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (sd *S3Device) Close(ctx context.Context) error {
	return nil
}

func (sd *S3Device) SectorCount() data.Sector {
	return sd.count
}

func (sd *S3Device) ReadSector(ctx context.Context, sec data.Sector, buf []byte) error {
	sd.mu.RLock()
	defer sd.mu.RUnlock()

	if err := block.CheckBounds(sec, sd.count, buf); err != nil {
		return err
	}

	obj, err := sd.client.GetObject(ctx, sd.bucketName, sd.buildKey(sec), minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()

	if _, err := io.ReadFull(obj, buf); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			// Never written, reads as zeroes
			clear(buf)
			return nil
		}
		return err
	}

	return nil
}

func (sd *S3Device) WriteSector(ctx context.Context, sec data.Sector, buf []byte) error {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	if err := block.CheckBounds(sec, sd.count, buf); err != nil {
		return err
	}

	reader := bytes.NewReader(buf[:data.SectorSize])
	_, err := sd.client.PutObject(ctx, sd.bucketName, sd.buildKey(sec), reader,
		int64(data.SectorSize), minio.PutObjectOptions{ContentType: "application/octet-stream"})

	return err
}
